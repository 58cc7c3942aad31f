package protocol

// SessionInfo 会话的对外描述 (status 命令、WebSocket 首包)
type SessionInfo struct {
	ID                 string `json:"id"`
	Shell              string `json:"shell"`
	Mode               string `json:"mode"` // "pty" or "pipe"
	PID                int    `json:"pid"`
	Alive              bool   `json:"alive"`
	SupportsResize     bool   `json:"supports_resize"`
	SupportsNativeEcho bool   `json:"supports_native_echo"`
}

// ProcessStats 子进程资源占用
type ProcessStats struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Children   int     `json:"children"`
	CreateTime int64   `json:"create_time"` // unix 毫秒
}
