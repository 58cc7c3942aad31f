package config

import (
	"time"
)

// TermConfig miaoda-term 的完整配置
type TermConfig struct {
	Server  ServerConfig  `mapstructure:"server"`
	Shell   ShellConfig   `mapstructure:"shell"`
	Session SessionConfig `mapstructure:"session"`
	History HistoryConfig `mapstructure:"history"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Listen         string        `mapstructure:"listen"`          // 为空时运行控制台模式
	RequestTimeout time.Duration `mapstructure:"request_timeout"` // 仅作用于 REST 接口
	Token          string        `mapstructure:"token"`           // 非空时要求 Bearer Token 或 ?token=
	AllowRemote    bool          `mapstructure:"allow_remote"`    // 默认只接受本机连接
	MaxSessions    int           `mapstructure:"max_sessions"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"` // 浏览器 Origin 白名单，"*" 表示不限；同源总是允许
}

type ShellConfig struct {
	Path string            `mapstructure:"path"` // 为空时自动探测
	Args []string          `mapstructure:"args"`
	Mode string            `mapstructure:"mode"` // "auto", "pty" or "pipe"
	Dir  string            `mapstructure:"dir"`
	Env  map[string]string `mapstructure:"env"`
	Cols int               `mapstructure:"cols"`
	Rows int               `mapstructure:"rows"`
}

type SessionConfig struct {
	Prompt        string        `mapstructure:"prompt"`
	LineEnding    string        `mapstructure:"line_ending"`  // 透传给子进程的行结束符
	HistorySize   int           `mapstructure:"history_size"` // 内存中命令历史上限
	KillGrace     time.Duration `mapstructure:"kill_grace"`   // Close 时 SIGTERM 到 SIGKILL 的等待
	AutoRestart   bool          `mapstructure:"auto_restart"`
	CloseOnExit   bool          `mapstructure:"close_on_exit"`  // 子进程退出 (且不自动重启) 时结束会话
	MaxTranscript int           `mapstructure:"max_transcript"` // 屏幕内容快照上限 (字节)
}

type HistoryConfig struct {
	Backend    string      `mapstructure:"backend"` // "sqlite", "local", "minio", "memory"
	DBPath     string      `mapstructure:"db_path"`
	Dir        string      `mapstructure:"dir"`
	MaxEntries int         `mapstructure:"max_entries"`
	Minio      MinioConfig `mapstructure:"minio"`
}

type MinioConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	AK       string `mapstructure:"ak"`
	SK       string `mapstructure:"sk"`
	Bucket   string `mapstructure:"bucket"`
	UseSSL   bool   `mapstructure:"use_ssl"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"` // "debug", "info", "warn", "error"
	Development bool   `mapstructure:"development"`
}

const (
	ModeAuto = "auto"
	ModePTY  = "pty"
	ModePipe = "pipe"

	BackendSQLite = "sqlite"
	BackendLocal  = "local"
	BackendMinio  = "minio"
	BackendMemory = "memory"
)

// Default 获取默认配置 (与 loader 中的 SetDefault 保持一致)
func Default() TermConfig {
	return TermConfig{
		Server: ServerConfig{
			RequestTimeout: 10 * time.Second,
			MaxSessions:    16,
		},
		Shell: ShellConfig{
			Mode: ModeAuto,
			Cols: 80,
			Rows: 24,
		},
		Session: SessionConfig{
			Prompt:        "$ ",
			LineEnding:    "\n",
			HistorySize:   100,
			KillGrace:     3 * time.Second,
			CloseOnExit:   true,
			MaxTranscript: 256 * 1024,
		},
		History: HistoryConfig{
			Backend:    BackendSQLite,
			DBPath:     "miaoda_history.db",
			Dir:        "history",
			MaxEntries: 100,
			Minio: MinioConfig{
				Endpoint: "127.0.0.1:9000",
				AK:       "minioadmin",
				SK:       "minioadmin",
				Bucket:   "miaoda-history",
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
