package code

// ====================================================
// 错误码定义
// ====================================================

const (
	// 0: 成功
	Success = 0

	// 10xxx: 通用错误
	ServerError  = 10001
	ParamError   = 10002
	InvalidJSON  = 10006
	ConfigError  = 10007
	NotSupported = 10008
	Unauthorized = 10009

	// 20xxx: 进程桥接
	SpawnFailed   = 20001
	TransportDead = 20002
	SignalFailed  = 20003
	ResizeFailed  = 20004
	InputOverflow = 20005

	// 30xxx: 会话 & 内置命令
	BuiltinFailed  = 30001
	UnknownCommand = 30002
	InvalidCommand = 30003 // 注册时校验失败
	SessionBusy    = 30004
	SessionClosed  = 30005
	Interrupted    = 30006

	// 40xxx: 历史记录持久化
	HistoryNotFound = 40001
	StoreFailed     = 40002
	StoreCorrupted  = 40003

	// 50xxx: 探测
	ProbeTimeout = 50001
)

// ====================================================
// 错误信息映射
// ====================================================

var Msg = map[int]string{
	Success:      "ok",
	ServerError:  "internal error",
	ParamError:   "invalid arguments",
	InvalidJSON:  "invalid JSON",
	ConfigError:  "invalid configuration",
	NotSupported: "operation not supported by transport",
	Unauthorized: "unauthorized",

	SpawnFailed:   "failed to start process",
	TransportDead: "process is not running",
	SignalFailed:  "failed to signal process",
	ResizeFailed:  "failed to resize terminal",
	InputOverflow: "process is not reading input, keystrokes dropped",

	BuiltinFailed:  "command failed",
	UnknownCommand: "unknown command",
	InvalidCommand: "invalid command registration",
	SessionBusy:    "busy, wait for the current command or press Ctrl+C",
	SessionClosed:  "session closed",
	Interrupted:    "interrupted",

	HistoryNotFound: "history entry not found",
	StoreFailed:     "history store failure",
	StoreCorrupted:  "history store data is corrupted",

	ProbeTimeout: "target not ready",
}

// GetMsg 获取错误码对应的默认信息
func GetMsg(code int) string {
	msg, ok := Msg[code]
	if ok {
		return msg
	}
	return Msg[ServerError]
}
