package protocol

import "encoding/json"

// 终端 WebSocket 控制帧类型
// 二进制帧始终是原始字节流 (前端 -> 按键, 后端 -> 输出)
const (
	TypeInput   = "input"   // 前端 -> 后端 (文本形式的按键)
	TypeResize  = "resize"  // 前端 -> 后端
	TypeSession = "session" // 后端 -> 前端 (连接建立后首包)
	TypeExit    = "exit"    // 后端 -> 前端 (会话结束)
	TypeError   = "error"   // 后端 -> 前端
)

// TerminalMessage 文本控制帧
type TerminalMessage struct {
	Type string `json:"type"`
	Rows int    `json:"rows,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Data string `json:"data,omitempty"`
	Code int    `json:"code,omitempty"`
}

// ParseTerminalMessage 解析文本控制帧
func ParseTerminalMessage(raw []byte) (*TerminalMessage, error) {
	var msg TerminalMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// NewSessionMessage 会话建立通知，Data 为会话信息 JSON
func NewSessionMessage(info SessionInfo) ([]byte, error) {
	data, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	return json.Marshal(TerminalMessage{Type: TypeSession, Data: string(data)})
}

// NewExitMessage 会话结束通知
func NewExitMessage(exitCode int) ([]byte, error) {
	return json.Marshal(TerminalMessage{Type: TypeExit, Code: exitCode})
}
