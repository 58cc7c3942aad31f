package render

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// Socket 把显示内容作为二进制帧发给 WebSocket 前端 (xterm.js)
// gorilla/websocket 不允许并发写，所有写入串行化
type Socket struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	log    *zap.Logger
	closed bool
}

func NewSocket(conn *websocket.Conn, log *zap.Logger) *Socket {
	if log == nil {
		log = zap.NewNop()
	}
	return &Socket{conn: conn, log: log}
}

func (s *Socket) Write(text string) {
	if text == "" {
		return
	}
	s.send(websocket.BinaryMessage, []byte(ToCRLF(text)))
}

func (s *Socket) Writeln(text string) {
	s.Write(text + "\n")
}

func (s *Socket) Clear() {
	s.send(websocket.BinaryMessage, []byte(ClearScreen))
}

// SendControl 发送文本控制帧 (session / exit / error)
func (s *Socket) SendControl(msg []byte) {
	s.send(websocket.TextMessage, msg)
}

// send 写失败后标记关闭，之后的输出直接丢弃
func (s *Socket) send(messageType int, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(messageType, data); err != nil {
		s.closed = true
		s.log.Debug("websocket write failed", zap.Error(err))
	}
}
