// Package server hosts terminal sessions over websockets.
//
// Each websocket connection mounts one Session. Binary frames carry raw
// keystrokes; text frames carry JSON control messages (resize, input).
// Session output goes back as binary frames, and a final exit frame is
// sent when the session ends.
package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"miaoda-term/internal/history"
	"miaoda-term/internal/render"
	"miaoda-term/internal/session"
	"miaoda-term/internal/shell"
	"miaoda-term/pkg/code"
	"miaoda-term/pkg/config"
	"miaoda-term/pkg/e"
	"miaoda-term/pkg/protocol"
	"miaoda-term/pkg/response"
	"miaoda-term/pkg/utils"
)

// Server 终端 WebSocket 服务
type Server struct {
	cfg     *config.TermConfig
	archive *history.Archive
	log     *zap.Logger

	// Spawn 为空时使用真实进程，测试可以替换
	Spawn session.Spawner

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu       sync.Mutex
	sessions map[string]*session.Session
	// active 已占用的会话名额，包含尚在握手中的连接
	active int
}

func New(cfg *config.TermConfig, archive *history.Archive, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		archive:  archive,
		log:      log,
		sessions: make(map[string]*session.Session),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin 浏览器跨站页面不能打开终端
// 没有 Origin 的非浏览器客户端、同源页面以及 allowed_origins 中的来源放行
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err == nil && u.Host != "" && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	origin = strings.TrimSuffix(origin, "/")
	for _, allowed := range s.cfg.Server.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin) {
			return true
		}
	}
	s.log.Warn("rejected cross-origin terminal connection",
		zap.String("origin", origin), zap.String("client", utils.ClientIP(r)))
	return false
}

// Handler 路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/terminal/ws", s.handleTerminal)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	// 中间件由外到内: 超时 -> 鉴权
	var h http.Handler = mux
	h = AuthMiddleware(s.cfg.Server.Token)(h)
	h = TimeoutMiddleware(s.cfg.Server.RequestTimeout, s.log)(h)
	return h
}

// ListenAndServe 阻塞直到 Shutdown
func (s *Server) ListenAndServe() error {
	s.httpSrv = &http.Server{
		Addr:    s.cfg.Server.Listen,
		Handler: s.Handler(),
		// 必须为 0，否则 WebSocket 会被断开；REST 超时由中间件控制
		ReadTimeout:  0,
		WriteTimeout: 0,
	}
	s.log.Info("terminal server started", zap.String("listen", s.cfg.Server.Listen))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 停止接受连接并关闭所有会话
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	s.mu.Lock()
	list := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range list {
		wg.Add(1)
		go func(sess *session.Session) {
			defer wg.Done()
			sess.Close()
		}(sess)
	}
	wg.Wait()
	return err
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	list := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess)
	}
	s.mu.Unlock()

	infos := make([]protocol.SessionInfo, 0, len(list))
	for _, sess := range list {
		infos = append(infos, sess.Info())
	}
	response.Success(w, infos)
}

// handleTerminal 处理终端 WebSocket
func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	// 1. 访问控制
	if !s.cfg.Server.AllowRemote && !utils.IsLoopback(r) {
		s.log.Warn("rejected remote terminal connection", zap.String("client", utils.ClientIP(r)))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if !s.acquire() {
		response.Error(w, e.New(code.SessionBusy, "too many terminal sessions", nil))
		return
	}
	defer s.release()

	// 2. 升级 WebSocket，Origin 不符时 upgrader 直接返回 403
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := s.log.With(zap.String("client", utils.ClientIP(r)))
	sock := render.NewSocket(conn, log)

	// 3. 创建会话，窗口尺寸可以由 query 带上
	opts := shell.Options(s.cfg.Shell, runtime.GOOS)
	if cols, rows := queryInt(r, "cols"), queryInt(r, "rows"); cols > 0 && rows > 0 {
		opts.Cols, opts.Rows = cols, rows
	}
	sess := session.New(session.SessionContext{
		Spawn:    s.Spawn,
		Renderer: sock,
		Archive:  s.archive,
		Logger:   log,
		Config:   s.cfg.Session,
		Shell:    opts,
	})
	s.add(sess)
	defer func() {
		sess.Close()
		s.remove(sess.ID())
	}()

	// 4. 启动进程；失败时错误已渲染到终端，会话继续可用
	if err := sess.Start(); err != nil {
		log.Warn("shell start failed", zap.String("session_id", sess.ID()), zap.Error(err))
	}
	if msg, err := protocol.NewSessionMessage(sess.Info()); err == nil {
		sock.SendControl(msg)
	}
	log.Info("terminal session opened", zap.String("session_id", sess.ID()))

	// 5. WebSocket -> Session (输入 & 控制)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			mt, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch mt {
			case websocket.BinaryMessage:
				sess.Feed(message)
			case websocket.TextMessage:
				s.handleControl(sess, message, log)
			}
		}
	}()

	// 6. 等待任一方结束
	select {
	case <-readDone:
		log.Info("terminal client disconnected", zap.String("session_id", sess.ID()))
	case <-sess.Ended():
		if msg, err := protocol.NewExitMessage(sess.ExitCode()); err == nil {
			sock.SendControl(msg)
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
			time.Now().Add(time.Second))
		log.Info("terminal session ended", zap.String("session_id", sess.ID()), zap.Int("code", sess.ExitCode()))
	}
}

// handleControl 文本控制帧，解析失败的帧直接丢弃
func (s *Server) handleControl(sess *session.Session, raw []byte, log *zap.Logger) {
	msg, err := protocol.ParseTerminalMessage(raw)
	if err != nil {
		log.Debug("invalid control frame", zap.Error(err))
		return
	}
	switch msg.Type {
	case protocol.TypeResize:
		sess.Resize(msg.Cols, msg.Rows)
	case protocol.TypeInput:
		sess.Feed([]byte(msg.Data))
	default:
		log.Debug("unknown control frame", zap.String("type", msg.Type))
	}
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}

func (s *Server) add(sess *session.Session) {
	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()
}

func (s *Server) remove(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// acquire 检查并占用一个会话名额，与 release 成对使用
func (s *Server) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active >= s.cfg.Server.MaxSessions {
		return false
	}
	s.active++
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
}

func (s *Server) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
