// Package session implements one logical terminal conversation.
//
// A Session couples a process transport, the line discipline and a
// renderer. Every piece of mutable state is owned by a single event-loop
// goroutine: keystrokes, process output, exit notifications and built-in
// command output are all posted to it as events and run in FIFO order.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"miaoda-term/internal/bridge"
	"miaoda-term/internal/discipline"
	"miaoda-term/internal/history"
	"miaoda-term/internal/render"
	"miaoda-term/pkg/code"
	"miaoda-term/pkg/config"
	"miaoda-term/pkg/e"
	"miaoda-term/pkg/protocol"
)

const (
	eventQueueSize = 1024
	// 等待写入子进程的输入块数，超出后丢弃并提示
	inputQueueSize = 256
	// ForceKill 之后仍未退出时放弃等待
	forceKillWait = time.Second
	// 自动重启的最小间隔，防止进程一启动就退出时无限重启
	restartBackoff = time.Second

	// 原生回显模式下清空 shell 当前行 (^U)
	killLine = "\x15"
)

// Transport 会话依赖的进程桥接能力，*bridge.Handle 实现了它
type Transport interface {
	Write(p []byte) error
	OnData(fn func([]byte)) (unsubscribe func())
	OnExit(fn func(bridge.ExitStatus)) (unsubscribe func())
	Resize(cols, rows int) error
	Interrupt() error
	Kill() error
	ForceKill() error
	Done() <-chan struct{}
	Alive() bool
	PID() int
	Shell() string
	Mode() bridge.Mode
	Capabilities() bridge.Capabilities
	Stats() (protocol.ProcessStats, error)
}

// Spawner 启动一个传输层
type Spawner func(opts bridge.Options) (Transport, error)

// BridgeSpawner 使用真实进程
func BridgeSpawner(log *zap.Logger) Spawner {
	return func(opts bridge.Options) (Transport, error) {
		h, err := bridge.Start(opts, log)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
}

// SessionContext 会话的全部外部依赖，显式传入而不是全局单例
type SessionContext struct {
	Spawn    Spawner
	Renderer render.Renderer
	Registry *Registry        // 为空时使用默认内置命令
	Archive  *history.Archive // 为空时不持久化快照
	Logger   *zap.Logger
	Config   config.SessionConfig
	Shell    bridge.Options
}

// State 会话状态快照 (测试与 status 命令使用)
type State struct {
	Line         string
	History      []string
	Cursor       int
	InputEnabled bool
	Processing   bool
	Alive        bool
	Native       bool
	Ended        bool
}

type running struct {
	id     uint64
	name   string
	cancel context.CancelFunc
}

// Session 一个终端会话
type Session struct {
	id       string
	cfg      config.SessionConfig
	spawn    Spawner
	shell    bridge.Options
	registry *Registry
	archive  *history.Archive
	log      *zap.Logger

	render     *render.Tee
	transcript *render.Transcript

	// 以下字段只在事件循环上访问
	history      *discipline.History
	disc         *discipline.Discipline
	transport    Transport
	input        *inputWriter
	unsubs       []func()
	gen          uint64
	inputEnabled bool
	processing   bool
	running      *running
	callSeq      uint64
	promptShown  bool
	lastSpawn    time.Time
	ended        bool
	exitCode     atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc

	events    chan func()
	quit      chan struct{}
	done      chan struct{}
	endedCh   chan struct{}
	endOnce   sync.Once
	closeOnce sync.Once
}

// New 创建会话并启动事件循环，进程由 Start 启动
func New(sc SessionContext) *Session {
	if sc.Logger == nil {
		sc.Logger = zap.NewNop()
	}
	if sc.Spawn == nil {
		sc.Spawn = BridgeSpawner(sc.Logger)
	}
	if sc.Renderer == nil {
		sc.Renderer = render.NewRecorder()
	}
	if sc.Registry == nil {
		sc.Registry = NewRegistry()
		RegisterBuiltins(sc.Registry)
	}
	cfg := sc.Config
	if cfg.LineEnding == "" {
		cfg.LineEnding = "\n"
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = config.Default().Session.KillGrace
	}

	id := uuid.NewString()
	transcript := render.NewTranscript(cfg.MaxTranscript)

	s := &Session{
		id:           id,
		cfg:          cfg,
		spawn:        sc.Spawn,
		shell:        sc.Shell,
		registry:     sc.Registry,
		archive:      sc.Archive,
		log:          sc.Logger.With(zap.String("session_id", id)),
		render:       render.NewTee(sc.Renderer, transcript),
		transcript:   transcript,
		history:      discipline.NewHistory(cfg.HistorySize),
		inputEnabled: true,
		events:       make(chan func(), eventQueueSize),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		endedCh:      make(chan struct{}),
	}
	s.disc = discipline.New(sessionSink{s}, s.history, false)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	go s.loop()
	return s
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.quit:
			return
		}
	}
}

// post 投递事件，会话已关闭时返回 false
func (s *Session) post(fn func()) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.events <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// do 在事件循环上执行 fn 并等待完成，不能在事件循环内调用
func (s *Session) do(fn func()) bool {
	finished := make(chan struct{})
	if !s.post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Registry() *Registry { return s.registry }

func (s *Session) Archive() *history.Archive { return s.archive }

// Register 注册或覆盖内置命令
func (s *Session) Register(name string, h Handler) error {
	return s.registry.Register(name, h)
}

// Ended 会话结束 (exit 命令、进程退出) 时关闭，宿主据此调用 Close
func (s *Session) Ended() <-chan struct{} { return s.endedCh }

// Done 事件循环退出后关闭
func (s *Session) Done() <-chan struct{} { return s.done }

// ExitCode Ended 之后有效
func (s *Session) ExitCode() int {
	return int(s.exitCode.Load())
}

// Start 启动子进程，失败时渲染错误行，会话保持可用
func (s *Session) Start() error {
	var err error
	if !s.do(func() {
		err = s.spawnTransport()
		s.showPrompt()
	}) {
		return e.New(code.SessionClosed, "", nil)
	}
	return err
}

// Feed 输入按键字节
func (s *Session) Feed(p []byte) {
	data := append([]byte(nil), p...)
	s.post(func() { s.feed(data) })
}

// SubmitLine 以编程方式提交一行 (不经过回显)
func (s *Session) SubmitLine(text string) {
	s.post(func() { s.submitLine(text) })
}

// Interrupt 等价于 Ctrl+C
func (s *Session) Interrupt() {
	s.post(s.interrupt)
}

// Resize 调整终端尺寸，管道模式只记录尺寸供下次启动
func (s *Session) Resize(cols, rows int) {
	s.post(func() {
		if cols <= 0 || rows <= 0 {
			return
		}
		s.shell.Cols, s.shell.Rows = cols, rows
		if s.transport == nil || !s.transport.Capabilities().SupportsResize {
			return
		}
		if err := s.transport.Resize(cols, rows); err != nil {
			s.log.Warn("resize failed", zap.Int("cols", cols), zap.Int("rows", rows), zap.Error(err))
		}
	})
}

// State 当前状态快照
func (s *Session) State() State {
	var st State
	s.do(func() {
		st = State{
			Line:         s.disc.Line(),
			History:      s.history.Entries(),
			Cursor:       s.history.Cursor(),
			InputEnabled: s.inputEnabled,
			Processing:   s.processing,
			Alive:        s.transport != nil && s.transport.Alive(),
			Native:       s.disc.Native(),
			Ended:        s.ended,
		}
	})
	return st
}

// Info 会话对外描述
func (s *Session) Info() protocol.SessionInfo {
	var info protocol.SessionInfo
	s.do(func() { info = s.info() })
	return info
}

func (s *Session) info() protocol.SessionInfo {
	info := protocol.SessionInfo{ID: s.id, Shell: s.shell.Shell}
	if t := s.transport; t != nil {
		caps := t.Capabilities()
		info.Shell = t.Shell()
		info.Mode = string(t.Mode())
		info.PID = t.PID()
		info.Alive = t.Alive()
		info.SupportsResize = caps.SupportsResize
		info.SupportsNativeEcho = caps.SupportsNativeEcho
	}
	return info
}

// Transcript 当前屏幕内容
func (s *Session) Transcript() string {
	return s.transcript.String()
}

// Close 取消正在运行的命令，保存 session_end 快照，终止子进程并结束事件循环
// SIGTERM 后等待 kill_grace，仍未退出则 SIGKILL
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.do(s.shutdown)
		close(s.quit)
		<-s.done
		s.cancel()
	})
	return nil
}

func (s *Session) shutdown() {
	if s.running != nil {
		s.running.cancel()
		s.running = nil
		s.processing = false
	}
	if _, err := s.snapshot(history.ReasonSessionEnd); err != nil {
		s.log.Warn("save session snapshot failed", zap.Error(err))
	}
	if t := s.detach(); t != nil {
		stopTransport(context.Background(), t, s.cfg.KillGrace, s.log)
	}
	s.end(int(s.exitCode.Load()))
	s.log.Info("session closed")
}

// ---------------------------------------------------------------
// 以下方法只在事件循环上运行
// ---------------------------------------------------------------

func (s *Session) native() bool {
	return s.disc.Native()
}

func (s *Session) feed(p []byte) {
	if s.ended {
		return
	}
	// 输入被禁用或原生模式下内置命令运行中：只响应 Ctrl+C 与 Enter
	if !s.inputEnabled || (s.processing && s.native()) {
		for _, b := range p {
			switch b {
			case 0x03:
				if !s.native() {
					s.render.Write("^C\r\n")
					s.promptShown = false
				}
				s.interrupt()
			case '\r', '\n':
				if s.inputEnabled {
					s.warn(code.GetMsg(code.SessionBusy))
				}
			}
		}
		return
	}
	s.disc.Feed(p)
}

// handleLine 行规程交上来的一行
func (s *Session) handleLine(line discipline.Line) {
	s.promptShown = false
	if !s.native() {
		s.submitLine(line.Text)
		return
	}

	// 原生回显：shell 已经看到了这些字符，只决定 Enter 发给谁
	text := strings.TrimSpace(line.Text)
	if s.processing {
		s.writeTransport([]byte(killLine))
		s.warn(code.GetMsg(code.SessionBusy))
		return
	}
	if line.Exact && text != "" {
		name, args := splitCommand(text)
		if cmd, ok := s.registry.Lookup(name); ok {
			s.writeTransport([]byte(killLine))
			s.render.Write("\r\n")
			s.history.Add(text)
			s.runBuiltin(cmd, args, text)
			return
		}
	}
	if line.Exact && text != "" {
		s.history.Add(text)
	}
	s.writeTransport([]byte("\r"))
}

func (s *Session) submitLine(text string) {
	if s.ended {
		return
	}
	if !s.inputEnabled {
		return
	}
	if s.processing {
		s.warn(code.GetMsg(code.SessionBusy))
		return
	}

	line := strings.TrimSpace(text)
	if line == "" {
		s.showPrompt()
		return
	}
	s.history.Add(line)

	name, args := splitCommand(line)
	if cmd, ok := s.registry.Lookup(name); ok {
		s.runBuiltin(cmd, args, line)
		return
	}
	s.passThrough(line)
}

func (s *Session) passThrough(line string) {
	if s.transport == nil {
		s.warn(code.GetMsg(code.TransportDead))
		s.showPrompt()
		return
	}
	s.writeTransport([]byte(line + s.cfg.LineEnding))
	s.showPrompt()
}

// writeTransport 交给写协程，不在事件循环上阻塞；失败只渲染警告，不向上返回
func (s *Session) writeTransport(p []byte) {
	if s.transport == nil || s.input == nil || !s.transport.Alive() {
		s.warn(code.GetMsg(code.TransportDead))
		return
	}
	if !s.input.enqueue(append([]byte(nil), p...)) {
		s.log.Warn("process is not reading input, dropping", zap.Int("bytes", len(p)))
		s.warn(code.GetMsg(code.InputOverflow))
	}
}

func (s *Session) writeFailed(err error) {
	if errors.Is(err, bridge.ErrTransportDead) {
		s.warn(code.GetMsg(code.TransportDead))
		return
	}
	s.log.Error("write to process failed", zap.Error(err))
	s.renderError("write", err)
}

func (s *Session) runBuiltin(cmd *Command, args []string, line string) {
	s.callSeq++
	ctx, cancel := context.WithCancel(s.ctx)
	r := &running{id: s.callSeq, name: cmd.Name, cancel: cancel}
	call := &Call{Name: cmd.Name, Args: args, Line: line, s: s, id: r.id, ctx: ctx}

	s.running = r
	s.processing = true
	s.log.Debug("dispatch builtin", zap.String("command", cmd.Name), zap.Strings("args", args))

	go func() {
		err := safeCall(ctx, cmd.Handler, call)
		s.post(func() { s.finishBuiltin(r.id, err) })
	}()
}

// safeCall 处理函数的 panic 转为错误，不影响宿主进程
func safeCall(ctx context.Context, h Handler, call *Call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = e.New(code.BuiltinFailed, fmt.Sprintf("panic: %v", r), nil)
		}
	}()
	return h(ctx, call)
}

func (s *Session) finishBuiltin(id uint64, err error) {
	// 已经被 Ctrl+C 取消，结果丢弃
	if s.running == nil || s.running.id != id {
		return
	}
	r := s.running
	r.cancel()
	s.running = nil
	s.processing = false

	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("builtin failed", zap.String("command", r.name), zap.Error(err))
		s.renderError(r.name, err)
	}
	s.returnToReady()
}

// returnToReady 恢复输入并给出新的提示符
func (s *Session) returnToReady() {
	if s.ended {
		return
	}
	s.inputEnabled = true
	if s.native() {
		// 空行让 shell 重新打印提示符
		s.writeTransport([]byte("\r"))
		return
	}
	s.showPrompt()
}

// interrupt 每次 Ctrl+C 只走一条路径：取消内置命令，或转发给子进程
func (s *Session) interrupt() {
	if r := s.running; r != nil {
		r.cancel()
		s.running = nil
		s.processing = false
		s.log.Debug("builtin interrupted", zap.String("command", r.name))
		if s.native() {
			s.render.Write("^C\r\n")
		}
		s.returnToReady()
		return
	}

	if s.transport == nil || !s.transport.Alive() {
		s.showPrompt()
		return
	}
	// PTY 模式的 ^C 也是一次写入，放到事件循环之外
	t, gen := s.transport, s.gen
	go func() {
		err := t.Interrupt()
		if err == nil {
			return
		}
		s.post(func() {
			if s.gen != gen {
				return
			}
			if errors.Is(err, bridge.ErrTransportDead) {
				s.warn(code.GetMsg(code.TransportDead))
			} else {
				s.renderError("interrupt", err)
			}
		})
	}()
	s.showPrompt()
}

// handleControl 模拟模式下行规程未解释的控制字节
func (s *Session) handleControl(seq []byte) {
	switch {
	case len(seq) == 1 && seq[0] == '\t':
		s.complete()
	case len(seq) == 1 && seq[0] == 0x0c: // Ctrl+L
		s.render.Clear()
		s.promptShown = false
		s.showPrompt()
	default:
		if s.transport != nil && s.transport.Alive() {
			s.writeTransport(seq)
		}
	}
}

// complete 当前行是某个内置命令的唯一前缀时补全
func (s *Session) complete() {
	line := s.disc.Line()
	if line == "" || strings.ContainsAny(line, " \t") {
		return
	}
	matches := s.registry.Complete(line)
	switch len(matches) {
	case 0:
	case 1:
		s.disc.ReplaceLine(matches[0] + " ")
	default:
		s.render.Write("\r\n" + strings.Join(matches, "  ") + "\r\n")
		s.promptShown = false
		s.showPrompt()
	}
}

func (s *Session) showPrompt() {
	if s.ended || s.processing || s.native() || s.promptShown {
		return
	}
	s.render.Write(s.cfg.Prompt + s.disc.Render())
	s.promptShown = true
}

// handleOutput 子进程输出；模拟模式下先清掉提示符行，输出以换行结束时再重画
func (s *Session) handleOutput(p []byte) {
	if s.promptShown {
		s.render.Write(discipline.ClearLine)
		s.promptShown = false
	}
	text := string(p)
	s.render.Write(text)
	if strings.HasSuffix(text, "\n") {
		s.showPrompt()
	}
}

func (s *Session) handleExit(st bridge.ExitStatus) {
	s.detach()
	s.disc.SetNative(false)
	if s.promptShown {
		s.render.Write(discipline.ClearLine)
		s.promptShown = false
	}

	msg := fmt.Sprintf("[process exited with code %d]", st.Code)
	if st.Signal != "" {
		msg = fmt.Sprintf("[process exited with code %d, signal %s]", st.Code, st.Signal)
	}
	s.render.Writeln("\r\n" + render.MutedLine(msg))
	s.log.Info("process exited", zap.Int("code", st.Code), zap.String("signal", st.Signal))
	s.exitCode.Store(int32(st.Code))

	if s.cfg.AutoRestart && time.Since(s.lastSpawn) >= restartBackoff {
		s.render.Writeln(render.InfoLine("restarting shell..."))
		if err := s.spawnTransport(); err == nil {
			s.showPrompt()
			return
		}
	}
	if s.cfg.CloseOnExit {
		if r := s.running; r != nil {
			r.cancel()
			s.running = nil
			s.processing = false
		}
		s.end(st.Code)
		return
	}
	s.showPrompt()
}

// spawnTransport 启动新进程，旧进程必须先终止
func (s *Session) spawnTransport() error {
	if old := s.detach(); old != nil {
		stopTransport(s.ctx, old, s.cfg.KillGrace, s.log)
	}

	t, err := s.spawn(s.shell)
	s.lastSpawn = time.Now()
	if err != nil {
		s.log.Error("spawn failed", zap.String("shell", s.shell.Shell), zap.Error(err))
		s.renderError("spawn", err)
		s.inputEnabled = true
		return err
	}

	s.gen++
	gen := s.gen
	s.transport = t
	s.input = newInputWriter(t, func(err error) {
		s.post(func() {
			if s.gen == gen {
				s.writeFailed(err)
			}
		})
	})
	s.unsubs = []func(){
		t.OnData(func(p []byte) {
			s.post(func() {
				if s.gen == gen {
					s.handleOutput(p)
				}
			})
		}),
		t.OnExit(func(st bridge.ExitStatus) {
			s.post(func() {
				if s.gen == gen {
					s.handleExit(st)
				}
			})
		}),
	}
	s.disc.SetNative(t.Capabilities().SupportsNativeEcho)
	s.promptShown = false

	s.log.Info("transport attached",
		zap.String("shell", t.Shell()),
		zap.String("mode", string(t.Mode())),
		zap.Int("pid", t.PID()))
	return nil
}

// detach 取消订阅并交出当前传输层，之后它的事件都会被忽略
func (s *Session) detach() Transport {
	for _, unsubscribe := range s.unsubs {
		unsubscribe()
	}
	s.unsubs = nil
	if s.input != nil {
		s.input.close()
		s.input = nil
	}
	s.gen++
	t := s.transport
	s.transport = nil
	return t
}

// stopTransport Kill 后等待退出，超过 grace 则 ForceKill
func stopTransport(ctx context.Context, t Transport, grace time.Duration, log *zap.Logger) {
	if !t.Alive() {
		return
	}
	if err := t.Kill(); err != nil {
		log.Warn("kill failed", zap.Error(err))
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-t.Done():
		return
	case <-ctx.Done():
	case <-timer.C:
	}

	if err := t.ForceKill(); err != nil {
		log.Warn("force kill failed", zap.Error(err))
	}
	select {
	case <-t.Done():
	case <-time.After(forceKillWait):
		log.Warn("process did not exit after force kill", zap.Int("pid", t.PID()))
	}
}

// snapshot 把当前屏幕内容存入历史，内容为空或未配置存储时跳过
func (s *Session) snapshot(reason history.Reason) (*history.Entry, error) {
	if s.archive == nil {
		return nil, nil
	}
	content := s.transcript.String()
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	entry, err := s.archive.Append(content, reason)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// end 结束会话：禁用输入并通知宿主
func (s *Session) end(exitCode int) {
	s.ended = true
	s.inputEnabled = false
	s.exitCode.Store(int32(exitCode))
	s.endOnce.Do(func() { close(s.endedCh) })
}

func (s *Session) warn(msg string) {
	s.render.Writeln(render.WarnLine(msg))
}

// renderError 终端上只展示错误码信息，原始错误进日志
func (s *Session) renderError(prefix string, err error) {
	s.render.Writeln(render.ErrorLine(prefix + ": " + messageOf(err)))
}

func messageOf(err error) string {
	var ce *e.CodeError
	if errors.As(err, &ce) {
		return ce.Msg
	}
	return err.Error()
}

// sessionSink 行规程事件回调，运行在事件循环上
type sessionSink struct{ s *Session }

func (k sessionSink) Echo(text string)            { k.s.render.Write(text) }
func (k sessionSink) Submit(line discipline.Line) { k.s.handleLine(line) }
func (k sessionSink) Interrupt()                  { k.s.promptShown = false; k.s.interrupt() }
func (k sessionSink) Control(seq []byte)          { k.s.handleControl(seq) }
func (k sessionSink) Forward(raw []byte)          { k.s.writeTransport(raw) }
