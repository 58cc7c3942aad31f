// Package bridge owns the child process behind a terminal session.
//
// A Handle wraps either a real PTY or a plain stdin/stdout/stderr pipe set.
// The two transports differ only in the Capabilities they report: pipes
// cannot be resized and do not echo input, so callers must emulate echo.
package bridge

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"miaoda-term/pkg/config"

	"go.uber.org/zap"
)

// Mode 传输方式
type Mode string

const (
	ModePTY  Mode = "pty"
	ModePipe Mode = "pipe"
)

const (
	// 进程退出后等待 PTY 缓冲输出读完的时间
	ptyDrainTimeout = 200 * time.Millisecond
	// 管道模式下孙进程占着 stdout 时 Wait 的最长等待
	pipeWaitDelay = 2 * time.Second
	readBufSize   = 4096
)

// Capabilities 传输能力，Session 据此决定是否本地回显
type Capabilities struct {
	SupportsResize     bool
	SupportsNativeEcho bool
}

// ExitStatus 进程退出信息，被信号杀死时 Code 为 -1
type ExitStatus struct {
	Code   int
	Signal string
}

// Options 启动参数
type Options struct {
	Shell string
	Args  []string
	Dir   string
	Env   []string // 追加到当前环境变量之后，KEY=VALUE
	Cols  int
	Rows  int
	Mode  string // config.ModeAuto / ModePTY / ModePipe
}

// Handle 一个子进程 (PTY 或管道)
type Handle struct {
	shell string
	mode  Mode
	caps  Capabilities
	cmd   *exec.Cmd
	log   *zap.Logger

	ptmx  *os.File       // pty 模式
	stdin io.WriteCloser // pipe 模式
	ps    procState      // 平台相关 (Windows Job Object)

	mu       sync.Mutex
	alive    bool
	killed   bool
	exit     *ExitStatus
	nextSub  int
	dataSubs map[int]func([]byte)
	exitSubs map[int]func(ExitStatus)

	deliverMu sync.Mutex // data 回调串行，不会并发进入
	writeMu   sync.Mutex
	exitOnce  sync.Once
	done      chan struct{}
}

// Start 启动解释器进程
// 失败时返回 code.SpawnFailed，错误链上带 *SpawnError，不做重试
func Start(opts Options, log *zap.Logger) (*Handle, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Cols <= 0 {
		opts.Cols = 80
	}
	if opts.Rows <= 0 {
		opts.Rows = 24
	}

	switch opts.Mode {
	case config.ModePipe:
		return startPipe(opts, log)
	case config.ModePTY:
		return startWithPTY(opts, log)
	default:
		h, err := startWithPTY(opts, log)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, errPTYUnavailable) {
			return nil, err
		}
		log.Info("pty unavailable, falling back to pipes", zap.String("shell", opts.Shell), zap.Error(err))
		return startPipe(opts, log)
	}
}

func buildCmd(opts Options) *exec.Cmd {
	cmd := exec.Command(opts.Shell, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = buildEnv(opts.Env)
	return cmd
}

// buildEnv 当前环境 + 额外变量，默认模拟 xterm-256color
func buildEnv(extra []string) []string {
	env := os.Environ()
	hasTERM := false
	for _, kv := range extra {
		if strings.HasPrefix(strings.ToUpper(kv), "TERM=") {
			hasTERM = true
		}
	}
	if !hasTERM {
		env = append(env, "TERM=xterm-256color")
	}
	return append(env, extra...)
}

func newHandle(shell string, mode Mode, cmd *exec.Cmd, log *zap.Logger) *Handle {
	return &Handle{
		shell:    shell,
		mode:     mode,
		cmd:      cmd,
		alive:    true,
		dataSubs: make(map[int]func([]byte)),
		exitSubs: make(map[int]func(ExitStatus)),
		done:     make(chan struct{}),
		log:      log,
	}
}

func startWithPTY(opts Options, log *zap.Logger) (*Handle, error) {
	cmd := buildCmd(opts)
	ptmx, err := startPTY(cmd, opts.Cols, opts.Rows)
	if err != nil {
		if errors.Is(err, errPTYUnavailable) {
			return nil, err
		}
		return nil, newSpawnError(opts.Shell, ModePTY, err)
	}

	h := newHandle(opts.Shell, ModePTY, cmd, log.With(zap.Int("pid", cmd.Process.Pid), zap.String("mode", "pty")))
	h.ptmx = ptmx
	h.caps = Capabilities{SupportsResize: true, SupportsNativeEcho: true}

	readDone := make(chan struct{})
	go h.readLoop(ptmx, readDone)
	go h.waitPTY(readDone)

	h.log.Info("process started", zap.String("shell", opts.Shell))
	return h, nil
}

func startPipe(opts Options, log *zap.Logger) (*Handle, error) {
	cmd := buildCmd(opts)
	prepareProcess(cmd)

	h := newHandle(opts.Shell, ModePipe, cmd, log)
	h.caps = Capabilities{SupportsResize: false, SupportsNativeEcho: false}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, newSpawnError(opts.Shell, ModePipe, err)
	}
	// 非 *os.File 的 Writer 由 exec 内部协程拷贝，Wait 会等拷贝结束，保证退出回调在全部输出之后
	cmd.Stdout = streamWriter{h}
	cmd.Stderr = streamWriter{h}
	cmd.WaitDelay = pipeWaitDelay

	if err := cmd.Start(); err != nil {
		return nil, newSpawnError(opts.Shell, ModePipe, err)
	}
	h.stdin = stdin
	h.log = log.With(zap.Int("pid", cmd.Process.Pid), zap.String("mode", "pipe"))

	if err := attachProcess(&h.ps, cmd.Process.Pid); err != nil {
		h.log.Warn("attach process tree failed", zap.Error(err))
	}

	go h.waitPipe()

	h.log.Info("process started", zap.String("shell", opts.Shell))
	return h, nil
}

type streamWriter struct{ h *Handle }

func (w streamWriter) Write(p []byte) (int, error) {
	w.h.emit(p)
	return len(p), nil
}

func (h *Handle) readLoop(r io.Reader, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, readBufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.emit(buf[:n])
		}
		if err != nil {
			// Linux 上从端全部关闭后返回 EIO，视为正常结束
			return
		}
	}
}

func (h *Handle) waitPTY(readDone <-chan struct{}) {
	err := h.cmd.Wait()

	select {
	case <-readDone:
	case <-time.After(ptyDrainTimeout):
	}
	h.ptmx.Close()
	<-readDone

	h.finish(exitStatusOf(h.cmd.ProcessState, err))
}

func (h *Handle) waitPipe() {
	err := h.cmd.Wait()
	h.finish(exitStatusOf(h.cmd.ProcessState, err))
}

func exitStatusOf(ps *os.ProcessState, err error) ExitStatus {
	if ps == nil {
		return ExitStatus{Code: -1, Signal: errString(err)}
	}
	return ExitStatus{Code: ps.ExitCode(), Signal: signalOf(ps)}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// emit 把输出分发给所有订阅者，按 OS 交付顺序串行调用
func (h *Handle) emit(p []byte) {
	data := make([]byte, len(p))
	copy(data, p)

	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	subs := make([]func([]byte), 0, len(h.dataSubs))
	for _, fn := range h.dataSubs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		fn(data)
	}
}

// finish 标记死亡并恰好触发一次退出回调
func (h *Handle) finish(st ExitStatus) {
	h.exitOnce.Do(func() {
		h.mu.Lock()
		h.alive = false
		h.exit = &st
		subs := make([]func(ExitStatus), 0, len(h.exitSubs))
		for _, fn := range h.exitSubs {
			subs = append(subs, fn)
		}
		h.exitSubs = make(map[int]func(ExitStatus))
		h.mu.Unlock()

		releaseProcess(&h.ps)
		h.log.Info("process exited", zap.Int("code", st.Code), zap.String("signal", st.Signal))

		for _, fn := range subs {
			fn(st)
		}
		close(h.done)
	})
}

// OnData 订阅输出，返回取消订阅函数
func (h *Handle) OnData(fn func([]byte)) (unsubscribe func()) {
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.dataSubs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.dataSubs, id)
		h.mu.Unlock()
	}
}

// OnExit 订阅退出，进程已退出时立即回调
func (h *Handle) OnExit(fn func(ExitStatus)) (unsubscribe func()) {
	h.mu.Lock()
	if h.exit != nil {
		st := *h.exit
		h.mu.Unlock()
		fn(st)
		return func() {}
	}
	id := h.nextSub
	h.nextSub++
	h.exitSubs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.exitSubs, id)
		h.mu.Unlock()
	}
}

// Write 写入进程输入，进程已退出时返回 ErrTransportDead，不会 panic
func (h *Handle) Write(p []byte) error {
	h.mu.Lock()
	if !h.alive {
		h.mu.Unlock()
		return ErrTransportDead
	}
	var w io.Writer = h.stdin
	if h.mode == ModePTY {
		w = h.ptmx
	}
	h.mu.Unlock()

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := w.Write(p); err != nil {
		if !h.Alive() {
			return ErrTransportDead
		}
		return fmt.Errorf("write to process: %w", err)
	}
	return nil
}

// Resize 管道模式为空操作，是否生效看 Capabilities().SupportsResize
func (h *Handle) Resize(cols, rows int) error {
	if !h.caps.SupportsResize || cols <= 0 || rows <= 0 {
		return nil
	}
	if !h.Alive() {
		return ErrTransportDead
	}
	return setSize(h.ptmx, cols, rows)
}

// Interrupt 转发 Ctrl+C
// PTY 模式写入 ^C 交给内核行规程产生 SIGINT，管道模式直接给进程组发 SIGINT
func (h *Handle) Interrupt() error {
	if !h.Alive() {
		return ErrTransportDead
	}
	if h.mode == ModePTY {
		// 不经过 writeMu，不排在尚未写完的大段输入后面
		if _, err := h.ptmx.Write([]byte{0x03}); err != nil {
			if !h.Alive() {
				return ErrTransportDead
			}
			return fmt.Errorf("interrupt: %w", err)
		}
		return nil
	}
	return interruptProcess(h.cmd.Process.Pid)
}

// Kill 请求终止，幂等
// POSIX 给进程组发 SIGTERM，Windows 结束整个 Job (进程树)
func (h *Handle) Kill() error {
	h.mu.Lock()
	if !h.alive || h.killed {
		h.mu.Unlock()
		return nil
	}
	h.killed = true
	h.mu.Unlock()

	h.log.Info("terminating process")
	return terminateProcess(&h.ps, h.cmd.Process)
}

// ForceKill 强制杀死 (SIGKILL)，供调用方在 Kill 超时后使用
func (h *Handle) ForceKill() error {
	if !h.Alive() {
		return nil
	}
	h.log.Warn("force killing process")
	return forceKillProcess(&h.ps, h.cmd.Process)
}

// Done 进程退出且退出回调执行完后关闭
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

// ExitCode 进程未退出时 ok 为 false
func (h *Handle) ExitCode() (code int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exit == nil {
		return 0, false
	}
	return h.exit.Code, true
}

func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

func (h *Handle) Shell() string { return h.shell }

func (h *Handle) Mode() Mode { return h.mode }

func (h *Handle) Capabilities() Capabilities { return h.caps }
