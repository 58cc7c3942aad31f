package session_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miaoda-term/internal/bridge"
	"miaoda-term/internal/history"
	"miaoda-term/internal/render"
	"miaoda-term/internal/session"
	"miaoda-term/pkg/config"
	"miaoda-term/pkg/protocol"
)

// fakeTransport 内存中的进程，记录写入并可以手动产生输出和退出
type fakeTransport struct {
	mu         sync.Mutex
	native     bool
	alive      bool
	writes     []string
	interrupts int
	kills      int
	nextSub    int
	dataSubs   map[int]func([]byte)
	exitSubs   map[int]func(bridge.ExitStatus)
	exitStatus *bridge.ExitStatus
	done       chan struct{}

	// stalled 不为空时 Write 一直阻塞，模拟不读 stdin 的子进程
	stalled chan struct{}
}

func newFakeTransport(native bool) *fakeTransport {
	return &fakeTransport{
		native:   native,
		alive:    true,
		dataSubs: make(map[int]func([]byte)),
		exitSubs: make(map[int]func(bridge.ExitStatus)),
		done:     make(chan struct{}),
	}
}

func (f *fakeTransport) Write(p []byte) error {
	f.mu.Lock()
	stalled := f.stalled
	f.mu.Unlock()
	if stalled != nil {
		select {
		case <-stalled:
		case <-f.done:
			return bridge.ErrTransportDead
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.alive {
		return bridge.ErrTransportDead
	}
	f.writes = append(f.writes, string(p))
	return nil
}

func (f *fakeTransport) OnData(fn func([]byte)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.dataSubs[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.dataSubs, id)
		f.mu.Unlock()
	}
}

func (f *fakeTransport) OnExit(fn func(bridge.ExitStatus)) func() {
	f.mu.Lock()
	if f.exitStatus != nil {
		st := *f.exitStatus
		f.mu.Unlock()
		fn(st)
		return func() {}
	}
	id := f.nextSub
	f.nextSub++
	f.exitSubs[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.exitSubs, id)
		f.mu.Unlock()
	}
}

func (f *fakeTransport) Resize(cols, rows int) error { return nil }

func (f *fakeTransport) Interrupt() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.alive {
		return bridge.ErrTransportDead
	}
	f.interrupts++
	return nil
}

func (f *fakeTransport) Kill() error {
	f.mu.Lock()
	f.kills++
	alive := f.alive
	f.mu.Unlock()
	if alive {
		go f.exit(-1)
	}
	return nil
}

func (f *fakeTransport) ForceKill() error { return f.Kill() }

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeTransport) PID() int      { return 4242 }
func (f *fakeTransport) Shell() string { return "/bin/fake" }

func (f *fakeTransport) Mode() bridge.Mode {
	if f.native {
		return bridge.ModePTY
	}
	return bridge.ModePipe
}

func (f *fakeTransport) Capabilities() bridge.Capabilities {
	return bridge.Capabilities{SupportsResize: f.native, SupportsNativeEcho: f.native}
}

func (f *fakeTransport) Stats() (protocol.ProcessStats, error) {
	return protocol.ProcessStats{PID: 4242, RSSBytes: 1 << 20}, nil
}

func (f *fakeTransport) emit(text string) {
	f.mu.Lock()
	var subs []func([]byte)
	for _, fn := range f.dataSubs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn([]byte(text))
	}
}

func (f *fakeTransport) exit(code int) {
	f.mu.Lock()
	if !f.alive {
		f.mu.Unlock()
		return
	}
	f.alive = false
	st := bridge.ExitStatus{Code: code}
	f.exitStatus = &st
	var subs []func(bridge.ExitStatus)
	for _, fn := range f.exitSubs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
	close(f.done)
}

// stall 之后的写入阻塞到返回的函数被调用或进程退出
func (f *fakeTransport) stall() (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.stalled = ch
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.stalled = nil
			f.mu.Unlock()
			close(ch)
		})
	}
}

func (f *fakeTransport) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeTransport) Interrupts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupts
}

// harness 一个使用假进程的会话
type harness struct {
	t         *testing.T
	s         *session.Session
	rec       *render.Recorder
	archive   *history.Archive
	mu        sync.Mutex
	spawned   []*fakeTransport
	native    bool
	spawnErr  error
	sessionCf config.SessionConfig
}

type option func(*harness)

func native() option { return func(h *harness) { h.native = true } }

func spawnError(err error) option { return func(h *harness) { h.spawnErr = err } }

func withConfig(fn func(*config.SessionConfig)) option {
	return func(h *harness) { fn(&h.sessionCf) }
}

func newHarness(t *testing.T, registry *session.Registry, opts ...option) *harness {
	h := &harness{
		t:         t,
		rec:       render.NewRecorder(),
		archive:   history.NewArchive(history.NewMemoryStore(), 10),
		sessionCf: config.Default().Session,
	}
	h.sessionCf.CloseOnExit = false
	for _, opt := range opts {
		opt(h)
	}

	h.s = session.New(session.SessionContext{
		Spawn: func(opts bridge.Options) (session.Transport, error) {
			if h.spawnErr != nil {
				return nil, h.spawnErr
			}
			f := newFakeTransport(h.native)
			h.mu.Lock()
			h.spawned = append(h.spawned, f)
			h.mu.Unlock()
			return f, nil
		},
		Renderer: h.rec,
		Registry: registry,
		Archive:  h.archive,
		Config:   h.sessionCf,
		Shell:    bridge.Options{Shell: "/bin/fake"},
	})
	t.Cleanup(func() { h.s.Close() })
	return h
}

func (h *harness) start() *fakeTransport {
	require.NoError(h.t, h.s.Start())
	return h.transport()
}

func (h *harness) transport() *fakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(h.t, h.spawned)
	return h.spawned[len(h.spawned)-1]
}

func (h *harness) spawnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.spawned)
}

// idle 等待事件循环处理完之前投递的事件
func (h *harness) idle() session.State {
	return h.s.State()
}

func (h *harness) waitText(substr string) {
	require.Eventually(h.t, func() bool {
		return strings.Contains(h.rec.Text(), substr)
	}, 3*time.Second, 5*time.Millisecond, "screen never showed %q, got %q", substr, h.rec.Text())
}

// waitWrites 写入在独立协程里完成，按块比较
func (h *harness) waitWrites(f *fakeTransport, want ...string) {
	require.Eventually(h.t, func() bool {
		return assert.ObjectsAreEqual(want, f.Writes())
	}, 3*time.Second, 5*time.Millisecond, "process got %q, want %q", f.Writes(), want)
}

func (h *harness) waitWritten(f *fakeTransport, want string) {
	require.Eventually(h.t, func() bool {
		return strings.Join(f.Writes(), "") == want
	}, 3*time.Second, 5*time.Millisecond, "process got %q, want %q", strings.Join(f.Writes(), ""), want)
}

func (h *harness) waitInterrupts(f *fakeTransport, n int) {
	require.Eventually(h.t, func() bool {
		return f.Interrupts() == n
	}, 3*time.Second, 5*time.Millisecond)
}

func (h *harness) waitReady() session.State {
	var st session.State
	require.Eventually(h.t, func() bool {
		st = h.s.State()
		return !st.Processing
	}, 3*time.Second, 5*time.Millisecond)
	return st
}
