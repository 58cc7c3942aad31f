//go:build !windows

package bridge_test

import (
	"bytes"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miaoda-term/internal/bridge"
	"miaoda-term/pkg/code"
	"miaoda-term/pkg/config"
	"miaoda-term/pkg/e"
)

type collector struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *collector) add(p []byte) {
	c.mu.Lock()
	c.buf.Write(p)
	c.mu.Unlock()
}

func (c *collector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func requireShell(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

func startSh(t *testing.T, mode string, script string) *bridge.Handle {
	requireShell(t)
	h, err := bridge.Start(bridge.Options{
		Shell: "/bin/sh",
		Args:  []string{"-c", script},
		Mode:  mode,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { h.ForceKill() })
	return h
}

func waitExit(t *testing.T, h *bridge.Handle) {
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestPipeStdoutAndStderr(t *testing.T) {
	h := startSh(t, config.ModePipe, "read line; echo out:$line; echo err:$line 1>&2; exit 3")

	assert.Equal(t, bridge.ModePipe, h.Mode())
	assert.False(t, h.Capabilities().SupportsResize)
	assert.False(t, h.Capabilities().SupportsNativeEcho)

	out := &collector{}
	h.OnData(out.add)

	exits := make(chan bridge.ExitStatus, 2)
	h.OnExit(func(st bridge.ExitStatus) { exits <- st })

	require.NoError(t, h.Write([]byte("hello\n")))
	waitExit(t, h)

	st := <-exits
	assert.Equal(t, 3, st.Code)
	// 退出回调在全部输出之后
	assert.Contains(t, out.String(), "out:hello")
	assert.Contains(t, out.String(), "err:hello")

	code, ok := h.ExitCode()
	assert.True(t, ok)
	assert.Equal(t, 3, code)
	assert.False(t, h.Alive())
}

func TestWriteAfterExit(t *testing.T) {
	h := startSh(t, config.ModePipe, "exit 0")
	waitExit(t, h)

	done := make(chan error, 1)
	go func() { done <- h.Write([]byte("ls\n")) }()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, bridge.ErrTransportDead))
		assert.Equal(t, code.TransportDead, e.CodeOf(err))
	case <-time.After(time.Second):
		t.Fatal("write on dead transport blocked")
	}
	assert.ErrorIs(t, h.Interrupt(), bridge.ErrTransportDead)
}

func TestKillIsIdempotent(t *testing.T) {
	h := startSh(t, config.ModePipe, "sleep 30")

	var mu sync.Mutex
	calls := 0
	h.OnExit(func(bridge.ExitStatus) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	require.NoError(t, h.Kill())
	require.NoError(t, h.Kill())
	waitExit(t, h)
	require.NoError(t, h.Kill())
	require.NoError(t, h.ForceKill())

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()

	code, _ := h.ExitCode()
	assert.Equal(t, -1, code)
}

func TestOnExitAfterExitFiresImmediately(t *testing.T) {
	h := startSh(t, config.ModePipe, "exit 7")
	waitExit(t, h)

	var got bridge.ExitStatus
	h.OnExit(func(st bridge.ExitStatus) { got = st })
	assert.Equal(t, 7, got.Code)
}

func TestUnsubscribe(t *testing.T) {
	h := startSh(t, config.ModePipe, "read a; echo first; read b; echo second")

	first := &collector{}
	second := &collector{}
	unsubscribe := h.OnData(first.add)
	h.OnData(second.add)

	require.NoError(t, h.Write([]byte("x\n")))
	require.Eventually(t, func() bool { return first.String() != "" }, 3*time.Second, 10*time.Millisecond)

	unsubscribe()
	require.NoError(t, h.Write([]byte("y\n")))
	waitExit(t, h)

	assert.NotContains(t, first.String(), "second")
	assert.Contains(t, second.String(), "second")
}

func TestPipeInterrupt(t *testing.T) {
	h := startSh(t, config.ModePipe, "sleep 30")
	require.NoError(t, h.Interrupt())
	waitExit(t, h)
	assert.False(t, h.Alive())
}

func TestResizeIsNoopOnPipe(t *testing.T) {
	h := startSh(t, config.ModePipe, "sleep 30")
	assert.NoError(t, h.Resize(120, 40))
}

func TestSpawnFailure(t *testing.T) {
	_, err := bridge.Start(bridge.Options{Shell: "/definitely/not/a/shell", Mode: config.ModePipe}, nil)
	require.Error(t, err)
	assert.Equal(t, code.SpawnFailed, e.CodeOf(err))

	var spawnErr *bridge.SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, "/definitely/not/a/shell", spawnErr.Shell)
}

func TestPTYEcho(t *testing.T) {
	requireShell(t)
	h, err := bridge.Start(bridge.Options{Shell: "/bin/sh", Mode: config.ModePTY, Cols: 100, Rows: 30}, nil)
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	defer h.ForceKill()

	assert.Equal(t, bridge.ModePTY, h.Mode())
	assert.True(t, h.Capabilities().SupportsResize)
	assert.True(t, h.Capabilities().SupportsNativeEcho)
	assert.NoError(t, h.Resize(120, 40))

	out := &collector{}
	h.OnData(out.add)

	require.NoError(t, h.Write([]byte("echo pty-$((1+2))\r")))
	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("pty-3"))
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, h.Kill())
	waitExit(t, h)
}

func TestStats(t *testing.T) {
	h := startSh(t, config.ModePipe, "sleep 30")
	st, err := h.Stats()
	require.NoError(t, err)
	assert.Equal(t, h.PID(), st.PID)
}

func TestBlockedWriteReturnsAfterKill(t *testing.T) {
	h := startSh(t, config.ModePipe, "sleep 30")

	// 管道缓冲写满后 Write 阻塞
	done := make(chan error, 1)
	go func() { done <- h.Write(bytes.Repeat([]byte("z"), 1<<20)) }()
	select {
	case err := <-done:
		t.Fatalf("write to a child that never reads returned early: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, h.Kill())
	waitExit(t, h)
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("write still blocked after the process exited")
	}
}
