package bridge

import (
	"errors"
	"fmt"

	"miaoda-term/pkg/code"
	"miaoda-term/pkg/e"
)

// ErrTransportDead 进程已退出后的写入/信号
var ErrTransportDead = e.New(code.TransportDead, "", nil)

// errPTYUnavailable 平台或环境无法分配 PTY，auto 模式据此降级为管道
var errPTYUnavailable = errors.New("pty unavailable")

// SpawnError 可执行文件无法启动 (不存在、无权限)
type SpawnError struct {
	Shell string
	Mode  Mode
	Err   error
}

func (s *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%s): %v", s.Shell, s.Mode, s.Err)
}

func (s *SpawnError) Unwrap() error {
	return s.Err
}

func newSpawnError(shell string, mode Mode, err error) error {
	return e.New(code.SpawnFailed, "failed to start "+shell, &SpawnError{Shell: shell, Mode: mode, Err: err})
}
