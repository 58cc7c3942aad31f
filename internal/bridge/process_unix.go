//go:build !windows

package bridge

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"miaoda-term/pkg/code"
	"miaoda-term/pkg/e"
)

type procState struct{}

// prepareProcess 管道模式下让子进程成为新进程组的 Leader
// PTY 模式由 Setsid 完成，两者不能同时设置 (setpgid 对会话首进程返回 EPERM)
func prepareProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

func attachProcess(ps *procState, pid int) error {
	return nil
}

func releaseProcess(ps *procState) {}

func interruptProcess(pid int) error {
	if err := signalGroup(pid, unix.SIGINT); err != nil {
		return e.New(code.SignalFailed, "", err)
	}
	return nil
}

func terminateProcess(ps *procState, p *os.Process) error {
	if err := signalGroup(p.Pid, unix.SIGTERM); err != nil {
		return e.New(code.SignalFailed, "", err)
	}
	return nil
}

func forceKillProcess(ps *procState, p *os.Process) error {
	if err := signalGroup(p.Pid, unix.SIGKILL); err != nil {
		return e.New(code.SignalFailed, "", err)
	}
	return nil
}

// signalGroup 先发给进程组 (负数 PID)，失败再降级为单个进程
// ESRCH 说明已经不存在，视为成功
func signalGroup(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}

	err := unix.Kill(-pid, sig)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}

	errSingle := unix.Kill(pid, sig)
	if errSingle == nil || errors.Is(errSingle, unix.ESRCH) {
		return nil
	}
	return fmt.Errorf("signal group failed: %v, signal single failed: %v", err, errSingle)
}

func signalOf(ps *os.ProcessState) string {
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	return unix.SignalName(ws.Signal())
}
