//go:build !windows

package bridge

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// startPTY 分配 PTY 并以从端作为子进程的标准输入输出启动
// 分配失败包装为 errPTYUnavailable，进程启动失败原样返回
func startPTY(cmd *exec.Cmd, cols, rows int) (*os.File, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errPTYUnavailable, err)
	}
	// 子进程持有自己的副本，父进程这边用完即关
	defer tty.Close()

	if err := setSize(ptmx, cols, rows); err != nil {
		ptmx.Close()
		return nil, fmt.Errorf("%w: %v", errPTYUnavailable, err)
	}

	cmd.Stdin, cmd.Stdout, cmd.Stderr = tty, tty, tty
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	// 新会话 + 控制终端，进程组 ID 等于 PID，Kill 时 -pid 才能覆盖整棵树
	cmd.SysProcAttr.Setsid = true
	cmd.SysProcAttr.Setctty = true

	if err := cmd.Start(); err != nil {
		ptmx.Close()
		return nil, err
	}
	return ptmx, nil
}

func setSize(ptmx *os.File, cols, rows int) error {
	return pty.Setsize(ptmx, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}
