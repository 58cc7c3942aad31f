package bridge

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"

	"miaoda-term/pkg/code"
	"miaoda-term/pkg/e"
)

// procState 持有 Job Object 句柄直到进程退出，关闭句柄前 Job 一直有效
type procState struct {
	job windows.Handle
}

// prepareProcess 设置 Windows 进程标志
func prepareProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// attachProcess 将进程加入匿名 Job Object
func attachProcess(ps *procState, pid int) error {
	hJob, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return fmt.Errorf("create job failed: %v", err)
	}

	hProcess, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		windows.CloseHandle(hJob)
		return fmt.Errorf("open process failed: %v", err)
	}
	defer windows.CloseHandle(hProcess)

	if err := windows.AssignProcessToJobObject(hJob, hProcess); err != nil {
		windows.CloseHandle(hJob)
		return fmt.Errorf("assign failed: %v", err)
	}

	ps.job = hJob
	return nil
}

func releaseProcess(ps *procState) {
	if ps.job != 0 {
		windows.CloseHandle(ps.job)
		ps.job = 0
	}
}

// 管道模式下无法向控制台进程组投递 Ctrl+C
func interruptProcess(pid int) error {
	return e.New(code.NotSupported, "interrupt is not supported for pipe transport on windows", nil)
}

// terminateProcess 结束整个 Job，没有 Job 时只杀主进程
func terminateProcess(ps *procState, p *os.Process) error {
	if ps.job != 0 {
		if err := windows.TerminateJobObject(ps.job, 1); err != nil {
			return e.New(code.SignalFailed, "", err)
		}
		return nil
	}
	if err := p.Kill(); err != nil {
		return e.New(code.SignalFailed, "", err)
	}
	return nil
}

func forceKillProcess(ps *procState, p *os.Process) error {
	return terminateProcess(ps, p)
}

func signalOf(ps *os.ProcessState) string {
	return ""
}
