package bridge

import (
	"os"
	"os/exec"

	"miaoda-term/pkg/code"
	"miaoda-term/pkg/e"
)

// Windows 下不使用 ConPTY，auto 模式总是降级为管道
func startPTY(cmd *exec.Cmd, cols, rows int) (*os.File, error) {
	return nil, errPTYUnavailable
}

func setSize(ptmx *os.File, cols, rows int) error {
	return e.New(code.NotSupported, "resize is not supported on windows", nil)
}
