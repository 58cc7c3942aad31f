// Package shell picks the interactive interpreter for a platform.
package shell

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	FallbackPOSIX   = "/bin/bash"
	FallbackWindows = "cmd.exe"
)

// LookPath 探测候选是否存在，测试中替换
var LookPath = exec.LookPath

// Getenv 读取登录 shell 环境变量，测试中替换
var Getenv = os.Getenv

// Candidates 返回平台的有序候选列表
func Candidates(goos string) []string {
	if goos == "windows" {
		return []string{"pwsh.exe", "powershell.exe", "cmd.exe"}
	}
	var list []string
	if sh := strings.TrimSpace(Getenv("SHELL")); sh != "" {
		list = append(list, sh)
	}
	return append(list, "/bin/bash", "bash", "zsh", "sh")
}

// Resolve 返回第一个可用的解释器，全部不可用时返回平台默认值，不会失败
func Resolve(goos string) string {
	for _, c := range Candidates(goos) {
		if p, err := LookPath(c); err == nil && p != "" {
			return p
		}
	}
	if goos == "windows" {
		return FallbackWindows
	}
	return FallbackPOSIX
}

// DefaultArgs 交互式启动参数
func DefaultArgs(shellPath string) []string {
	name := strings.ToLower(filepath.Base(strings.ReplaceAll(shellPath, "\\", "/")))
	name = strings.TrimSuffix(name, ".exe")
	switch name {
	case "bash", "zsh":
		// login shell，加载用户的 PATH (nvm / uv 等)
		return []string{"-l"}
	case "pwsh", "powershell":
		return []string{"-NoLogo"}
	default:
		return nil
	}
}
