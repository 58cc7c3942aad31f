//go:build windows

package main

// watchResize Windows 控制台没有 SIGWINCH，管道模式也不支持调整尺寸
func watchResize(fn func()) (stop func()) {
	return func() {}
}
