package main

import (
	"os"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/term"

	"miaoda-term/internal/history"
	"miaoda-term/internal/render"
	"miaoda-term/internal/session"
	"miaoda-term/internal/shell"
	"miaoda-term/pkg/config"
)

// runConsole 在当前终端上运行一个会话，返回进程退出码
func runConsole(cfg *config.TermConfig, archive *history.Archive, log *zap.Logger) int {
	opts := shell.Options(cfg.Shell, runtime.GOOS)

	// 1. 原始模式，按键逐字节交给行规程
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		old, err := term.MakeRaw(fd)
		if err != nil {
			log.Error("switch terminal to raw mode failed", zap.Error(err))
			return 1
		}
		defer term.Restore(fd, old)
	}
	if cols, rows, ok := consoleSize(); ok {
		opts.Cols, opts.Rows = cols, rows
	}

	sess := session.New(session.SessionContext{
		Renderer: render.NewConsole(os.Stdout, true),
		Archive:  archive,
		Logger:   log,
		Config:   cfg.Session,
		Shell:    opts,
	})
	defer sess.Close()

	if err := sess.Start(); err != nil {
		log.Warn("shell start failed", zap.Error(err))
	}

	// 2. 窗口尺寸变化
	stopResize := watchResize(func() {
		if cols, rows, ok := consoleSize(); ok {
			sess.Resize(cols, rows)
		}
	})
	defer stopResize()

	// 3. stdin -> Session
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				sess.Feed(buf[:n])
			}
			if err != nil {
				sess.Close()
				return
			}
		}
	}()

	<-sess.Ended()
	return sess.ExitCode()
}

func consoleSize() (cols, rows int, ok bool) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0, 0, false
	}
	c, r, err := term.GetSize(fd)
	if err != nil || c <= 0 || r <= 0 {
		return 0, 0, false
	}
	return c, r, true
}
