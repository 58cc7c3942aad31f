package session

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"

	"miaoda-term/internal/history"
	"miaoda-term/internal/probe"
	"miaoda-term/internal/render"
	"miaoda-term/pkg/code"
	"miaoda-term/pkg/e"
)

// RegisterBuiltins 注册默认内置命令
func RegisterBuiltins(r *Registry) {
	for _, c := range []Command{
		{Name: "help", Usage: "help [command]", Summary: "list built-in commands", Handler: helpCmd},
		{Name: "clear", Summary: "save the screen to history and clear it", Handler: clearCmd},
		{Name: "history", Usage: "history [clear]", Summary: "list or delete saved screen snapshots", Handler: historyCmd},
		{Name: "restore", Usage: "restore <id>", Summary: "replace the screen with a saved snapshot", Handler: restoreCmd},
		{Name: "save", Summary: "save the screen to history", Handler: saveCmd},
		{Name: "exit", Summary: "close this terminal", Handler: exitCmd},
		{Name: "status", Summary: "show the shell process and transport", Handler: statusCmd},
		{Name: "restart", Summary: "restart the shell process", Handler: restartCmd},
		{Name: "wait", Usage: "wait <tcp|http> <target> [seconds]", Summary: "wait until a port or URL is ready", Handler: waitCmd},
		{Name: "tail", Usage: "tail <file>", Summary: "follow a file until Ctrl+C", Handler: tailCmd},
	} {
		if err := r.RegisterCommand(c); err != nil {
			panic(err)
		}
	}
}

func usageError(call *Call) error {
	usage := call.Name
	if c, ok := call.s.registry.Lookup(call.Name); ok {
		usage = c.Usage
	}
	return e.New(code.ParamError, "usage: "+usage, nil)
}

func helpCmd(ctx context.Context, call *Call) error {
	r := call.s.registry
	if len(call.Args) > 0 {
		c, ok := r.Lookup(call.Args[0])
		if !ok {
			return e.New(code.UnknownCommand, "unknown command: "+call.Args[0], nil)
		}
		call.Writeln(c.Usage)
		if c.Summary != "" {
			call.Writeln("  " + c.Summary)
		}
		return nil
	}

	cmds := r.Commands()
	width := 0
	for _, c := range cmds {
		if len(c.Usage) > width {
			width = len(c.Usage)
		}
	}
	call.Writeln(render.InfoLine("Built-in commands:"))
	for _, c := range cmds {
		call.Writeln(fmt.Sprintf("  %-*s  %s", width, c.Usage, c.Summary))
	}
	call.Writeln(render.MutedLine("Anything else is sent to the shell."))
	return nil
}

func clearCmd(ctx context.Context, call *Call) error {
	var snapErr error
	call.exec(func() {
		s := call.s
		if _, err := s.snapshot(history.ReasonAutoClear); err != nil {
			snapErr = err
		}
		s.render.Clear()
		s.disc.Reset()
		s.promptShown = false
	})
	if snapErr != nil {
		call.s.log.Warn("auto_clear snapshot failed", zap.Error(snapErr))
		call.Writeln(render.WarnLine("screen cleared, but the snapshot was not saved: " + messageOf(snapErr)))
	}
	return nil
}

func historyCmd(ctx context.Context, call *Call) error {
	a := call.s.archive
	if a == nil {
		return e.New(code.NotSupported, "history persistence is disabled", nil)
	}
	switch {
	case len(call.Args) == 1 && strings.EqualFold(call.Args[0], "clear"):
		n, err := a.Clear()
		if err != nil {
			return err
		}
		call.Writeln(render.InfoLine(fmt.Sprintf("deleted %d snapshots", n)))
		return nil
	case len(call.Args) > 0:
		return usageError(call)
	}

	entries, err := a.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		call.Writeln("no saved history")
		return nil
	}
	for _, ent := range entries {
		call.Writeln(fmt.Sprintf("%d  %-11s  %s  %s",
			ent.ID, ent.Reason, ent.Timestamp.Format("2006-01-02 15:04:05"), preview(ent.Content, 40)))
	}
	call.Writeln(render.MutedLine("use 'restore <id>' to bring one back"))
	return nil
}

// preview 快照内容的第一行非空文本
func preview(content string, max int) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.ReplaceAll(line, "\r", ""))
		if line == "" {
			continue
		}
		r := []rune(line)
		if len(r) > max {
			return string(r[:max]) + "..."
		}
		return line
	}
	return ""
}

func restoreCmd(ctx context.Context, call *Call) error {
	a := call.s.archive
	if a == nil {
		return e.New(code.NotSupported, "history persistence is disabled", nil)
	}
	if len(call.Args) != 1 {
		return usageError(call)
	}
	id, err := strconv.ParseInt(call.Args[0], 10, 64)
	if err != nil {
		return e.New(code.ParamError, "invalid history id: "+call.Args[0], err)
	}
	ent, err := a.Get(id)
	if err != nil {
		return err
	}
	call.exec(func() {
		s := call.s
		s.render.Clear()
		s.render.Write(ent.Content)
		if !strings.HasSuffix(ent.Content, "\n") {
			s.render.Write("\n")
		}
	})
	return nil
}

func saveCmd(ctx context.Context, call *Call) error {
	if call.s.archive == nil {
		return e.New(code.NotSupported, "history persistence is disabled", nil)
	}
	var (
		ent *history.Entry
		err error
	)
	call.exec(func() { ent, err = call.s.snapshot(history.ReasonManualSave) })
	if err != nil {
		return err
	}
	if ent == nil {
		call.Writeln("nothing to save")
		return nil
	}
	call.Writeln(render.InfoLine(fmt.Sprintf("saved snapshot %d", ent.ID)))
	return nil
}

func exitCmd(ctx context.Context, call *Call) error {
	call.Writeln(render.MutedLine("bye"))
	call.exec(func() { call.s.end(0) })
	return nil
}

func statusCmd(ctx context.Context, call *Call) error {
	var t Transport
	info := call.s.Info()
	call.exec(func() { t = call.s.transport })

	call.Writeln(fmt.Sprintf("session  %s", info.ID))
	call.Writeln(fmt.Sprintf("shell    %s", info.Shell))
	if t == nil {
		call.Writeln("process  " + render.WarnLine("not running"))
		return nil
	}
	call.Writeln(fmt.Sprintf("mode     %s (resize=%t, native echo=%t)", info.Mode, info.SupportsResize, info.SupportsNativeEcho))
	call.Writeln(fmt.Sprintf("pid      %d (alive=%t)", info.PID, info.Alive))

	st, err := t.Stats()
	if err != nil {
		call.Writeln(render.MutedLine("stats unavailable: " + messageOf(err)))
		return nil
	}
	call.Writeln(fmt.Sprintf("cpu      %.1f%%", st.CPUPercent))
	call.Writeln(fmt.Sprintf("rss      %.1f MiB", float64(st.RSSBytes)/1024/1024))
	call.Writeln(fmt.Sprintf("children %d", st.Children))
	if st.CreateTime > 0 {
		call.Writeln(fmt.Sprintf("uptime   %s", time.Since(time.UnixMilli(st.CreateTime)).Round(time.Second)))
	}
	return nil
}

// restartCmd 先保存快照，等旧进程退出后再启动新进程
func restartCmd(ctx context.Context, call *Call) error {
	var (
		old     Transport
		snapErr error
	)
	if !call.exec(func() {
		s := call.s
		_, snapErr = s.snapshot(history.ReasonRestart)
		old = s.detach()
	}) {
		return nil
	}
	if snapErr != nil {
		call.s.log.Warn("restart snapshot failed", zap.Error(snapErr))
	}

	if old != nil {
		call.Writeln(render.MutedLine("stopping shell..."))
		stopTransport(ctx, old, call.s.cfg.KillGrace, call.s.log)
	}

	var err error
	call.exec(func() { err = call.s.spawnTransport() })
	if err != nil {
		// spawnTransport 已经渲染过错误
		return nil
	}
	call.Writeln(render.InfoLine("shell restarted"))
	return nil
}

func waitCmd(ctx context.Context, call *Call) error {
	if len(call.Args) < 2 || len(call.Args) > 3 {
		return usageError(call)
	}
	kind, target := strings.ToLower(call.Args[0]), call.Args[1]
	timeout := probe.DefaultTimeout
	if len(call.Args) == 3 {
		sec, err := strconv.Atoi(call.Args[2])
		if err != nil || sec <= 0 {
			return e.New(code.ParamError, "invalid timeout: "+call.Args[2], err)
		}
		timeout = time.Duration(sec) * time.Second
	}

	call.Writeln(render.MutedLine(fmt.Sprintf("waiting for %s %s (up to %s, Ctrl+C to stop)", kind, target, timeout)))
	if err := probe.WaitReady(ctx, kind, target, timeout); err != nil {
		return err
	}
	call.Writeln(render.InfoLine(target + " is ready"))
	return nil
}

// tailCmd 跟随文件直到 Ctrl+C
func tailCmd(ctx context.Context, call *Call) error {
	if len(call.Args) != 1 {
		return usageError(call)
	}
	path := call.Args[0]

	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Poll:      true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekStart},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return e.New(code.BuiltinFailed, "cannot follow "+path, err)
	}
	defer t.Cleanup()
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				return e.New(code.BuiltinFailed, "read "+path, line.Err)
			}
			call.Writeln(line.Text)
		}
	}
}
