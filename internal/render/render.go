// Package render contains the output side of a terminal session.
package render

import (
	"io"
	"strings"
	"sync"
)

// ClearScreen 清屏并把光标移到左上角
const ClearScreen = "\x1b[2J\x1b[H"

// Renderer 终端显示，必须容忍并原样透传 ANSI 转义
type Renderer interface {
	Write(text string)
	Writeln(text string)
	Clear()
}

// Console 写到本地终端或任意 io.Writer
// raw 模式下终端不会把 LF 转成 CRLF，需要 crlf=true 自己转换
type Console struct {
	mu   sync.Mutex
	w    io.Writer
	crlf bool
}

func NewConsole(w io.Writer, crlf bool) *Console {
	return &Console{w: w, crlf: crlf}
}

func (c *Console) Write(text string) {
	if text == "" {
		return
	}
	if c.crlf {
		text = ToCRLF(text)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	io.WriteString(c.w, text)
}

func (c *Console) Writeln(text string) {
	c.Write(text + "\n")
}

func (c *Console) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	io.WriteString(c.w, ClearScreen)
}

// ToCRLF 把单独的 LF 转成 CRLF，已有的 CRLF 保持不变
func ToCRLF(text string) string {
	if !strings.Contains(text, "\n") {
		return text
	}
	var b strings.Builder
	b.Grow(len(text) + 8)
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' && (i == 0 || text[i-1] != '\r') {
			b.WriteByte('\r')
		}
		b.WriteByte(text[i])
	}
	return b.String()
}
