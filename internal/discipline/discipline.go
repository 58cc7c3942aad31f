// Package discipline turns raw keystroke bytes into submitted lines.
//
// In emulated mode (pipe transports that do not echo) it performs canonical
// input processing itself: local echo, erase, history recall and ^C. In
// native mode (PTY transports) every byte goes straight to the child and
// the discipline only keeps a silent shadow of the line so the host can
// still recognise built-in commands on Enter.
package discipline

import (
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

const (
	keyInterrupt = 0x03
	keyBackspace = 0x08
	keyLF        = 0x0a
	keyCR        = 0x0d
	keyEsc       = 0x1b
	keyDelete    = 0x7f

	eraseSeq = "\b \b"
	// 超长的未终止序列直接当作控制序列交出去
	maxEscapeLen = 32
)

// ClearLine 光标回到行首并清除到行尾
const ClearLine = "\r\x1b[K"

// Line 一次 Enter 提交的内容
type Line struct {
	Text string
	// 原生模式下遇到无法跟踪的编辑 (Tab 补全、光标移动) 时为 false，此时 Text 不可信
	Exact bool
}

// Sink 接收状态机产生的事件，全部在调用 Feed 的协程上同步回调
type Sink interface {
	// Echo 本地回显 (仅模拟模式)
	Echo(text string)
	Submit(line Line)
	Interrupt()
	// Control 模拟模式下未解释的控制字节或转义序列
	Control(seq []byte)
	// Forward 原生模式下原样交给传输层
	Forward(raw []byte)
}

// Discipline 单个会话的行规程状态，不是并发安全的
type Discipline struct {
	sink    Sink
	history *History
	native  bool

	line  []rune
	dirty bool

	partial []byte // 被截断的 UTF-8 字符
	esc     []byte // 未完整的转义序列
	lastCR  bool
}

func New(sink Sink, history *History, native bool) *Discipline {
	if history == nil {
		history = NewHistory(DefaultHistorySize)
	}
	return &Discipline{sink: sink, history: history, native: native}
}

// SetNative 传输层更换 (重启) 后切换模式，丢弃半行
func (d *Discipline) SetNative(native bool) {
	d.native = native
	d.reset()
}

func (d *Discipline) Native() bool { return d.native }

func (d *Discipline) Line() string { return string(d.line) }

func (d *Discipline) History() *History { return d.history }

// Render 当前行的显示内容 (重绘提示符时使用)
func (d *Discipline) Render() string {
	if d.native {
		return ""
	}
	return string(d.line)
}

// Reset 清空当前行，不产生回显
func (d *Discipline) Reset() {
	d.reset()
}

func (d *Discipline) reset() {
	d.line = d.line[:0]
	d.dirty = false
	d.esc = nil
	d.partial = nil
	d.lastCR = false
}

// ReplaceLine 用 text 替换当前行并重绘 (Tab 补全、历史回溯)
func (d *Discipline) ReplaceLine(text string) {
	if d.native {
		return
	}
	d.eraseLine()
	d.line = append(d.line[:0], []rune(text)...)
	if text != "" {
		d.sink.Echo(text)
	}
}

// Feed 处理一段输入字节，可以在任意位置截断
func (d *Discipline) Feed(p []byte) {
	if len(d.partial) > 0 {
		p = append(d.partial, p...)
		d.partial = nil
	}

	for i := 0; i < len(p); {
		b := p[i]

		// 1. 转义序列
		if d.esc != nil || b == keyEsc {
			d.esc = append(d.esc, b)
			i++
			if done := escapeComplete(d.esc); done {
				seq := d.esc
				d.esc = nil
				d.handleEscape(seq)
			}
			continue
		}

		// 2. CRLF 只算一次 Enter
		if b == keyLF && d.lastCR {
			d.lastCR = false
			i++
			continue
		}
		d.lastCR = b == keyCR

		// 3. 控制字节
		if b < 0x20 || b == keyDelete {
			d.handleControl(b)
			i++
			continue
		}

		// 4. 可打印字符 (UTF-8 解码，截断的留到下次)
		if b < utf8.RuneSelf {
			d.handleRune(rune(b), p[i:i+1])
			i++
			continue
		}
		if !utf8.FullRune(p[i:]) {
			d.partial = append([]byte(nil), p[i:]...)
			return
		}
		r, size := utf8.DecodeRune(p[i:])
		d.handleRune(r, p[i:i+size])
		i += size
	}

	// 单独的 ESC 出现在一段输入的末尾时就是 Esc 键本身，
	// 否则它会吞掉下一次按键并把两者当成 Alt 组合键
	if len(d.esc) == 1 {
		seq := d.esc
		d.esc = nil
		d.handleEscape(seq)
	}
}

func (d *Discipline) handleRune(r rune, raw []byte) {
	d.line = append(d.line, r)
	if d.native {
		d.sink.Forward(raw)
		return
	}
	d.sink.Echo(string(r))
}

func (d *Discipline) handleControl(b byte) {
	switch b {
	case keyCR, keyLF:
		d.submit()
	case keyBackspace, keyDelete:
		d.erase(b)
	case keyInterrupt:
		d.interrupt()
	default:
		if d.native {
			d.dirty = true
			d.sink.Forward([]byte{b})
			return
		}
		d.sink.Control([]byte{b})
	}
}

func (d *Discipline) submit() {
	line := Line{Text: string(d.line), Exact: !d.dirty}
	if !d.native {
		d.sink.Echo("\r\n")
	}
	d.line = d.line[:0]
	d.dirty = false
	d.history.Reset()
	d.sink.Submit(line)
}

func (d *Discipline) erase(b byte) {
	if d.native {
		if len(d.line) > 0 {
			d.line = d.line[:len(d.line)-1]
		}
		d.sink.Forward([]byte{b})
		return
	}
	if len(d.line) == 0 {
		return
	}
	last := d.line[len(d.line)-1]
	d.line = d.line[:len(d.line)-1]
	if w := runewidth.RuneWidth(last); w > 0 {
		d.sink.Echo(strings.Repeat(eraseSeq, w))
	}
}

func (d *Discipline) interrupt() {
	d.line = d.line[:0]
	d.dirty = false
	d.history.Reset()
	if !d.native {
		d.sink.Echo("^C\r\n")
	}
	d.sink.Interrupt()
}

func (d *Discipline) handleEscape(seq []byte) {
	if d.native {
		// 方向键等由 shell 自己处理，影子行不再可信
		d.dirty = true
		d.sink.Forward(seq)
		return
	}

	switch string(seq) {
	case "\x1b[A", "\x1bOA":
		if text, ok := d.history.Prev(); ok {
			d.ReplaceLine(text)
		}
	case "\x1b[B", "\x1bOB":
		if text, ok := d.history.Next(); ok {
			d.ReplaceLine(text)
		}
	default:
		d.sink.Control(seq)
	}
}

// eraseLine 按显示宽度擦除当前行
func (d *Discipline) eraseLine() {
	w := runewidth.StringWidth(string(d.line))
	if w > 0 {
		d.sink.Echo(strings.Repeat(eraseSeq, w))
	}
}

// escapeComplete 判断 ESC 开头的序列是否已经完整
// CSI: ESC [ 参数 (0x30-0x3F) 中间字节 (0x20-0x2F) 终止字节 (0x40-0x7E)
// SS3: ESC O 加一个字节；其它: ESC 加一个字节 (Alt+键)
func escapeComplete(seq []byte) bool {
	if len(seq) < 2 {
		return false
	}
	if len(seq) >= maxEscapeLen {
		return true
	}
	switch seq[1] {
	case '[':
		if len(seq) == 2 {
			return false
		}
		last := seq[len(seq)-1]
		return last >= 0x40 && last <= 0x7e
	case 'O':
		return len(seq) >= 3
	default:
		return true
	}
}
