package discipline_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miaoda-term/internal/discipline"
)

type recordSink struct {
	echo       strings.Builder
	lines      []discipline.Line
	interrupts int
	controls   [][]byte
	forwarded  []byte
}

func (s *recordSink) Echo(text string)            { s.echo.WriteString(text) }
func (s *recordSink) Submit(line discipline.Line) { s.lines = append(s.lines, line) }
func (s *recordSink) Interrupt()                  { s.interrupts++ }
func (s *recordSink) Control(seq []byte) {
	s.controls = append(s.controls, append([]byte(nil), seq...))
}
func (s *recordSink) Forward(raw []byte) { s.forwarded = append(s.forwarded, raw...) }
func (s *recordSink) texts() (out []string) {
	for _, l := range s.lines {
		out = append(out, l.Text)
	}
	return out
}

func newEmulated() (*discipline.Discipline, *recordSink, *discipline.History) {
	sink := &recordSink{}
	h := discipline.NewHistory(0)
	return discipline.New(sink, h, false), sink, h
}

func TestTypingWithBackspaces(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"hello\r", "hello"},
		{"helx\x7flo\r", "hello"},
		{"ab\x08\x08cd\r", "cd"},
		{"abc\x7f\x7f\x7f\x7f\x7fok\n", "ok"},
		{"\r", ""},
	}
	for _, c := range cases {
		d, sink, _ := newEmulated()
		d.Feed([]byte(c.input))
		require.Len(t, sink.lines, 1, c.input)
		assert.Equal(t, c.want, sink.lines[0].Text)
		assert.True(t, sink.lines[0].Exact)
		assert.Empty(t, d.Line())
	}
}

func TestEchoAndErase(t *testing.T) {
	d, sink, _ := newEmulated()
	d.Feed([]byte("ab\x7f"))
	assert.Equal(t, "ab\b \b", sink.echo.String())

	sink.echo.Reset()
	d.Feed([]byte("\r"))
	assert.Equal(t, "\r\n", sink.echo.String())
}

func TestBackspaceOnEmptyLine(t *testing.T) {
	d, sink, _ := newEmulated()
	for i := 0; i < 5; i++ {
		d.Feed([]byte{0x7f})
		d.Feed([]byte{0x08})
	}
	assert.Empty(t, d.Line())
	assert.Empty(t, sink.echo.String())
	assert.Empty(t, sink.lines)
}

func TestWideRuneErase(t *testing.T) {
	d, sink, _ := newEmulated()
	d.Feed([]byte("中"))
	sink.echo.Reset()
	d.Feed([]byte{0x7f})
	assert.Equal(t, "\b \b\b \b", sink.echo.String())
	assert.Empty(t, d.Line())
}

func TestSplitUTF8AcrossFeeds(t *testing.T) {
	d, sink, _ := newEmulated()
	raw := []byte("你好\r")
	for _, b := range raw {
		d.Feed([]byte{b})
	}
	require.Len(t, sink.lines, 1)
	assert.Equal(t, "你好", sink.lines[0].Text)
}

func TestCRLFSubmitsOnce(t *testing.T) {
	d, sink, _ := newEmulated()
	d.Feed([]byte("a\r"))
	d.Feed([]byte("\nb\r\n\r\n"))
	assert.Equal(t, []string{"a", "b", ""}, sink.texts())
}

func TestInterrupt(t *testing.T) {
	d, sink, _ := newEmulated()
	d.Feed([]byte("rm -rf\x03"))
	assert.Empty(t, d.Line())
	assert.Empty(t, sink.lines)
	assert.Equal(t, 1, sink.interrupts)
	assert.True(t, strings.HasSuffix(sink.echo.String(), "^C\r\n"))
}

func TestRecallClamps(t *testing.T) {
	d, _, h := newEmulated()
	for _, l := range []string{"a", "b", "c"} {
		h.Add(l)
	}

	up := []byte("\x1b[A")
	var seen []string
	for i := 0; i < 4; i++ {
		d.Feed(up)
		seen = append(seen, d.Line())
		assert.GreaterOrEqual(t, h.Cursor(), -1)
		assert.LessOrEqual(t, h.Cursor(), h.Len()-1)
	}
	assert.Equal(t, []string{"c", "b", "a", "a"}, seen)

	down := []byte("\x1bOB")
	d.Feed(down)
	assert.Equal(t, "b", d.Line())
	d.Feed(down)
	assert.Equal(t, "c", d.Line())
	d.Feed(down)
	assert.Equal(t, "", d.Line())
	assert.Equal(t, -1, h.Cursor())
}

func TestDownWhenNotRecalling(t *testing.T) {
	d, sink, h := newEmulated()
	h.Add("a")
	d.Feed([]byte("xy"))
	sink.echo.Reset()

	d.Feed([]byte("\x1b[B"))
	assert.Equal(t, "xy", d.Line())
	assert.Empty(t, sink.echo.String())
	assert.Equal(t, -1, h.Cursor())
}

func TestRecallRedrawsLine(t *testing.T) {
	d, sink, h := newEmulated()
	h.Add("ls")
	d.Feed([]byte("abc"))
	sink.echo.Reset()

	d.Feed([]byte("\x1b[A"))
	assert.Equal(t, strings.Repeat("\b \b", 3)+"ls", sink.echo.String())
}

func TestEscapeSplitAcrossFeeds(t *testing.T) {
	d, _, h := newEmulated()
	h.Add("prev")
	d.Feed([]byte("\x1b["))
	d.Feed([]byte{'A'})
	assert.Equal(t, "prev", d.Line())
}

func TestLoneEscIsItsOwnKey(t *testing.T) {
	d, sink, _ := newEmulated()
	d.Feed([]byte{0x1b})
	d.Feed([]byte("a"))

	assert.Equal(t, "a", d.Line())
	require.Len(t, sink.controls, 1)
	assert.Equal(t, []byte{0x1b}, sink.controls[0])
	assert.Equal(t, "a", sink.echo.String())

	// 同一段输入里的 ESC + 字符仍是 Alt 组合键
	d.Feed([]byte("\x1bb"))
	assert.Equal(t, "a", d.Line())
	require.Len(t, sink.controls, 2)
	assert.Equal(t, []byte("\x1bb"), sink.controls[1])
}

func TestLoneEscNativeMode(t *testing.T) {
	sink := &recordSink{}
	d := discipline.New(sink, nil, true)
	d.Feed([]byte{0x1b})
	d.Feed([]byte("ls\r"))

	assert.Equal(t, "\x1bls\r", string(sink.forwarded))
	require.Len(t, sink.lines, 1)
	assert.False(t, sink.lines[0].Exact)
}

func TestUnknownControlGoesToSecondaryCallback(t *testing.T) {
	d, sink, _ := newEmulated()
	d.Feed([]byte("ab\t\x0c\x1b[C\x1b[1;5D"))
	assert.Equal(t, "ab", d.Line())
	require.Len(t, sink.controls, 4)
	assert.Equal(t, []byte{'\t'}, sink.controls[0])
	assert.Equal(t, []byte{0x0c}, sink.controls[1])
	assert.Equal(t, []byte("\x1b[C"), sink.controls[2])
	assert.Equal(t, []byte("\x1b[1;5D"), sink.controls[3])
}

func TestSubmitResetsRecall(t *testing.T) {
	d, _, h := newEmulated()
	h.Add("a")
	d.Feed([]byte("\x1b[A"))
	assert.Equal(t, 0, h.Cursor())
	d.Feed([]byte("\r"))
	assert.Equal(t, -1, h.Cursor())
}

func TestNativeModeForwardsRaw(t *testing.T) {
	sink := &recordSink{}
	d := discipline.New(sink, nil, true)

	d.Feed([]byte("lsx\x7f\r"))
	assert.Equal(t, []byte("lsx\x7f"), sink.forwarded)
	assert.Empty(t, sink.echo.String())
	require.Len(t, sink.lines, 1)
	assert.Equal(t, discipline.Line{Text: "ls", Exact: true}, sink.lines[0])
}

func TestNativeModeDirtyShadow(t *testing.T) {
	sink := &recordSink{}
	d := discipline.New(sink, nil, true)

	d.Feed([]byte("he\t\r"))
	d.Feed([]byte("x\x1b[D\r"))
	d.Feed([]byte("help\r"))
	require.Len(t, sink.lines, 3)
	assert.False(t, sink.lines[0].Exact)
	assert.False(t, sink.lines[1].Exact)
	assert.True(t, sink.lines[2].Exact)
	assert.Empty(t, sink.controls)
}

func TestNativeModeInterrupt(t *testing.T) {
	sink := &recordSink{}
	d := discipline.New(sink, nil, true)
	d.Feed([]byte("sleep\x03"))
	assert.Equal(t, 1, sink.interrupts)
	assert.Equal(t, []byte("sleep"), sink.forwarded)
	assert.Empty(t, d.Line())
}

func TestHistoryBounded(t *testing.T) {
	h := discipline.NewHistory(100)
	for i := 0; i < 150; i++ {
		h.Add(fmt.Sprintf("cmd-%d", i))
	}
	entries := h.Entries()
	require.Len(t, entries, 100)
	assert.Equal(t, "cmd-50", entries[0])
	assert.Equal(t, "cmd-149", entries[99])
}

func TestHistoryEmptyRecall(t *testing.T) {
	h := discipline.NewHistory(3)
	_, ok := h.Prev()
	assert.False(t, ok)
	_, ok = h.Next()
	assert.False(t, ok)
	assert.Equal(t, -1, h.Cursor())
}
