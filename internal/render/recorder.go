package render

import (
	"strings"
	"sync"
)

// Op Recorder 记录的调用类型
type Op string

const (
	OpWrite   Op = "write"
	OpWriteln Op = "writeln"
	OpClear   Op = "clear"
)

type Call struct {
	Op   Op
	Text string
}

// Recorder 记录所有调用，测试和无界面场景使用
type Recorder struct {
	mu    sync.Mutex
	calls []Call
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Write(text string)   { r.add(Call{Op: OpWrite, Text: text}) }
func (r *Recorder) Writeln(text string) { r.add(Call{Op: OpWriteln, Text: text}) }
func (r *Recorder) Clear()              { r.add(Call{Op: OpClear}) }

func (r *Recorder) add(c Call) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Lines 所有 Writeln 的内容
func (r *Recorder) Lines() []string {
	var out []string
	for _, c := range r.Calls() {
		if c.Op == OpWriteln {
			out = append(out, c.Text)
		}
	}
	return out
}

// Text 按显示顺序拼接的全部内容，Clear 之前的部分被丢弃
func (r *Recorder) Text() string {
	var b strings.Builder
	for _, c := range r.Calls() {
		switch c.Op {
		case OpWrite:
			b.WriteString(c.Text)
		case OpWriteln:
			b.WriteString(c.Text)
			b.WriteString("\n")
		case OpClear:
			b.Reset()
		}
	}
	return b.String()
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}
