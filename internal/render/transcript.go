package render

import "sync"

// DefaultTranscriptSize 屏幕内容快照的默认上限
const DefaultTranscriptSize = 256 * 1024

// Transcript 线程安全的环形缓冲区，保留最近写出的显示内容
// 写满后覆盖最旧的字节，读取不会清空
type Transcript struct {
	data []byte
	size int
	head int
	tail int
	full bool
	mu   sync.RWMutex
}

func NewTranscript(size int) *Transcript {
	if size <= 0 {
		size = DefaultTranscriptSize
	}
	return &Transcript{
		data: make([]byte, size),
		size: size,
	}
}

// Write 实现 io.Writer
func (t *Transcript) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range p {
		t.data[t.tail] = c
		t.tail = (t.tail + 1) % t.size
		if t.full {
			t.head = t.tail
		} else if t.tail == t.head {
			t.full = true
		}
	}
	return len(p), nil
}

func (t *Transcript) WriteString(s string) {
	t.Write([]byte(s))
}

// Bytes 当前内容的副本，从旧到新
func (t *Transcript) Bytes() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.lenLocked()
	result := make([]byte, n)
	if n == 0 {
		return result
	}
	if t.tail > t.head {
		copy(result, t.data[t.head:t.tail])
	} else {
		// 已回绕
		first := copy(result, t.data[t.head:])
		copy(result[first:], t.data[:t.tail])
	}
	return result
}

func (t *Transcript) String() string {
	return string(t.Bytes())
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lenLocked()
}

func (t *Transcript) lenLocked() int {
	switch {
	case t.full:
		return t.size
	case t.tail >= t.head:
		return t.tail - t.head
	default:
		return t.size - t.head + t.tail
	}
}

func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.head, t.tail, t.full = 0, 0, false
}

// Tee 把显示内容同时记入 Transcript
type Tee struct {
	Renderer
	transcript *Transcript
}

func NewTee(r Renderer, t *Transcript) *Tee {
	return &Tee{Renderer: r, transcript: t}
}

func (t *Tee) Write(text string) {
	t.transcript.WriteString(text)
	t.Renderer.Write(text)
}

func (t *Tee) Writeln(text string) {
	t.transcript.WriteString(text + "\n")
	t.Renderer.Writeln(text)
}

func (t *Tee) Clear() {
	t.transcript.Reset()
	t.Renderer.Clear()
}

func (t *Tee) Transcript() *Transcript {
	return t.transcript
}
