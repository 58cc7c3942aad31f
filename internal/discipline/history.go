package discipline

// DefaultHistorySize 内存命令历史上限
const DefaultHistorySize = 100

// History 已提交命令的有界列表与回溯游标
// cursor 取值 [-1, len-1]，-1 表示未在回溯
type History struct {
	entries []string
	cursor  int
	max     int
}

func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultHistorySize
	}
	return &History{cursor: -1, max: max}
}

// Add 追加一条并复位游标，超出上限时淘汰最旧的
func (h *History) Add(line string) {
	h.entries = append(h.entries, line)
	if over := len(h.entries) - h.max; over > 0 {
		h.entries = append(h.entries[:0:0], h.entries[over:]...)
	}
	h.cursor = -1
}

// Prev 向更旧的方向移动 (Up)，到头后停在最旧一条
func (h *History) Prev() (string, bool) {
	if len(h.entries) == 0 {
		return "", false
	}
	switch {
	case h.cursor == -1:
		h.cursor = len(h.entries) - 1
	case h.cursor > 0:
		h.cursor--
	}
	return h.entries[h.cursor], true
}

// Next 向更新的方向移动 (Down)
// 未在回溯时不动；越过最新一条回到空行并结束回溯
func (h *History) Next() (string, bool) {
	if h.cursor == -1 {
		return "", false
	}
	if h.cursor < len(h.entries)-1 {
		h.cursor++
		return h.entries[h.cursor], true
	}
	h.cursor = -1
	return "", true
}

func (h *History) Reset() { h.cursor = -1 }

func (h *History) Cursor() int { return h.cursor }

func (h *History) Len() int { return len(h.entries) }

// Entries 返回副本，从旧到新
func (h *History) Entries() []string {
	out := make([]string, len(h.entries))
	copy(out, h.entries)
	return out
}
