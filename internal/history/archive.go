package history

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"miaoda-term/pkg/code"
	"miaoda-term/pkg/e"
)

// ArchiveKey 快照列表在 Store 中的 key
const ArchiveKey = "terminal_history"

// Reason 快照产生的原因
type Reason string

const (
	ReasonManualSave Reason = "manual_save"
	ReasonAutoClear  Reason = "auto_clear"
	ReasonSessionEnd Reason = "session_end"
	ReasonRestart    Reason = "restart"
)

// Entry 一条屏幕内容快照
type Entry struct {
	ID        int64     `json:"id"` // unix 毫秒，同一毫秒内顺延保证唯一
	Content   string    `json:"content"`
	Reason    Reason    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Archive 快照列表，按时间升序保存，超过上限丢弃最旧的
type Archive struct {
	store Store
	max   int
	now   func() time.Time

	mu sync.Mutex
}

func NewArchive(store Store, maxEntries int) *Archive {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &Archive{store: store, max: maxEntries, now: time.Now}
}

func (a *Archive) load() ([]Entry, error) {
	raw, err := a.store.Load(ArchiveKey)
	if err != nil {
		return nil, e.New(code.StoreFailed, "", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, e.New(code.StoreCorrupted, "", err)
	}
	return entries, nil
}

// Append 追加一条快照并落盘
func (a *Archive) Append(content string, reason Reason) (Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := a.load()
	if err != nil {
		return Entry{}, err
	}

	ts := a.now()
	id := ts.UnixMilli()
	if n := len(entries); n > 0 && entries[n-1].ID >= id {
		id = entries[n-1].ID + 1
	}
	entry := Entry{ID: id, Content: content, Reason: reason, Timestamp: ts}

	entries = append(entries, entry)
	if over := len(entries) - a.max; over > 0 {
		entries = append([]Entry(nil), entries[over:]...)
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return Entry{}, e.New(code.StoreFailed, "", err)
	}
	if err := a.store.Save(ArchiveKey, raw); err != nil {
		return Entry{}, e.New(code.StoreFailed, "", err)
	}
	return entry, nil
}

// List 返回全部快照，旧的在前
func (a *Archive) List() ([]Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.load()
}

// Clear 删除全部快照，返回删除的条数
func (a *Archive) Clear() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := a.load()
	if err != nil && e.CodeOf(err) != code.StoreCorrupted {
		return 0, err
	}
	if err := a.store.Delete(ArchiveKey); err != nil {
		return 0, e.New(code.StoreFailed, "", err)
	}
	return len(entries), nil
}

// Get 按 ID 查找快照
func (a *Archive) Get(id int64) (Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := a.load()
	if err != nil {
		return Entry{}, err
	}
	for _, en := range entries {
		if en.ID == id {
			return en, nil
		}
	}
	return Entry{}, e.New(code.HistoryNotFound, fmt.Sprintf("history entry %d not found", id), nil)
}
