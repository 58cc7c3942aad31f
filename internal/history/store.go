// Package history persists terminal transcript snapshots.
//
// The persistence contract is a plain key-value Store. Archive layers the
// HistoryEntry list on top of any Store and keeps it capped.
package history

import (
	"fmt"
	"io"
	"sync"

	"miaoda-term/pkg/config"
	"miaoda-term/pkg/storage"
)

// Store 键值存储，Load 在 key 不存在时返回 (nil, nil)，Delete 不存在的 key 视为成功
type Store interface {
	Save(key string, value []byte) error
	Load(key string) ([]byte, error)
	Delete(key string) error
}

// StoreCloser 带资源释放的 Store
type StoreCloser interface {
	Store
	io.Closer
}

// Open 根据配置选择存储后端
func Open(cfg config.HistoryConfig) (StoreCloser, error) {
	switch cfg.Backend {
	case config.BackendSQLite, "":
		return OpenSQLite(cfg.DBPath)
	case config.BackendLocal:
		p, err := storage.NewLocalProvider(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("open history dir %s: %w", cfg.Dir, err)
		}
		return NewObjectStore(p, ""), nil
	case config.BackendMinio:
		m := cfg.Minio
		p, err := storage.NewMinioProvider(m.Endpoint, m.AK, m.SK, m.Bucket, m.UseSSL)
		if err != nil {
			return nil, fmt.Errorf("connect minio %s: %w", m.Endpoint, err)
		}
		return NewObjectStore(p, "history"), nil
	case config.BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}

// MemoryStore 进程内存储，不落盘
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Save(key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)

	m.mu.Lock()
	m.data[key] = cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error { return nil }
