package storage

import (
	"io"
	"io/fs"
)

// ErrNotFound 对象不存在，与 fs.ErrNotExist 等价，errors.Is 两者皆可
var ErrNotFound = fs.ErrNotExist

// Provider 对象存储抽象 (本地目录 / MinIO)
// 历史快照以 "key.json" 形式保存为对象
type Provider interface {
	// 保存对象 (name: 如 history/terminal_history.json)
	Save(name string, data io.Reader) error

	// 获取对象流，不存在时返回 ErrNotFound
	Get(name string) (io.ReadCloser, error)

	// 删除对象，不存在视为成功
	Delete(name string) error
}
