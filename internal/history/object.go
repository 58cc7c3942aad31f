package history

import (
	"bytes"
	"errors"
	"io"
	"path"

	"miaoda-term/pkg/storage"
)

// ObjectStore 每个 key 保存为一个对象 (本地文件或 MinIO object)
type ObjectStore struct {
	provider storage.Provider
	prefix   string
}

func NewObjectStore(p storage.Provider, prefix string) *ObjectStore {
	return &ObjectStore{provider: p, prefix: prefix}
}

func (o *ObjectStore) name(key string) string {
	return path.Join(o.prefix, key+".json")
}

func (o *ObjectStore) Save(key string, value []byte) error {
	return o.provider.Save(o.name(key), bytes.NewReader(value))
}

func (o *ObjectStore) Load(key string) ([]byte, error) {
	rc, err := o.provider.Get(o.name(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (o *ObjectStore) Delete(key string) error {
	return o.provider.Delete(o.name(key))
}

func (o *ObjectStore) Close() error { return nil }
