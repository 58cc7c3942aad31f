package storage

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type LocalProvider struct {
	BaseDir string
}

func NewLocalProvider(baseDir string) (*LocalProvider, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &LocalProvider{BaseDir: baseDir}, nil
}

// path 把对象名限制在 BaseDir 之内
func (l *LocalProvider) path(name string) (string, error) {
	clean := filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/"))
	if clean == "/" {
		return "", errors.New("empty object name")
	}
	return filepath.Join(l.BaseDir, filepath.FromSlash(clean)), nil
}

func (l *LocalProvider) Save(name string, data io.Reader) error {
	fullPath, err := l.path(name)
	if err != nil {
		return err
	}

	// 确保子目录存在
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return err
	}

	// 先写临时文件再 rename，避免进程中途退出留下半个 JSON
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), fullPath)
}

func (l *LocalProvider) Get(name string) (io.ReadCloser, error) {
	fullPath, err := l.path(name)
	if err != nil {
		return nil, err
	}
	return os.Open(fullPath)
}

func (l *LocalProvider) Delete(name string) error {
	fullPath, err := l.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
