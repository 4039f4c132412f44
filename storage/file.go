package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// File 单个 JSON 文件实现的 KV 存储。
// 数据量很小（计数器、过滤器、最多几百条历史），整体读写即可。
type File struct {
	mu   sync.Mutex
	path string
	data map[string]json.RawMessage
}

// OpenFile 打开（必要时创建）JSON 文件存储。
func OpenFile(path string) (*File, error) {
	f := &File{
		path: path,
		data: make(map[string]json.RawMessage),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, errors.Wrapf(err, "read store file: %s", path)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &f.data); err != nil {
			return nil, errors.Wrapf(err, "parse store file: %s", path)
		}
	}
	return f, nil
}

func (f *File) Get(key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (f *File) Set(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make(json.RawMessage, len(value))
	copy(cp, value)
	f.data[key] = cp
	return f.flushLocked()
}

func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return f.flushLocked()
}

func (f *File) Close() error { return nil }

func (f *File) flushLocked() error {
	raw, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal store")
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errors.Wrapf(err, "create store dir for %s", f.path)
	}
	// 先写临时文件再改名，避免进程被杀时留下半截文件
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return errors.Wrapf(err, "write store file: %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, f.path), "rename store file: %s", f.path)
}
