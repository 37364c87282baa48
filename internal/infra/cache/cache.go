package cache

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gocache "github.com/patrickmn/go-cache"

	"github.com/John-Robertt/photomc/internal/infra/fsx"
)

// FileName 是指纹缓存在状态目录下的文件名。
const FileName = "fingerprints.gob"

// Store 是 <dest>/.photomc/ 下的指纹缓存：以 (算法, 路径, 大小, mtime) 为键记住 content hash。
//
// 约束：
// - dry-run：只允许读（ReadOnly=true）
// - apply：允许写（ReadOnly=false）
// - 并发：Lookup 可被多个 worker 同时调用；Put 只在 fan-in 之后由单个 goroutine 调用
type Store struct {
	Dir      string
	ReadOnly bool

	c     *gocache.Cache
	dirty bool
}

var ErrReadOnly = errors.New("cache: read-only")

// Open 读取 dir 下已有的缓存；文件不存在时返回空缓存。
// dir 为空表示不持久化（仍可在内存中使用）。
func Open(dir string, readOnly bool) (*Store, error) {
	s := &Store{
		Dir:      filepath.Clean(strings.TrimSpace(dir)),
		ReadOnly: readOnly,
		c:        gocache.New(gocache.NoExpiration, 0),
	}
	if strings.TrimSpace(dir) == "" {
		s.Dir = ""
		return s, nil
	}

	b, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	var m map[string]string
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&m); err != nil {
		// 缓存损坏不是致命错误：丢弃后重建。
		return s, nil
	}
	for k, v := range m {
		s.c.Set(k, v, gocache.NoExpiration)
	}
	return s, nil
}

// Path 返回缓存文件的绝对路径。
func (s *Store) Path() string {
	if s.Dir == "" {
		return ""
	}
	return filepath.Join(s.Dir, FileName)
}

// Key 生成缓存键；任意字段变化都会使旧条目失效。
func Key(algo, path string, size, modUnixNs int64) string {
	return fmt.Sprintf("%s|%d|%d|%s", algo, size, modUnixNs, path)
}

// Lookup 查询缓存的 hash。
func (s *Store) Lookup(key string) (string, bool) {
	v, ok := s.c.Get(key)
	if !ok {
		return "", false
	}
	h, ok := v.(string)
	return h, ok
}

// Put 记录一条 hash。只在内存中生效，Save 才会持久化。
func (s *Store) Put(key, hash string) {
	if old, ok := s.Lookup(key); ok && old == hash {
		return
	}
	s.c.Set(key, hash, gocache.NoExpiration)
	s.dirty = true
}

// Len 返回条目数。
func (s *Store) Len() int { return s.c.ItemCount() }

// Save 原子替换缓存文件。没有变化时不写盘。
func (s *Store) Save() error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	if s.Dir == "" || !s.dirty {
		return nil
	}
	items := s.c.Items()
	m := make(map[string]string, len(items))
	for k, it := range items {
		if h, ok := it.Object.(string); ok {
			m[k] = h
		}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return err
	}
	if err := fsx.WriteFileAtomicReplace(s.Dir, FileName, buf.Bytes()); err != nil {
		return err
	}
	s.dirty = false
	return nil
}
