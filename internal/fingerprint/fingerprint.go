package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

const (
	SHA256 = "sha256"
	BLAKE3 = "blake3"
)

// Hasher 计算文件内容的 256-bit 摘要（小写 hex）。
// 只依赖字节内容：文件名、mtime、权限都不影响结果。
type Hasher struct {
	algo string
}

// New 返回指定算法的 Hasher；空串表示默认 sha256。
func New(algo string) (Hasher, error) {
	switch algo {
	case "", SHA256:
		return Hasher{algo: SHA256}, nil
	case BLAKE3:
		return Hasher{algo: BLAKE3}, nil
	default:
		return Hasher{}, fmt.Errorf("不支持的 hash 算法：%q", algo)
	}
}

func (h Hasher) Algo() string { return h.algo }

// NewHash 返回一个新的流式 hash.Hash。
func (h Hasher) NewHash() hash.Hash {
	if h.algo == BLAKE3 {
		return blake3.New()
	}
	return sha256.New()
}

// Reader 以流式方式消费 r 并返回摘要与字节数。
func (h Hasher) Reader(r io.Reader) (string, int64, error) {
	hh := h.NewHash()
	n, err := io.Copy(hh, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(hh.Sum(nil)), n, nil
}

// File 计算 path 的摘要。
func (h Hasher) File(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return h.Reader(f)
}

// Sum 把 hash.Hash 的当前摘要编码为 hex；用于边写边算的场景。
func Sum(hh hash.Hash) string { return hex.EncodeToString(hh.Sum(nil)) }
