//go:build unix

package fsx

import (
	"os"

	"golang.org/x/sys/unix"
)

// linkRename 以 link + unlink 实现不覆盖的 rename：link 在目标存在时原子失败。
func linkRename(src, dst string) error {
	if err := unix.Link(src, dst); err != nil {
		return &os.LinkError{Op: "link", Old: src, New: dst, Err: err}
	}
	if err := unix.Unlink(src); err != nil {
		_ = unix.Unlink(dst)
		return &os.LinkError{Op: "unlink", Old: src, New: dst, Err: err}
	}
	return nil
}
