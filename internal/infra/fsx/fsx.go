package fsx

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// 通过可替换的函数指针，让测试能稳定模拟 EXDEV 等错误。
var renameFunc = renameNoReplace

// PathTypeConflictError 表示目标路径类型冲突（例如期望目录但实际是文件）。
// 上层可把它映射为 error_code=target_conflict。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// CrossDeviceError 表示跨盘（EXDEV）导致的 rename 失败。
// 执行层据此回落到“校验复制 + 删除源文件”。
type CrossDeviceError struct {
	Src string
	Dst string
	Err error
}

func (e *CrossDeviceError) Error() string {
	return fmt.Sprintf("跨盘移动（EXDEV）：%q -> %q：%v", e.Src, e.Dst, e.Err)
}

func (e *CrossDeviceError) Unwrap() error { return e.Err }

// IsCrossDevice 判断 err 是否为跨盘（EXDEV）错误。
func IsCrossDevice(err error) bool {
	var e *CrossDeviceError
	return errors.As(err, &e)
}

// ContentMismatchError 表示复制过程中读到的内容与期望 hash 不一致（源文件在规划后被修改）。
type ContentMismatchError struct {
	Path string
	Want string
	Got  string
}

func (e *ContentMismatchError) Error() string {
	return fmt.Sprintf("内容已变化：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsContentMismatch(err error) bool {
	var e *ContentMismatchError
	return errors.As(err, &e)
}

// Rename 以“不覆盖”语义重命名：目标已存在时返回 os.ErrExist，跨盘时返回 CrossDeviceError。
func Rename(src, dst string) error {
	if err := renameFunc(src, dst); err != nil {
		if isEXDEV(err) {
			return &CrossDeviceError{Src: src, Dst: dst, Err: err}
		}
		return err
	}
	return nil
}

// EnsureDir 创建目录（含父目录）；已存在时无操作。
// 路径上某一段是普通文件时返回 PathTypeConflictError。
func EnsureDir(dir string) error {
	dir = filepath.Clean(dir)
	if fi, err := os.Stat(dir); err == nil {
		if !fi.IsDir() {
			return &PathTypeConflictError{Path: dir, Want: "dir", Got: "file"}
		}
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		var pe *os.PathError
		if errors.As(err, &pe) {
			if fi, serr := os.Stat(pe.Path); serr == nil && !fi.IsDir() {
				return &PathTypeConflictError{Path: pe.Path, Want: "dir", Got: "file"}
			}
		}
		return err
	}
	return nil
}

// CopyVerified 把 src 复制到 dst（不覆盖），并在复制的同时计算 hash。
//
// 约束：
// - 先写同目录临时文件，校验通过后再以不覆盖语义 rename 到 dst；dst 永远不会出现半截文件
// - want 非空且与实际 hash 不一致时删除临时文件并返回 ContentMismatchError
// - 保留源文件的 mtime
func CopyVerified(src, dst string, newHash func() hash.Hash, want string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return 0, err
	}
	if !fi.Mode().IsRegular() {
		return 0, &PathTypeConflictError{Path: src, Want: "regular file", Got: fi.Mode().Type().String()}
	}

	dir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	keep := false
	defer func() {
		_ = tmp.Close()
		if !keep {
			_ = os.Remove(tmpName)
		}
	}()

	h := newHash()
	n, err := io.Copy(tmp, io.TeeReader(in, h))
	if err != nil {
		return n, err
	}
	if got := hex.EncodeToString(h.Sum(nil)); want != "" && !strings.EqualFold(got, want) {
		return n, &ContentMismatchError{Path: src, Want: want, Got: got}
	}
	if err := tmp.Chmod(0o644); err != nil {
		return n, err
	}
	if err := tmp.Sync(); err != nil {
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	_ = os.Chtimes(tmpName, fi.ModTime(), fi.ModTime())

	if err := Rename(tmpName, dst); err != nil {
		return n, err
	}
	keep = true
	_ = syncDirBestEffort(dir)
	return n, nil
}

// Move 把 src 移动到 dst（不覆盖）。
//
// 同一文件系统内使用原子 rename；跨盘时回落为 CopyVerified + 删除源文件，
// 此时 crossDevice=true。删除源文件失败时目标已完整写入，错误会原样返回。
func Move(src, dst string, newHash func() hash.Hash, want string) (crossDevice bool, err error) {
	err = Rename(src, dst)
	if err == nil {
		_ = syncDirBestEffort(filepath.Dir(dst))
		return false, nil
	}
	if !IsCrossDevice(err) {
		return false, err
	}
	if _, err := CopyVerified(src, dst, newHash, want); err != nil {
		return true, err
	}
	return true, os.Remove(src)
}

// WriteFileAtomic 在 dir 下原子写入 name（临时文件 + rename），目标已存在则覆盖。
// cache/report 等内部状态使用该函数。
func WriteFileAtomic(dir, name string, data []byte) error {
	return WriteFileAtomicReplace(dir, name, data)
}

// WriteFileAtomicNoOverwrite 在 dir 下原子写入 name（临时文件 + 不覆盖 rename）。
//
// - 临时文件必须与目标文件在同目录，以保证 rename 的原子性
// - 对临时文件做 Sync；目录 Sync 采用 best-effort
//
// XMP sidecar、preview 等“不允许覆盖”的文件使用该函数；目标已存在时返回 os.ErrExist。
func WriteFileAtomicNoOverwrite(dir, name string, data []byte) error {
	dst := filepath.Join(filepath.Clean(dir), name)
	if fi, err := os.Lstat(dst); err == nil {
		if fi.IsDir() {
			return &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
		}
		if !fi.Mode().IsRegular() {
			return &PathTypeConflictError{Path: dst, Want: "regular file", Got: fi.Mode().Type().String()}
		}
		return os.ErrExist
	} else if !os.IsNotExist(err) {
		return err
	}
	return writeFileAtomic(dir, name, data, 0o644, false)
}

// WriteFileAtomicReplace 写入并覆盖同名文件。
func WriteFileAtomicReplace(dir, name string, data []byte) error {
	return writeFileAtomic(dir, name, data, 0o644, true)
}

func writeFileAtomic(dir, name string, data []byte, perm os.FileMode, replace bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	dst := filepath.Join(dir, name)

	// 创建同目录临时文件（前缀带 '.'，避免污染照片库视图）。
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := writeAll(tmp, data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if replace {
		err = os.Rename(tmpName, dst)
	} else {
		err = Rename(tmpName, dst)
	}
	if err != nil {
		return err
	}

	_ = syncDirBestEffort(dir)
	return nil
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func syncDirBestEffort(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
