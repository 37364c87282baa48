package scan

import (
	"errors"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/photomc/internal/domain"
)

// StateDirName 是目标库内部状态目录，永远不会被扫描。
const StateDirName = ".photomc"

// Options 描述一次扫描。
type Options struct {
	Roots []string
	// Dest 若位于某个 root 之内，整棵目标树被排除（避免把已整理的库再整理一遍）。
	Dest string

	ExcludeDirs    []string // 相对每个 root；绝对路径按绝对路径处理
	IncludeHidden  bool
	FollowSymlinks bool
}

// Walk 惰性地遍历所有 root，产出候选照片文件。
//
// 规则（硬约束）：
// - 永久排除：dest 树与任何名为 .photomc 的目录
// - 默认跳过以 '.' 开头的文件/目录（IncludeHidden 可关闭）
// - 默认不跟随符号链接（FollowSymlinks 只跟随指向普通文件的链接，不跟随目录链接，避免环）
//
// 注意：扫描阶段只做 stat，不读文件内容。
// 单个条目的错误以 (zero, err) 的形式产出，调用方决定是否继续；每次 range 都会重新遍历。
func Walk(opts Options) iter.Seq2[domain.SourceFile, error] {
	return func(yield func(domain.SourceFile, error) bool) {
		for idx, root := range opts.Roots {
			root = filepath.Clean(root)
			excluded := buildExcluded(root, opts.Dest, opts.ExcludeDirs)

			stopped := false
			err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
				if walkErr != nil {
					if path == root {
						return walkErr
					}
					if !yield(domain.SourceFile{AbsPath: path, RootIndex: idx}, walkErr) {
						stopped = true
						return fs.SkipAll
					}
					if d != nil && d.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}

				// 统一的排除判断：目录用 SkipDir，文件则直接跳过。
				if path != root && (isExcluded(path, excluded) || d.Name() == StateDirName ||
					(!opts.IncludeHidden && strings.HasPrefix(d.Name(), "."))) {
					if d.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}
				if d.IsDir() {
					return nil
				}

				name := d.Name()
				ext := strings.ToLower(filepath.Ext(name))
				if !IsPhotoExt(ext) {
					return nil
				}

				// 跟随的链接以目标文件的真实路径产出：执行阶段操作的是目标文件，
				// 链接与目标同时被扫描到时由 Collect 去重。
				abs := path
				if d.Type()&fs.ModeSymlink != 0 {
					if !opts.FollowSymlinks {
						return nil
					}
					resolved, err := filepath.EvalSymlinks(path)
					if err != nil {
						return nil
					}
					if fi, err := os.Stat(resolved); err != nil || !fi.Mode().IsRegular() {
						return nil
					}
					if isExcluded(resolved, excluded) || inStateDir(resolved) {
						return nil
					}
					abs = resolved
				} else if !d.Type().IsRegular() {
					return nil
				}

				fi, err := os.Stat(abs)
				if err != nil {
					if !yield(domain.SourceFile{AbsPath: abs, RootIndex: idx}, err) {
						stopped = true
						return fs.SkipAll
					}
					return nil
				}
				rel, err := filepath.Rel(root, path)
				if err != nil {
					return err
				}

				sf := domain.SourceFile{
					AbsPath:   abs,
					RelPath:   rel,
					RootIndex: idx,
					Ext:       ext,
					Size:      fi.Size(),
					ModUnixNs: fi.ModTime().UnixNano(),
				}
				if !yield(sf, nil) {
					stopped = true
					return fs.SkipAll
				}
				return nil
			})
			if stopped {
				return
			}
			if err != nil && !errors.Is(err, fs.SkipAll) {
				if !yield(domain.SourceFile{AbsPath: root, RootIndex: idx}, err) {
					return
				}
			}
		}
	}
}

// Collect 把 Walk 的结果收集为切片，并按绝对路径稳定排序。
// 条目级错误不会中断扫描，而是作为 errs 一并返回。
func Collect(opts Options) (files []domain.SourceFile, errs []ItemError) {
	seen := make(map[string]struct{}, 128)
	for sf, err := range Walk(opts) {
		if err != nil {
			errs = append(errs, ItemError{Path: sf.AbsPath, Err: err})
			continue
		}
		// 多个 root 互相嵌套时，同一文件只保留第一个 root 的结果。
		if _, ok := seen[sf.AbsPath]; ok {
			continue
		}
		seen[sf.AbsPath] = struct{}{}
		files = append(files, sf)
	}

	// 强制稳定输出，避免不同平台/文件系统行为差异带来的不确定性。
	sort.Slice(files, func(i, j int) bool { return files[i].AbsPath < files[j].AbsPath })
	sort.Slice(errs, func(i, j int) bool { return errs[i].Path < errs[j].Path })
	return files, errs
}

// ItemError 是扫描阶段单个路径的错误。
type ItemError struct {
	Path string
	Err  error
}

func (e ItemError) Error() string { return e.Path + ": " + e.Err.Error() }

// IsPhotoExt 报告扩展名（小写，含点）是否属于候选照片。
// 扩展名只决定“是否尝试”，真正的格式由内容嗅探决定。
func IsPhotoExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".jpe", ".png", ".gif", ".bmp",
		".tif", ".tiff", ".webp", ".heic", ".heif", ".avif",
		".dng", ".nef", ".cr2", ".arw":
		return true
	default:
		return false
	}
}

func buildExcluded(root, dest string, excludeDirs []string) []string {
	excluded := make([]string, 0, 1+len(excludeDirs))
	if strings.TrimSpace(dest) != "" {
		excluded = append(excluded, filepath.Clean(dest))
	}

	for _, x := range excludeDirs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		if filepath.IsAbs(x) {
			excluded = append(excluded, filepath.Clean(x))
			continue
		}
		// x 是相对路径：相对 root。
		excluded = append(excluded, filepath.Clean(filepath.Join(root, x)))
	}

	// 排除列表排序后，isExcluded 的行为更可预测（且便于测试）。
	sort.Strings(excluded)
	return excluded
}

// inStateDir 报告 path 是否位于某个 .photomc 状态目录之内。
func inStateDir(path string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(filepath.Clean(path)), "/") {
		if seg == StateDirName {
			return true
		}
	}
	return false
}

func isExcluded(path string, excluded []string) bool {
	path = filepath.Clean(path)
	for _, base := range excluded {
		if isUnder(path, base) {
			return true
		}
	}
	return false
}

func isUnder(path, base string) bool {
	if path == base {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(path, base+sep)
}
