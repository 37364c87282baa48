//go:build unix && !linux

package fsx

func renameNoReplace(src, dst string) error {
	return linkRename(src, dst)
}
