package index

import (
	"context"
	"os"
	"sort"
	"sync"
)

const (
	ProblemMissing       = "missing"
	ProblemModified      = "modified"
	ProblemDuplicateHash = "duplicate_hash"
	ProblemUnreadable    = "unreadable"
)

// Problem 是一次 verify 发现的问题。
type Problem struct {
	DestPath string `json:"dest_path"`
	Kind     string `json:"kind"`
	Detail   string `json:"detail,omitempty"`
}

// VerifyResult 是 verify 的完整结果（Problems 按 DestPath、Kind 排序）。
type VerifyResult struct {
	Checked  int       `json:"checked"`
	Problems []Problem `json:"problems"`
}

// HashFunc 计算文件内容 hash（十六进制）。
type HashFunc func(path string) (string, error)

// Verify 重新计算每条记录对应文件的 hash，报告缺失、被修改与重复内容。
//
// - 重复 hash：同一内容在库内出现多次时，除字典序最小的路径外都报告 duplicate_hash
// - ctx 取消后不再调度新的文件，已调度的文件照常完成
func Verify(ctx context.Context, entries []Entry, hashFile HashFunc, workers int) VerifyResult {
	if workers <= 0 {
		workers = 1
	}

	res := VerifyResult{Problems: make([]Problem, 0)}

	byHash := make(map[string][]string, len(entries))
	for _, e := range entries {
		byHash[e.ContentHash] = append(byHash[e.ContentHash], e.DestPath)
	}
	for h, paths := range byHash {
		if len(paths) < 2 {
			continue
		}
		sort.Strings(paths)
		for _, p := range paths[1:] {
			res.Problems = append(res.Problems, Problem{DestPath: p, Kind: ProblemDuplicateHash, Detail: "与 " + paths[0] + " 内容相同（" + h + "）"})
		}
	}

	jobs := make(chan Entry)
	results := make(chan *Problem, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range jobs {
				results <- checkOne(e, hashFile)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, e := range entries {
			select {
			case <-ctx.Done():
				return
			case jobs <- e:
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	for p := range results {
		res.Checked++
		if p != nil {
			res.Problems = append(res.Problems, *p)
		}
	}

	sort.Slice(res.Problems, func(i, j int) bool {
		if res.Problems[i].DestPath != res.Problems[j].DestPath {
			return res.Problems[i].DestPath < res.Problems[j].DestPath
		}
		return res.Problems[i].Kind < res.Problems[j].Kind
	})
	return res
}

func checkOne(e Entry, hashFile HashFunc) *Problem {
	fi, err := os.Stat(e.DestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Problem{DestPath: e.DestPath, Kind: ProblemMissing}
		}
		return &Problem{DestPath: e.DestPath, Kind: ProblemUnreadable, Detail: err.Error()}
	}
	if !fi.Mode().IsRegular() {
		return &Problem{DestPath: e.DestPath, Kind: ProblemModified, Detail: "不是普通文件"}
	}
	got, err := hashFile(e.DestPath)
	if err != nil {
		return &Problem{DestPath: e.DestPath, Kind: ProblemUnreadable, Detail: err.Error()}
	}
	if got != e.ContentHash {
		return &Problem{DestPath: e.DestPath, Kind: ProblemModified, Detail: e.ContentHash + " -> " + got}
	}
	return nil
}
