package analyze

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/John-Robertt/photomc/internal/domain"
	"github.com/John-Robertt/photomc/internal/extract"
	"github.com/John-Robertt/photomc/internal/fingerprint"
	"github.com/John-Robertt/photomc/internal/infra/cache"
	"github.com/John-Robertt/photomc/internal/track"
)

// Options 是分析阶段的全部输入；不依赖任何全局状态。
type Options struct {
	Workers int
	Codec   extract.Codec
	Extract extract.Options
	Hasher  fingerprint.Hasher

	// Memo 可选：只在 worker 中读取。
	Memo *cache.Store
	// Correlator 可选：fan-in 之后由单个 goroutine 使用。
	Correlator *track.Correlator

	// OnFileDone 可选：每个文件分析完成时调用（来自收集 goroutine，串行）。
	OnFileDone func(done, total int, path string, failed bool)
}

// Result 是 fan-in 之后的分析结果。Records 与 Failures 均按 SourcePath 排序。
type Result struct {
	Records  []domain.PhotoRecord
	Failures []domain.Failure

	// MemoPuts 是本次新计算出的 hash（key 见 cache.Key），由调用方在 fan-in 之后写入缓存。
	MemoPuts map[string]string
	// Correlated 是通过轨迹补全位置的记录数。
	Correlated int
}

type fileResult struct {
	rec     domain.PhotoRecord
	fail    *domain.Failure
	memoKey string
	hashed  bool
}

// Run 并发分析所有文件，然后串行合并轨迹位置。
//
// 约束：
// - worker 之间没有共享的可变累加器；结果只通过 channel 汇总
// - 单个文件的 panic 只影响该文件（reason=panic）
// - ctx 取消后不再调度新文件，未调度的文件记为 canceled 失败
func Run(ctx context.Context, files []domain.SourceFile, opts Options) Result {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if opts.Codec == nil {
		opts.Codec = extract.ExifCodec{}
	}

	jobs := make(chan domain.SourceFile)
	results := make(chan fileResult, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sf := range jobs {
				results <- analyzeOne(sf, opts)
			}
		}()
	}

	go func() {
		defer func() {
			close(jobs)
			wg.Wait()
			close(results)
		}()
		for i, sf := range files {
			select {
			case <-ctx.Done():
				for _, rest := range files[i:] {
					results <- fileResult{fail: &domain.Failure{
						SourcePath: rest.AbsPath,
						Reason:     domain.ErrCodeCanceled,
						Message:    "已取消：未开始分析",
					}}
				}
				return
			case jobs <- sf:
			}
		}
	}()

	out := Result{MemoPuts: map[string]string{}}
	done := 0
	for r := range results {
		done++
		if r.fail != nil {
			out.Failures = append(out.Failures, *r.fail)
		} else {
			out.Records = append(out.Records, r.rec)
			if r.hashed && r.memoKey != "" {
				out.MemoPuts[r.memoKey] = r.rec.ContentHash
			}
		}
		if opts.OnFileDone != nil {
			path := r.rec.SourcePath
			if r.fail != nil {
				path = r.fail.SourcePath
			}
			opts.OnFileDone(done, len(files), path, r.fail != nil)
		}
	}

	sort.Slice(out.Records, func(i, j int) bool { return out.Records[i].SourcePath < out.Records[j].SourcePath })
	sort.Slice(out.Failures, func(i, j int) bool { return out.Failures[i].SourcePath < out.Failures[j].SourcePath })

	if opts.Correlator != nil {
		out.Correlated = Correlate(out.Records, opts.Correlator)
	}
	return out
}

// Correlate 为没有内嵌 GPS、但有拍摄时间的记录填充轨迹位置，返回填充数量。
func Correlate(records []domain.PhotoRecord, c *track.Correlator) int {
	n := 0
	for i := range records {
		r := &records[i]
		if r.EmbeddedPosition != nil || r.CaptureTime == nil {
			continue
		}
		if p, ok := c.Correlate(*r.CaptureTime); ok {
			cp := p
			r.CorrelatedPosition = &cp
			n++
		}
	}
	return n
}

func analyzeOne(sf domain.SourceFile, opts Options) (res fileResult) {
	defer func() {
		if v := recover(); v != nil {
			log.Error().Str("path", sf.AbsPath).Interface("panic", v).Bytes("stack", debug.Stack()).Msg("分析文件时发生 panic")
			res = fileResult{fail: &domain.Failure{
				SourcePath: sf.AbsPath,
				Reason:     domain.ErrCodePanic,
				Message:    fmt.Sprintf("panic：%v", v),
			}}
		}
	}()

	md, err := extract.Extract(opts.Codec, sf.AbsPath, opts.Extract)
	if err != nil {
		reason := domain.ErrCodeOpenFailed
		var fe *extract.Failure
		if errors.As(err, &fe) {
			reason = fe.Reason
		}
		return fileResult{fail: &domain.Failure{SourcePath: sf.AbsPath, Reason: reason, Message: err.Error()}}
	}
	for _, w := range md.Warnings {
		log.Debug().Str("path", sf.AbsPath).Str("warning", w).Msg("元数据不完整")
	}

	key := cache.Key(opts.Hasher.Algo(), sf.AbsPath, sf.Size, sf.ModUnixNs)
	var (
		sum    string
		size   = sf.Size
		hashed bool
	)
	if opts.Memo != nil {
		if h, ok := opts.Memo.Lookup(key); ok {
			sum = h
		}
	}
	if sum == "" {
		h, n, err := opts.Hasher.File(sf.AbsPath)
		if err != nil {
			return fileResult{fail: &domain.Failure{SourcePath: sf.AbsPath, Reason: domain.ErrCodeHashFailed, Message: err.Error()}}
		}
		sum, size, hashed = h, n, true
	}

	return fileResult{
		rec: domain.PhotoRecord{
			SourcePath:       sf.AbsPath,
			RootIndex:        sf.RootIndex,
			ContentHash:      sum,
			Size:             size,
			Format:           md.Format,
			Width:            md.Width,
			Height:           md.Height,
			CaptureTime:      md.CaptureTime,
			EmbeddedPosition: md.Position,
			Warnings:         md.Warnings,
		},
		memoKey: key,
		hashed:  hashed && size == sf.Size,
	}
}
