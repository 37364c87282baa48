package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/John-Robertt/photomc/internal/domain"
	"github.com/John-Robertt/photomc/internal/fingerprint"
	"github.com/John-Robertt/photomc/internal/index"
	"github.com/John-Robertt/photomc/internal/infra/fsx"
	"github.com/John-Robertt/photomc/internal/xmp"
)

// Recorder 接收成功落地的照片（通常是 index.Store）。
type Recorder interface {
	Record(ctx context.Context, e index.Entry) error
}

// Options 是执行阶段的全部输入。
type Options struct {
	DryRun  bool
	Workers int
	Hasher  fingerprint.Hasher

	// VerifySource 为 true 时，move 之前重新计算源文件 hash 并与计划比对。
	// 执行已保存的计划时使用：同盘 rename 不读内容，大小相同的修改只能靠 hash 发现。
	VerifySource bool

	// Index 可选：apply 成功后由收集 goroutine 串行写入。
	Index Recorder

	// OnActionDone 可选：每个动作结束时调用（来自收集 goroutine，串行）。
	OnActionDone func(done, total int, out domain.FileOutcome, dur time.Duration)
}

// Result 是执行阶段的结果；Outcomes 与 plan.Actions 一一对应并按源路径排序。
type Result struct {
	Outcomes []domain.FileOutcome
	Recorded int
	// IndexErr 是写索引时遇到的第一个错误（不影响已完成的文件操作）。
	IndexErr error
}

type actionResult struct {
	out domain.FileOutcome
	dur time.Duration
}

// Execute 执行（或在 dry-run 下只校验）plan 中的全部动作。
//
// 约束：
// - dry-run 与 apply 走同一套前置校验；dry-run 不做任何写入
// - skip 动作直接产出结果，不进入 worker
// - ctx 取消后不再调度新动作，未调度的动作记为 failed(canceled)；已开始的动作各自完成或失败
// - 任何情况下都不会覆盖已有文件
func Execute(ctx context.Context, p domain.Plan, opts Options) Result {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	res := Result{Outcomes: make([]domain.FileOutcome, 0, len(p.Actions))}
	todo := make([]domain.PlannedAction, 0, len(p.Actions))
	for _, a := range p.Actions {
		if a.Kind.IsSkip() {
			res.Outcomes = append(res.Outcomes, skipOutcome(a))
			continue
		}
		todo = append(todo, a)
	}

	jobs := make(chan domain.PlannedAction)
	results := make(chan actionResult, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range jobs {
				started := time.Now()
				out := runOne(a, opts)
				results <- actionResult{out: out, dur: time.Since(started)}
			}
		}()
	}

	var canceled []domain.PlannedAction
	go func() {
		defer close(jobs)
		for i, a := range todo {
			if ctx.Err() != nil {
				canceled = todo[i:]
				return
			}
			select {
			case <-ctx.Done():
				canceled = todo[i:]
				return
			case jobs <- a:
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	done := 0
	bySource := make(map[string]domain.PlannedAction, len(todo))
	for _, a := range todo {
		bySource[a.Source] = a
	}
	for r := range results {
		done++
		res.Outcomes = append(res.Outcomes, r.out)
		if opts.OnActionDone != nil {
			opts.OnActionDone(done, len(todo), r.out, r.dur)
		}
		if opts.DryRun || opts.Index == nil || !landed(r.out) {
			continue
		}
		a := bySource[r.out.SourcePath]
		err := opts.Index.Record(ctx, index.Entry{
			DestPath:    r.out.DestinationPath,
			ContentHash: a.ContentHash,
			SourcePath:  a.Source,
			OrigName:    filepath.Base(a.Source),
			CaptureTime: a.CaptureTime,
		})
		if err != nil {
			log.Warn().Err(err).Str("path", r.out.DestinationPath).Msg("写入索引失败")
			if res.IndexErr == nil {
				res.IndexErr = err
			}
			continue
		}
		res.Recorded++
	}

	// results 关闭意味着调度 goroutine 已退出，canceled 可以安全读取。
	for _, a := range canceled {
		res.Outcomes = append(res.Outcomes, domain.FileOutcome{
			SourcePath:      a.Source,
			Outcome:         domain.OutcomeFailed,
			DestinationPath: a.Destination,
			Reason:          domain.ErrCodeCanceled,
			Message:         "运行被取消，动作未执行",
			Flags:           a.Flags,
			Size:            a.Size,
		})
	}

	sort.SliceStable(res.Outcomes, func(i, j int) bool { return res.Outcomes[i].SourcePath < res.Outcomes[j].SourcePath })
	return res
}

// landed 报告该结果是否意味着目标路径上已经是这张照片。
func landed(o domain.FileOutcome) bool {
	switch o.Outcome {
	case domain.OutcomeMoved, domain.OutcomeCopied:
		return true
	case domain.OutcomeSkippedDuplicate:
		return o.Reason == domain.ErrCodeAlreadyPresent
	}
	return false
}

func skipOutcome(a domain.PlannedAction) domain.FileOutcome {
	out := domain.FileOutcome{
		SourcePath: a.Source,
		Reason:     a.Reason,
		Flags:      a.Flags,
		Size:       a.Size,
	}
	switch a.Kind {
	case domain.ActionSkipDuplicate:
		out.Outcome = domain.OutcomeSkippedDuplicate
		out.DuplicateOf = a.DuplicateOf
		if a.DuplicateOf != "" {
			out.Message = "与 " + a.DuplicateOf + " 内容相同"
		}
	default:
		out.Outcome = domain.OutcomeSkippedConflict
		if out.Reason == "" {
			out.Reason = domain.ErrCodeUnresolvedConflict
		}
	}
	return out
}

func runOne(a domain.PlannedAction, opts Options) (out domain.FileOutcome) {
	out = domain.FileOutcome{
		SourcePath:      a.Source,
		DestinationPath: a.Destination,
		Flags:           a.Flags,
		Size:            a.Size,
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("path", a.Source).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("执行动作时 panic")
			out.Outcome = domain.OutcomeFailed
			out.Reason = domain.ErrCodePanic
			out.Message = fmt.Sprint(r)
		}
	}()

	if reason, msg, present := validate(a, opts.Hasher, opts.VerifySource && !opts.DryRun); reason != "" {
		out.Reason, out.Message = reason, msg
		if present {
			out.Outcome = domain.OutcomeSkippedDuplicate
		} else {
			out.Outcome = domain.OutcomeFailed
		}
		return out
	}

	if opts.DryRun {
		out.Outcome = domain.OutcomePlanned
		return out
	}

	if err := fsx.EnsureDir(filepath.Dir(a.Destination)); err != nil {
		return fail(out, classify(err, domain.ErrCodeIOFailed), err)
	}

	switch a.Kind {
	case domain.ActionMove:
		cross, err := fsx.Move(a.Source, a.Destination, opts.Hasher.NewHash, a.ContentHash)
		if err != nil {
			return failTransfer(out, a, opts.Hasher, err, domain.ErrCodeMoveFailed)
		}
		if cross {
			log.Debug().Str("path", a.Source).Msg("跨盘移动：已校验复制并删除源文件")
		}
		out.Outcome = domain.OutcomeMoved
	default:
		if _, err := fsx.CopyVerified(a.Source, a.Destination, opts.Hasher.NewHash, a.ContentHash); err != nil {
			return failTransfer(out, a, opts.Hasher, err, domain.ErrCodeIOFailed)
		}
		out.Outcome = domain.OutcomeCopied
	}

	if a.SidecarPath != "" && a.Position != nil {
		if err := writeSidecar(a); err != nil {
			// 照片本身已落地；sidecar 失败只记录原因。
			log.Warn().Err(err).Str("path", a.SidecarPath).Msg("写入 XMP sidecar 失败")
			out.Reason = domain.ErrCodeSidecarFailed
			out.Message = err.Error()
		}
	}
	return out
}

// validate 是 dry-run 与 apply 共用的前置校验。
//
// 返回 reason 为空表示可以执行；present=true 表示目标已存在且内容相同。
func validate(a domain.PlannedAction, h fingerprint.Hasher, verifySource bool) (reason, msg string, present bool) {
	fi, err := os.Lstat(a.Source)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ErrCodeSourceMissing, "源文件不存在", false
		}
		return domain.ErrCodeIOFailed, err.Error(), false
	}
	if !fi.Mode().IsRegular() {
		return domain.ErrCodeSourceMissing, "源路径不是普通文件", false
	}
	if a.Size > 0 && fi.Size() != a.Size {
		return domain.ErrCodeSourceChanged, fmt.Sprintf("源文件大小已变化：%d -> %d", a.Size, fi.Size()), false
	}
	// copy 在复制过程中校验 hash；move 的同盘 rename 不读内容，需要在这里校验。
	if verifySource && a.Kind == domain.ActionMove {
		got, _, err := h.File(a.Source)
		if err != nil {
			return domain.ErrCodeIOFailed, fmt.Sprintf("读取源文件失败：%v", err), false
		}
		if got != a.ContentHash {
			return domain.ErrCodeSourceChanged, fmt.Sprintf("源文件内容已变化：%s -> %s", a.ContentHash, got), false
		}
	}

	if reason, msg, present := checkTarget(a.Destination, a.ContentHash, h); reason != "" {
		return reason, msg, present
	}

	if err := checkParent(filepath.Dir(a.Destination)); err != nil {
		return classify(err, domain.ErrCodeIOFailed), err.Error(), false
	}
	if a.SidecarPath != "" {
		if sfi, err := os.Lstat(a.SidecarPath); err == nil && !sfi.Mode().IsRegular() {
			return domain.ErrCodeTargetConflict, "sidecar 路径已被占用：" + a.SidecarPath, false
		}
	}
	return "", "", false
}

func checkTarget(dst, want string, h fingerprint.Hasher) (reason, msg string, present bool) {
	fi, err := os.Lstat(dst)
	if err != nil {
		if notExist(err) {
			return "", "", false
		}
		return domain.ErrCodeIOFailed, err.Error(), false
	}
	if !fi.Mode().IsRegular() {
		return domain.ErrCodeTargetConflict, "目标路径已存在且不是普通文件", false
	}
	got, _, err := h.File(dst)
	if err != nil {
		return domain.ErrCodeIOFailed, fmt.Sprintf("读取已有目标失败：%v", err), false
	}
	if got == want {
		return domain.ErrCodeAlreadyPresent, "目标已存在且内容相同", true
	}
	return domain.ErrCodeTargetConflict, "目标已存在且内容不同", false
}

// checkParent 确认目标父目录可以创建：最近的已存在祖先必须是目录。
func checkParent(dir string) error {
	for d := dir; ; d = filepath.Dir(d) {
		fi, err := os.Stat(d)
		if err == nil {
			if !fi.IsDir() {
				return &fsx.PathTypeConflictError{Path: d, Want: "dir", Got: "file"}
			}
			return nil
		}
		if !notExist(err) {
			return err
		}
		if parent := filepath.Dir(d); parent == d {
			return err
		}
	}
}

// notExist 把“路径上某段是文件”（ENOTDIR）也视为不存在，由 checkParent 报告类型冲突。
func notExist(err error) bool {
	return os.IsNotExist(err) || errors.Is(err, syscall.ENOTDIR)
}

func failTransfer(out domain.FileOutcome, a domain.PlannedAction, h fingerprint.Hasher, err error, fallback string) domain.FileOutcome {
	switch {
	case errors.Is(err, os.ErrExist):
		// 校验之后目标才出现（并发写入者）：再按内容判断一次。
		if reason, msg, present := checkTarget(a.Destination, a.ContentHash, h); present {
			out.Outcome = domain.OutcomeSkippedDuplicate
			out.Reason, out.Message = reason, msg
			return out
		}
		return fail(out, domain.ErrCodeTargetConflict, err)
	case fsx.IsContentMismatch(err):
		return fail(out, domain.ErrCodeSourceChanged, err)
	case errors.Is(err, os.ErrNotExist):
		return fail(out, domain.ErrCodeSourceMissing, err)
	}
	return fail(out, classify(err, fallback), err)
}

func classify(err error, fallback string) string {
	if fsx.IsPathTypeConflict(err) {
		return domain.ErrCodeTargetConflict
	}
	return fallback
}

func fail(out domain.FileOutcome, reason string, err error) domain.FileOutcome {
	out.Outcome = domain.OutcomeFailed
	out.Reason = reason
	out.Message = err.Error()
	return out
}

func writeSidecar(a domain.PlannedAction) error {
	b, err := xmp.Encode(xmp.Sidecar{Position: *a.Position, CaptureTime: a.CaptureTime})
	if err != nil {
		return err
	}
	err = fsx.WriteFileAtomicNoOverwrite(filepath.Dir(a.SidecarPath), filepath.Base(a.SidecarPath), b)
	if errors.Is(err, os.ErrExist) {
		return nil
	}
	return err
}
