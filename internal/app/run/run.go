package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/John-Robertt/photomc/internal/app/analyze"
	"github.com/John-Robertt/photomc/internal/app/executor"
	"github.com/John-Robertt/photomc/internal/app/planner"
	"github.com/John-Robertt/photomc/internal/config"
	"github.com/John-Robertt/photomc/internal/domain"
	"github.com/John-Robertt/photomc/internal/extract"
	"github.com/John-Robertt/photomc/internal/fingerprint"
	"github.com/John-Robertt/photomc/internal/index"
	"github.com/John-Robertt/photomc/internal/infra/cache"
	"github.com/John-Robertt/photomc/internal/scan"
	"github.com/John-Robertt/photomc/internal/track"
)

const (
	CommandPlan   = "plan"
	CommandApply  = "apply"
	CommandVerify = "verify"
	CommandMap    = "map"
)

// LockFileName 是 apply 在状态目录下持有的排他锁文件。
const LockFileName = "lock"

// Options 是一次 plan/apply 的运行参数（配置之外的部分）。
type Options struct {
	Command string
	DryRun  bool

	// Saved 非 nil 时跳过扫描与分析，直接执行这份已保存的计划（apply --plan）。
	Saved *domain.Plan

	// Codec 可选：测试可注入；nil 表示 extract.ExifCodec。
	Codec extract.Codec
}

// Outcome 是一次运行的全部产物。
type Outcome struct {
	Report domain.RunReport
	// Plan 是本次执行的计划（致命错误时为空）。
	Plan domain.Plan
}

// Execute 执行一次 plan（dry-run）或 apply，并返回对外稳定的 RunReport。
// 该函数尽量把错误“降级”为文件级失败（单个文件失败不影响其他）。
func Execute(ctx context.Context, eff config.EffectiveConfig, opts Options) Outcome {
	return ExecuteWithObserver(ctx, eff, opts, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息（由上层决定是否启用）。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, opts Options, obs Observer) Outcome {
	if opts.Command == "" {
		opts.Command = CommandPlan
		if !opts.DryRun {
			opts.Command = CommandApply
		}
	}
	if obs != nil {
		obs.OnStart(eff, opts.Command, opts.DryRun)
	}

	rr := newReport(eff, opts.Command, opts.DryRun)
	out := Outcome{}
	fatal := func(code, msg string) Outcome {
		log.Error().Str("code", code).Msg(msg)
		rr.Errors = append(rr.Errors, domain.RunError{Code: code, Message: msg})
		rr.FinishedAt = time.Now()
		rr.Finalize()
		out.Report = rr
		return out
	}

	hasher, err := fingerprint.New(eff.Hash)
	if err != nil {
		return fatal(domain.ErrCodeConfigInvalid, err.Error())
	}

	// apply：同一个库同一时间只允许一个写入者。
	if !opts.DryRun {
		unlock, code, err := lockDest(eff)
		if err != nil {
			return fatal(code, err.Error())
		}
		defer unlock()
	}

	var (
		plan     domain.Plan
		analysis Analysis
	)
	if opts.Saved != nil {
		plan = *opts.Saved
		if err := planner.Check(plan); err != nil {
			return fatal(domain.ErrCodeConfigInvalid, "plan 无效："+err.Error())
		}
		if filepath.Clean(plan.DestRoot) != filepath.Clean(eff.Dest) {
			return fatal(domain.ErrCodeConfigInvalid, fmt.Sprintf("plan 的 dest_root %q 与 --dest %q 不一致", plan.DestRoot, eff.Dest))
		}
		if plan.HashAlgo != "" && plan.HashAlgo != hasher.Algo() {
			return fatal(domain.ErrCodeConfigInvalid, fmt.Sprintf("plan 使用的 hash 算法 %q 与配置 %q 不一致", plan.HashAlgo, hasher.Algo()))
		}
	} else {
		var rerr *domain.RunError
		analysis, rerr = Analyze(ctx, eff, AnalyzeOptions{DryRun: opts.DryRun, Codec: opts.Codec, Hasher: hasher}, obs)
		if rerr != nil {
			return fatal(rerr.Code, rerr.Message)
		}
		rr.Files = append(rr.Files, analysis.Failed...)

		known := map[string]string{}
		if eff.Index {
			known, err = knownHashes(ctx, eff.StateDir())
			if err != nil {
				return fatal(domain.ErrCodeIndexFailed, err.Error())
			}
		}

		policy, err := planner.PolicyByName(eff.DuplicatePolicy)
		if err != nil {
			return fatal(domain.ErrCodeConfigInvalid, err.Error())
		}

		planStarted := time.Now()
		plan = planner.Plan(analysis.Records, planner.Options{
			DestRoot:         eff.Dest,
			Mode:             eff.Mode,
			HashAlgo:         hasher.Algo(),
			Policy:           policy,
			GeoGrid:          eff.GeoGrid,
			LowConfidenceGap: eff.LowConfidenceGap,
			XMPSidecars:      eff.XMPSidecars,
			KnownHashes:      known,
		})
		if obs != nil {
			obs.OnPhaseDone("plan", planFields(plan), time.Since(planStarted))
		}
	}
	out.Plan = plan

	var idx *index.Store
	if !opts.DryRun && eff.Index {
		idx, err = index.Open(ctx, eff.StateDir())
		if err != nil {
			return fatal(domain.ErrCodeIndexFailed, err.Error())
		}
		defer idx.Close()
	}

	workers := eff.Workers
	if workers < 1 {
		workers = 1
	}
	actionable := 0
	for _, a := range plan.Actions {
		if !a.Kind.IsSkip() {
			actionable++
		}
	}
	if obs != nil {
		obs.OnPhaseDone("exec", map[string]any{"workers": workers, "total_items": actionable}, 0)
	}

	execOpts := executor.Options{
		DryRun:  opts.DryRun,
		Workers: workers,
		Hasher:  hasher,
		// 已保存的计划可能早于源文件的修改。
		VerifySource: opts.Saved != nil,
	}
	if idx != nil {
		execOpts.Index = idx
	}
	if obs != nil {
		execOpts.OnActionDone = func(done, total int, o domain.FileOutcome, dur time.Duration) {
			obs.OnItemDone(done, total, o, dur)
		}
	}
	res := executor.Execute(ctx, plan, execOpts)
	rr.Files = append(rr.Files, res.Outcomes...)
	if res.IndexErr != nil {
		rr.Errors = append(rr.Errors, domain.RunError{Code: domain.ErrCodeIndexFailed, Message: res.IndexErr.Error()})
	}

	if !opts.DryRun && analysis.Memo != nil {
		for k, h := range analysis.MemoPuts {
			analysis.Memo.Put(k, h)
		}
		if err := analysis.Memo.Save(); err != nil {
			log.Warn().Err(err).Str("path", analysis.Memo.Path()).Msg("保存指纹缓存失败")
		}
	}

	rr.FinishedAt = time.Now()
	rr.Finalize()
	out.Report = rr
	return out
}

func newReport(eff config.EffectiveConfig, command string, dryRun bool) domain.RunReport {
	return domain.RunReport{
		RunID:     uuid.NewString(),
		Command:   command,
		DryRun:    dryRun,
		Sources:   eff.Sources,
		Dest:      eff.Dest,
		StartedAt: time.Now(),
		Files:     make([]domain.FileOutcome, 0, 128),
	}
}

// lockDest 获取 <dest>/.photomc/lock 的排他锁；返回释放函数。
func lockDest(eff config.EffectiveConfig) (unlock func(), code string, err error) {
	dir := eff.StateDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.ErrCodeIOFailed, fmt.Errorf("创建状态目录失败：%w", err)
	}
	lock := flock.New(filepath.Join(dir, LockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, domain.ErrCodeDestLocked, fmt.Errorf("获取库锁失败：%w", err)
	}
	if !ok {
		return nil, domain.ErrCodeDestLocked, fmt.Errorf("目标库正被另一个 apply 使用：%s", lock.Path())
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			log.Warn().Err(err).Msg("释放库锁失败")
		}
	}, "", nil
}

func knownHashes(ctx context.Context, stateDir string) (map[string]string, error) {
	s, err := index.OpenReadOnly(ctx, stateDir)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.KnownHashes(ctx)
}

func planFields(p domain.Plan) map[string]any {
	var moves, copies, dups, conflicts int
	for _, a := range p.Actions {
		switch a.Kind {
		case domain.ActionMove:
			moves++
		case domain.ActionCopy:
			copies++
		case domain.ActionSkipDuplicate:
			dups++
		case domain.ActionSkipUnresolvedConflict:
			conflicts++
		}
	}
	return map[string]any{
		"actions":    len(p.Actions),
		"moves":      moves,
		"copies":     copies,
		"duplicates": dups,
		"conflicts":  conflicts,
		"groups":     len(p.Groups),
	}
}

// Analysis 是扫描 + 轨迹 + 分析阶段的结果。
type Analysis struct {
	Records []domain.PhotoRecord
	// Failed 是无法进入计划的文件（扫描失败/分析失败），已转换为报告条目。
	Failed []domain.FileOutcome
	// Tracks 是按文件路径加载的轨迹点。
	Tracks map[string][]domain.TrackPoint

	Memo     *cache.Store
	MemoPuts map[string]string
}

// AnalyzeOptions 控制 Analyze。
type AnalyzeOptions struct {
	DryRun bool
	Codec  extract.Codec
	Hasher fingerprint.Hasher
}

// Analyze 执行扫描、轨迹加载与逐文件分析。
//
// 返回非 nil 的 RunError 表示致命错误（例如轨迹无法解析），此时不应继续执行。
func Analyze(ctx context.Context, eff config.EffectiveConfig, opts AnalyzeOptions, obs Observer) (Analysis, *domain.RunError) {
	a := Analysis{Tracks: map[string][]domain.TrackPoint{}}

	trackStarted := time.Now()
	all := make([][]domain.TrackPoint, 0, len(eff.Tracks))
	for _, p := range eff.Tracks {
		pts, err := track.Parse(p)
		if err != nil {
			return a, &domain.RunError{Code: domain.ErrCodeTrackParseFailed, Message: err.Error()}
		}
		a.Tracks[p] = pts
		all = append(all, pts)
	}
	var corr *track.Correlator
	if len(all) > 0 {
		corr = track.NewCorrelator(all, eff.MaxGap)
		if obs != nil {
			obs.OnPhaseDone("tracks", map[string]any{"files": len(all), "points": corr.Len()}, time.Since(trackStarted))
		}
	}

	scanStarted := time.Now()
	files, scanErrs := scan.Collect(scan.Options{
		Roots:          eff.Sources,
		Dest:           eff.Dest,
		ExcludeDirs:    eff.ExcludeDirs,
		IncludeHidden:  eff.IncludeHidden,
		FollowSymlinks: eff.FollowSymlinks,
	})
	for _, e := range scanErrs {
		a.Failed = append(a.Failed, domain.FileOutcome{
			SourcePath: e.Path,
			Outcome:    domain.OutcomeFailed,
			Reason:     domain.ErrCodeScanFailed,
			Message:    e.Err.Error(),
		})
	}
	if obs != nil {
		obs.OnPhaseDone("scan", map[string]any{"files": len(files), "errors": len(scanErrs)}, time.Since(scanStarted))
	}

	memo, err := cache.Open(eff.StateDir(), opts.DryRun)
	if err != nil {
		log.Warn().Err(err).Msg("读取指纹缓存失败，将重新计算")
		memo, _ = cache.Open("", opts.DryRun)
	}
	a.Memo = memo

	analyzeStarted := time.Now()
	aopts := analyze.Options{
		Workers:    eff.Workers,
		Codec:      opts.Codec,
		Extract:    extract.Options{Location: eff.TimeZone, Offset: eff.TimeOffset},
		Hasher:     opts.Hasher,
		Memo:       memo,
		Correlator: corr,
	}
	if obs != nil {
		var fails int
		aopts.OnFileDone = func(done, total int, _ string, failed bool) {
			if failed {
				fails++
			}
			if done == total || done%200 == 0 {
				obs.OnProgress(done, total, done-fails, fails, 0, 0, time.Since(analyzeStarted))
			}
		}
	}
	res := analyze.Run(ctx, files, aopts)
	a.Records = res.Records
	a.MemoPuts = res.MemoPuts
	for _, f := range res.Failures {
		a.Failed = append(a.Failed, domain.FileOutcome{
			SourcePath: f.SourcePath,
			Outcome:    domain.OutcomeFailed,
			Reason:     f.Reason,
			Message:    f.Message,
		})
	}
	if obs != nil {
		obs.OnPhaseDone("analyze", map[string]any{
			"records":    len(res.Records),
			"failed":     len(res.Failures),
			"correlated": res.Correlated,
		}, time.Since(analyzeStarted))
	}
	return a, nil
}
