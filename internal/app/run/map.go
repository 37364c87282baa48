package run

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/photomc/internal/config"
	"github.com/John-Robertt/photomc/internal/domain"
	"github.com/John-Robertt/photomc/internal/export"
	"github.com/John-Robertt/photomc/internal/extract"
	"github.com/John-Robertt/photomc/internal/fingerprint"
)

// MapReport 是 map 的对外稳定输出。
type MapReport struct {
	RunID      string               `json:"run_id"`
	Command    string               `json:"command"`
	Out        string               `json:"out"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Records    int                  `json:"records"`
	Placemarks int                  `json:"placemarks"`
	Failed     []domain.FileOutcome `json:"failed"`
	Errors     []domain.RunError    `json:"errors"`
}

// HasErrors 报告 map 是否应以非零退出码结束（分析失败的文件不计入）。
func (r *MapReport) HasErrors() bool { return len(r.Errors) > 0 }

// Map 分析所有源文件，并把有有效位置的记录导出为 KML 文件 out。不会修改源与目标。
func Map(ctx context.Context, eff config.EffectiveConfig, out string, codec extract.Codec, obs Observer) MapReport {
	rep := MapReport{
		RunID:     uuid.NewString(),
		Command:   CommandMap,
		Out:       out,
		StartedAt: time.Now().UTC(),
		Failed:    []domain.FileOutcome{},
		Errors:    []domain.RunError{},
	}
	fail := func(code, msg string) MapReport {
		rep.Errors = append(rep.Errors, domain.RunError{Code: code, Message: msg})
		rep.FinishedAt = time.Now().UTC()
		return rep
	}
	if obs != nil {
		obs.OnStart(eff, CommandMap, true)
	}

	hasher, err := fingerprint.New(eff.Hash)
	if err != nil {
		return fail(domain.ErrCodeConfigInvalid, err.Error())
	}
	a, rerr := Analyze(ctx, eff, AnalyzeOptions{DryRun: true, Codec: codec, Hasher: hasher}, obs)
	if rerr != nil {
		return fail(rerr.Code, rerr.Message)
	}
	rep.Records = len(a.Records)
	if a.Failed != nil {
		rep.Failed = a.Failed
	}

	n, err := export.WriteKMLFile(out, export.Map{Name: "photomc", Records: a.Records, Tracks: a.Tracks})
	if err != nil {
		return fail(domain.ErrCodeIOFailed, err.Error())
	}
	rep.Placemarks = n
	rep.FinishedAt = time.Now().UTC()
	return rep
}
