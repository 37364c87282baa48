package run

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/John-Robertt/photomc/internal/config"
	"github.com/John-Robertt/photomc/internal/domain"
	"github.com/John-Robertt/photomc/internal/fingerprint"
	"github.com/John-Robertt/photomc/internal/index"
)

// VerifyReport 是 verify 的对外稳定输出。
type VerifyReport struct {
	RunID      string            `json:"run_id"`
	Command    string            `json:"command"`
	Dest       string            `json:"dest"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Checked    int               `json:"checked"`
	Problems   []index.Problem   `json:"problems"`
	Errors     []domain.RunError `json:"errors"`
}

// Failed 报告 verify 是否应以非零退出码结束。
func (r *VerifyReport) Failed() bool { return len(r.Errors) > 0 || len(r.Problems) > 0 }

// Verify 重新计算索引中每个文件的 hash。索引不存在时视为空库（Checked=0）。
func Verify(ctx context.Context, eff config.EffectiveConfig) VerifyReport {
	rep := VerifyReport{
		RunID:     uuid.NewString(),
		Command:   CommandVerify,
		Dest:      eff.Dest,
		StartedAt: time.Now().UTC(),
		Problems:  []index.Problem{},
		Errors:    []domain.RunError{},
	}
	fail := func(code string, err error) VerifyReport {
		log.Error().Err(err).Str("code", code).Msg("verify 失败")
		rep.Errors = append(rep.Errors, domain.RunError{Code: code, Message: err.Error()})
		rep.FinishedAt = time.Now().UTC()
		return rep
	}

	hasher, err := fingerprint.New(eff.Hash)
	if err != nil {
		return fail(domain.ErrCodeConfigInvalid, err)
	}
	s, err := index.OpenReadOnly(ctx, eff.StateDir())
	if err != nil {
		return fail(domain.ErrCodeIndexFailed, err)
	}
	defer s.Close()

	entries, err := s.Entries(ctx)
	if err != nil {
		return fail(domain.ErrCodeIndexFailed, err)
	}

	res := index.Verify(ctx, entries, func(p string) (string, error) {
		h, _, err := hasher.File(p)
		return h, err
	}, eff.Workers)
	rep.Checked = res.Checked
	rep.Problems = res.Problems
	rep.FinishedAt = time.Now().UTC()
	return rep
}
