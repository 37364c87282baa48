package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"github.com/John-Robertt/photomc/internal/app/run"
	"github.com/John-Robertt/photomc/internal/config"
	"github.com/John-Robertt/photomc/internal/domain"
	"github.com/John-Robertt/photomc/internal/infra/fsx"
)

const reportFileName = "report.json"

// human 报告 stdout 是否输出人类可读的摘要；否则 stdout 必须且仅输出一个 JSON。
func (c *cli) human() bool {
	return !c.jsonOut && isTTY(c.stdout)
}

func (c *cli) emitReport(rr domain.RunReport) {
	if c.human() {
		fmt.Fprintln(c.stdout, renderSummary(rr))
		if rows := problemRows(rr); len(rows) > 0 {
			fmt.Fprintln(c.stderr, renderTable(
				[]string{"source", "outcome", "reason", "message"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
			))
		}
		for _, e := range rr.Errors {
			fmt.Fprintf(c.stderr, "%s: %s\n", e.Code, e.Message)
		}
		return
	}

	c.emitJSON(rr)
	s := rr.Summary
	fmt.Fprintf(c.stderr, "完成：moved=%d copied=%d planned=%d skipped_duplicate=%d skipped_conflict=%d failed=%d errors=%d\n",
		s.Moved, s.Copied, s.Planned, s.SkippedDuplicate, s.SkippedConflict, s.Failed, len(rr.Errors),
	)
}

func (c *cli) emitVerify(rep run.VerifyReport) {
	if c.human() {
		fmt.Fprintf(c.stdout, "verify: checked=%d problems=%d\n", rep.Checked, len(rep.Problems))
		if len(rep.Problems) > 0 {
			rows := make([][]string, 0, len(rep.Problems))
			for _, p := range rep.Problems {
				rows = append(rows, []string{p.DestPath, p.Kind, truncate(p.Detail, 100)})
			}
			fmt.Fprintln(c.stdout, renderTable([]string{"path", "problem", "detail"}, rows, nil))
		}
		for _, e := range rep.Errors {
			fmt.Fprintf(c.stderr, "%s: %s\n", e.Code, e.Message)
		}
		return
	}
	c.emitJSON(rep)
	fmt.Fprintf(c.stderr, "完成：checked=%d problems=%d errors=%d\n", rep.Checked, len(rep.Problems), len(rep.Errors))
}

func (c *cli) emitMap(rep run.MapReport) {
	if c.human() {
		fmt.Fprintf(c.stdout, "map: records=%d placemarks=%d failed=%d -> %s\n", rep.Records, rep.Placemarks, len(rep.Failed), rep.Out)
		for _, e := range rep.Errors {
			fmt.Fprintf(c.stderr, "%s: %s\n", e.Code, e.Message)
		}
		return
	}
	c.emitJSON(rep)
	fmt.Fprintf(c.stderr, "完成：records=%d placemarks=%d errors=%d\n", rep.Records, rep.Placemarks, len(rep.Errors))
}

func (c *cli) emitJSON(v any) {
	enc := json.NewEncoder(c.stdout)
	_ = enc.Encode(v)
}

func renderSummary(rr domain.RunReport) string {
	s := rr.Summary
	mode := "apply"
	if rr.DryRun {
		mode = "dry-run"
	}
	rows := [][]string{
		{"total", strconv.Itoa(s.Total)},
		{"moved", strconv.Itoa(s.Moved)},
		{"copied", strconv.Itoa(s.Copied)},
		{"planned", strconv.Itoa(s.Planned)},
		{"skipped_duplicate", strconv.Itoa(s.SkippedDuplicate)},
		{"skipped_conflict", strconv.Itoa(s.SkippedConflict)},
		{"failed", strconv.Itoa(s.Failed)},
		{"bytes", humanize.Bytes(uint64(max(s.Bytes, 0)))},
		{"elapsed", formatElapsed(rr.FinishedAt.Sub(rr.StartedAt))},
	}
	return fmt.Sprintf("%s (%s)\n", rr.Command, mode) +
		renderTable([]string{"outcome", "count"}, rows, []columnAlignment{alignLeft, alignRight})
}

// problemRows 只列出需要用户关注的条目：失败与未解决的冲突。
func problemRows(rr domain.RunReport) [][]string {
	rows := make([][]string, 0)
	for _, f := range rr.Files {
		if f.Outcome != domain.OutcomeFailed && f.Outcome != domain.OutcomeSkippedConflict {
			continue
		}
		rows = append(rows, []string{truncate(f.SourcePath, 80), f.Outcome, f.Reason, truncate(f.Message, 100)})
	}
	return rows
}

// reportForConfigError 把配置阶段的错误包装成一个完整的 RunReport（不会有任何写入）。
func reportForConfigError(command string, dryRun bool, err error) domain.RunReport {
	now := time.Now().UTC()
	code := config.Code(err)
	if code == "" {
		code = config.ErrCodeInvalid
	}
	rr := domain.RunReport{
		RunID:      uuid.NewString(),
		Command:    command,
		DryRun:     dryRun,
		StartedAt:  now,
		FinishedAt: now,
		Errors:     []domain.RunError{{Code: code, Message: err.Error()}},
	}
	rr.Finalize()
	return rr
}

func writeReportFile(stateDir string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomicReplace(stateDir, reportFileName, b)
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// progress 返回交互终端下的进度输出；非交互环境返回 nil（不输出进度）。
func (c *cli) progress() *progressUI {
	// 进度默认走 stderr（不污染 stdout JSON）。
	if isTTY(c.stderr) {
		return newProgressUI(c.stderr)
	}
	// 仅重定向 stderr 时 stdout 仍是 TTY：此时 stdout 输出的是摘要而不是 JSON，可以退化到 stdout。
	if c.human() {
		return newProgressUI(c.stdout)
	}
	return nil
}

func observerOf(p *progressUI) run.Observer {
	if p == nil {
		return nil
	}
	return p
}
