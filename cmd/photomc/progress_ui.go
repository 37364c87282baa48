package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/John-Robertt/photomc/internal/app/run"
	"github.com/John-Robertt/photomc/internal/config"
	"github.com/John-Robertt/photomc/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的进度输出。
//
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：长时间无条目完成时也会定期输出一行
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	workers int
	total   int
	done    int
	ok      int
	fail    int
	skip    int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig, command string, dryRun bool) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	mode := "apply"
	modeHint := ""
	if dryRun {
		mode = "dry-run"
		modeHint = " (不写入/不移动)"
	}

	fmt.Fprintf(p.w, "[%s] photomc %s (%s)\n", now.Format("15:04:05"), command, mode)
	fmt.Fprintln(p.w, "配置（生效）:")
	if eff.ConfigPath != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigPath)
	}
	fmt.Fprintf(p.w, "  sources: %s\n", formatStringListJSON(eff.Sources))
	fmt.Fprintf(p.w, "  dest: %s\n", eff.Dest)
	fmt.Fprintf(p.w, "  mode: %s%s\n", eff.Mode, modeHint)
	fmt.Fprintf(p.w, "  duplicate_policy: %s\n", eff.DuplicatePolicy)
	fmt.Fprintf(p.w, "  tracks: %s (max_gap=%s)\n", formatStringListJSON(eff.Tracks), eff.MaxGap)
	fmt.Fprintf(p.w, "  hash: %s\n", eff.Hash)
	fmt.Fprintf(p.w, "  workers: %d\n", eff.Workers)
	fmt.Fprintf(p.w, "  xmp_sidecars: %s  index: %s\n", onOff(eff.XMPSidecars), onOff(eff.Index))
	fmt.Fprintf(p.w, "  exclude_dirs: %s + 固定排除 dest/, .photomc/\n", formatStringListJSON(eff.ExcludeDirs))
	if !dryRun && eff.Dest != "" {
		fmt.Fprintln(p.w, "输出:")
		fmt.Fprintf(p.w, "  report: %s\n", filepath.Join(eff.StateDir(), reportFileName))
	}
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "tracks":
		fmt.Fprintf(p.w, "轨迹: files=%d points=%d (%s)\n",
			intField(fields, "files"), intField(fields, "points"), formatShortDuration(dur),
		)
	case "scan":
		fmt.Fprintf(p.w, "扫描: files=%d errors=%d (%s)\n",
			intField(fields, "files"), intField(fields, "errors"), formatShortDuration(dur),
		)
	case "analyze":
		fmt.Fprintf(p.w, "分析: records=%d failed=%d correlated=%d (%s)\n",
			intField(fields, "records"), intField(fields, "failed"), intField(fields, "correlated"), formatShortDuration(dur),
		)
	case "plan":
		fmt.Fprintf(p.w, "规划: actions=%d moves=%d copies=%d duplicates=%d conflicts=%d groups=%d (%s)\n",
			intField(fields, "actions"),
			intField(fields, "moves"),
			intField(fields, "copies"),
			intField(fields, "duplicates"),
			intField(fields, "conflicts"),
			intField(fields, "groups"),
			formatShortDuration(dur),
		)
	case "exec":
		p.workers = intField(fields, "workers")
		p.total = intField(fields, "total_items")
		fmt.Fprintf(p.w, "执行: workers=%d total_items=%d\n\n", p.workers, p.total)
		if p.total > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	default:
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnItemDone(idx, total int, out domain.FileOutcome, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = idx
	p.total = total

	status := statusLabel(out.Outcome)
	switch status {
	case "OK", "PLAN":
		p.ok++
	case "FAIL", "CONFLICT":
		p.fail++
	default:
		p.skip++
	}

	src := truncate(out.SourcePath, 80)
	switch out.Outcome {
	case domain.OutcomeFailed, domain.OutcomeSkippedConflict:
		fmt.Fprintf(p.w, "[%d/%d] %s %s %s: %s (%s)\n",
			idx, total, src, status, out.Reason, truncate(out.Message, 160), formatShortDuration(dur),
		)
	case domain.OutcomeSkippedDuplicate:
		of := out.DuplicateOf
		if of == "" {
			of = out.DestinationPath
		}
		fmt.Fprintf(p.w, "[%d/%d] %s %s %s -> %s (%s)\n",
			idx, total, src, status, out.Reason, truncate(of, 80), formatShortDuration(dur),
		)
	default:
		note := ""
		if out.Reason != "" {
			note = " " + out.Reason
		}
		fmt.Fprintf(p.w, "[%d/%d] %s %s -> %s %s%s (%s)\n",
			idx, total, src, status, truncate(out.DestinationPath, 80), humanize.Bytes(uint64(max(out.Size, 0))), note, formatShortDuration(dur),
		)
	}

	p.lastPrinted = time.Now()

	// 最后一条完成：停止 ticker，避免在结束打印后又冒出 keepalive。
	if p.done >= p.total {
		p.stopTickerLocked()
	}
}

func (p *progressUI) OnProgress(done, total, ok, fail, skip, active int, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, "进度: done=%d/%d ok=%d fail=%d skip=%d active=%d elapsed=%s\n",
		done, total, ok, fail, skip, active, formatElapsed(elapsed),
	)
	p.lastPrinted = time.Now()
}

// stop 停止 keepalive（取消或执行为空时 OnItemDone 不会走到最后一条）。nil 安全。
func (p *progressUI) stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTickerLocked()
}

func (p *progressUI) stopTickerLocked() {
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) startTickerLocked() {
	stopCh := make(chan struct{})
	p.stopCh = stopCh
	p.tickerStarted = true

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && p.done >= p.total {
					p.mu.Unlock()
					return
				}
				if p.total > 0 && time.Since(p.lastPrinted) > threshold {
					active := min(p.workers, p.total-p.done)
					fmt.Fprintf(p.w, "进度: done=%d/%d ok=%d fail=%d skip=%d active=%d elapsed=%s\n",
						p.done, p.total, p.ok, p.fail, p.skip, active, formatElapsed(time.Since(p.startedAt)),
					)
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stopCh:
				return
			}
		}
	}()
}

func statusLabel(outcome string) string {
	switch outcome {
	case domain.OutcomeMoved, domain.OutcomeCopied:
		return "OK"
	case domain.OutcomePlanned:
		return "PLAN"
	case domain.OutcomeSkippedDuplicate:
		return "SKIP"
	case domain.OutcomeSkippedConflict:
		return "CONFLICT"
	case domain.OutcomeFailed:
		return "FAIL"
	default:
		return strings.ToUpper(outcome)
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func formatStringListJSON(xs []string) string {
	// json.Marshal(nil slice) => "null"；对用户更友好的是 "[]"
	if xs == nil {
		xs = []string{}
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	v, ok := fields[key]
	if !ok {
		return 0
	}
	switch x := v.(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	case uint:
		return int(x)
	case uint32:
		return int(x)
	case uint64:
		return int(x)
	default:
		return 0
	}
}
