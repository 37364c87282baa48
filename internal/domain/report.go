package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	OutcomeMoved            = "moved"
	OutcomeCopied           = "copied"
	OutcomePlanned          = "planned"
	OutcomeSkippedDuplicate = "skipped_duplicate"
	OutcomeSkippedConflict  = "skipped_conflict"
	OutcomeFailed           = "failed"
)

const (
	ErrCodeExtractFailed      = "extract_failed"
	ErrCodeOpenFailed         = "open_failed"
	ErrCodeUnsupportedFormat  = "unsupported_format"
	ErrCodeHashFailed         = "hash_failed"
	ErrCodePanic              = "panic"
	ErrCodeTrackParseFailed   = "track_parse_failed"
	ErrCodeUnresolvedConflict = "unresolved_conflict"
	ErrCodeDuplicate          = "duplicate"
	ErrCodeAlreadyInLibrary   = "already_in_library"
	ErrCodeAlreadyPresent     = "already_present"
	ErrCodeTargetConflict     = "target_conflict"
	ErrCodeSourceMissing      = "source_missing"
	ErrCodeSourceChanged      = "source_changed"
	ErrCodeIOFailed           = "io_failed"
	ErrCodeMoveFailed         = "move_failed"
	ErrCodeSidecarFailed      = "sidecar_failed"
	ErrCodeCanceled           = "canceled"
	ErrCodeScanFailed         = "scan_failed"
	ErrCodeIndexFailed        = "index_failed"
	ErrCodeDestLocked         = "dest_locked"
	ErrCodeConfigNotFound     = "config_not_found"
	ErrCodeConfigInvalid      = "config_invalid"
	ErrCodeConfigMissingDest  = "config_missing_dest"
	ErrCodeConfigMissingSrc   = "config_missing_source"
)

// RunReport 是对外稳定输出（stdout JSON / report 文件）的结构。
type RunReport struct {
	RunID   string   `json:"run_id"`
	Command string   `json:"command"`
	DryRun  bool     `json:"dry_run"`
	Sources []string `json:"sources"`
	Dest    string   `json:"dest"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary `json:"summary"`
	// Errors 是整次运行级别的致命错误（配置/轨迹/锁），出现时不会发生任何写入。
	Errors []RunError    `json:"errors"`
	Files  []FileOutcome `json:"files"`
}

type ReportSummary struct {
	Total            int   `json:"total"`
	Moved            int   `json:"moved"`
	Copied           int   `json:"copied"`
	Planned          int   `json:"planned"`
	SkippedDuplicate int   `json:"skipped_duplicate"`
	SkippedConflict  int   `json:"skipped_conflict"`
	Failed           int   `json:"failed"`
	Bytes            int64 `json:"bytes"`
}

type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FileOutcome 是每个输入文件唯一的一条结果。
type FileOutcome struct {
	SourcePath      string `json:"source_path"`
	Outcome         string `json:"outcome"`
	DestinationPath string `json:"destination_path,omitempty"`
	// DuplicateOf 仅 skipped_duplicate 时非空：本次运行中的 canonical 源文件，或库内已有文件。
	DuplicateOf string   `json:"duplicate_of,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	Message     string   `json:"message,omitempty"`
	Flags       []string `json:"flags,omitempty"`
	Size        int64    `json:"size,omitempty"`
}

// Failed 报告整次运行是否应以非零退出码结束。
func (r *RunReport) Failed() bool {
	return len(r.Errors) > 0 || r.Summary.Failed > 0 || r.Summary.SkippedConflict > 0
}

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) files 按 source_path 稳定排序
// 3) summary 由 files 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	if r.Errors == nil {
		r.Errors = []RunError{}
	}
	if r.Files == nil {
		r.Files = []FileOutcome{}
	}
	if r.Sources == nil {
		r.Sources = []string{}
	}

	sort.SliceStable(r.Files, func(i, j int) bool { return r.Files[i].SourcePath < r.Files[j].SourcePath })

	s := ReportSummary{Total: len(r.Files)}
	for _, f := range r.Files {
		switch f.Outcome {
		case OutcomeMoved:
			s.Moved++
			s.Bytes += f.Size
		case OutcomeCopied:
			s.Copied++
			s.Bytes += f.Size
		case OutcomePlanned:
			s.Planned++
			s.Bytes += f.Size
		case OutcomeSkippedDuplicate:
			s.SkippedDuplicate++
		case OutcomeSkippedConflict:
			s.SkippedConflict++
		case OutcomeFailed:
			s.Failed++
		}
	}
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
