package domain

// ActionKind 是计划动作的类型。
type ActionKind string

const (
	ActionMove                   ActionKind = "move"
	ActionCopy                   ActionKind = "copy"
	ActionSkipDuplicate          ActionKind = "skip_duplicate"
	ActionSkipUnresolvedConflict ActionKind = "skip_conflict"
)

// IsSkip 报告该动作是否不会产生任何文件系统写入。
func (k ActionKind) IsSkip() bool {
	return k == ActionSkipDuplicate || k == ActionSkipUnresolvedConflict
}

const (
	FlagCorrelatedLocation    = "correlated_location"
	FlagLowConfidenceLocation = "low_confidence_location"
	FlagUndated               = "undated"
)

// PlannedAction 是 plan 中针对一个源文件的唯一动作。
//
// 不变量：同一个 Plan 内，所有非 skip 动作的 Destination 两两不同。
type PlannedAction struct {
	Source      string     `json:"source"`
	Destination string     `json:"destination,omitempty"`
	Kind        ActionKind `json:"kind"`
	ContentHash string     `json:"content_hash"`

	// DuplicateOf 仅 skip_duplicate 时非空：canonical 源文件或库内已有文件。
	DuplicateOf string   `json:"duplicate_of,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	Flags       []string `json:"flags,omitempty"`

	// SidecarPath 非空时，执行层需要在目标旁写出 XMP（仅轨迹插值得到的位置）。
	SidecarPath string `json:"sidecar_path,omitempty"`
	Position    *Coord `json:"position,omitempty"`
	CaptureTime string `json:"capture_time,omitempty"`
	Size        int64  `json:"size"`
}

// DuplicateGroup 是共享同一 content hash 的源文件集合（Members 按路径排序）。
type DuplicateGroup struct {
	ContentHash string   `json:"content_hash"`
	Canonical   string   `json:"canonical"`
	Members     []string `json:"members"`
}

const PlanVersion = 1

// Plan 是一次完整、确定性的文件动作集合。
//
// 约束：不包含任何时间戳/随机值，保证相同输入序列化后逐字节一致。
type Plan struct {
	Version  int    `json:"version"`
	DestRoot string `json:"dest_root"`
	Mode     string `json:"mode"`
	HashAlgo string `json:"hash_algo"`

	Actions []PlannedAction  `json:"actions"`
	Groups  []DuplicateGroup `json:"duplicate_groups"`
}
