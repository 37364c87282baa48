package domain

import "time"

// SourceFile 描述一次扫描得到的候选文件（只做 stat，不读内容）。
//
// 不变量：
// - AbsPath 必须是 clean + absolute
// - RootIndex 指向配置中的 sources 下标（用于 root-order 去重策略）
type SourceFile struct {
	AbsPath   string
	RelPath   string
	RootIndex int
	Ext       string // 小写，例如 ".jpg"
	Size      int64
	ModUnixNs int64
}

// Coord 是十进制度数表示的经纬度（南纬/西经为负）。
type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// CorrelatedPosition 是由 GPS 轨迹插值得到的位置。
// Gap 是所用相邻轨迹点的时间间隔：越小越可信；精确命中轨迹点时为 0。
type CorrelatedPosition struct {
	Coord
	Gap time.Duration `json:"gap_ns"`
}

// PhotoRecord 是单个源文件的分析结果。创建后不可变；planner 只读。
type PhotoRecord struct {
	SourcePath  string `json:"source_path"`
	RootIndex   int    `json:"root_index"`
	ContentHash string `json:"content_hash"`
	Size        int64  `json:"size"`

	Format string `json:"format,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`

	CaptureTime        *time.Time          `json:"capture_time,omitempty"`
	EmbeddedPosition   *Coord              `json:"embedded_position,omitempty"`
	CorrelatedPosition *CorrelatedPosition `json:"correlated_position,omitempty"`

	// Warnings 记录非致命的提取问题（例如 EXIF 缺失/损坏）。
	Warnings []string `json:"warnings,omitempty"`
}

// EffectivePosition 返回最终使用的位置：相机写入的 GPS 优先于轨迹插值。
// correlated 表示结果来自轨迹插值。
func (r PhotoRecord) EffectivePosition() (c Coord, correlated bool, ok bool) {
	if r.EmbeddedPosition != nil {
		return *r.EmbeddedPosition, false, true
	}
	if r.CorrelatedPosition != nil {
		return r.CorrelatedPosition.Coord, true, true
	}
	return Coord{}, false, false
}

// Failure 是分析阶段的硬失败：该文件不进入 plan，但必须出现在 report 中。
type Failure struct {
	SourcePath string
	Reason     string // ErrCode*
	Message    string
}
