package planner

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/John-Robertt/photomc/internal/app"
	"github.com/John-Robertt/photomc/internal/domain"
)

const (
	// UndatedDir 是没有拍摄时间的照片所在的顶层目录。
	UndatedDir = "undated"
	// SuffixLen 是冲突后缀使用的 hash 前缀初始长度，每次不唯一时加 SuffixStep。
	SuffixLen  = 8
	SuffixStep = 4
)

// Options 是规划的全部输入；Plan 不读取任何文件系统状态。
type Options struct {
	DestRoot string
	Mode     string // copy | move
	HashAlgo string

	// Policy 选择重复组的 canonical；nil 表示 Earliest。
	Policy Policy

	// GeoGrid 是地理分桶的格子大小（度）；0 表示不按位置分目录。
	GeoGrid          float64
	LowConfidenceGap time.Duration
	XMPSidecars      bool

	// KnownHashes 是目标库中已有的内容：hash -> 库内路径。
	KnownHashes map[string]string
}

// Plan 把所有记录转换为一份确定性的动作计划。
//
// 约束：
// - 纯函数：相同输入（与顺序无关）得到逐字节相同的序列化结果
// - 每条记录恰好一个动作；不会静默丢弃任何记录
// - 所有非 skip 动作的目标路径两两不同（忽略大小写，NFC 归一化后比较）
func Plan(records []domain.PhotoRecord, opts Options) domain.Plan {
	recs := append([]domain.PhotoRecord(nil), records...)
	sort.Slice(recs, func(i, j int) bool { return recs[i].SourcePath < recs[j].SourcePath })

	policy := opts.Policy
	if policy == nil {
		policy = Earliest
	}
	kind := domain.ActionCopy
	if opts.Mode == "move" {
		kind = domain.ActionMove
	}

	actions := make([]domain.PlannedAction, len(recs))
	groups := make([]domain.DuplicateGroup, 0, 16)
	candidates := make([]int, 0, len(recs)) // 需要分配目标路径的记录下标

	for _, g := range app.GroupByHash(recs) {
		ci := g.Idx[0]
		for _, i := range g.Idx[1:] {
			if policy(&recs[i], &recs[ci]) {
				ci = i
			}
		}
		canonical := recs[ci].SourcePath

		if len(g.Idx) > 1 && g.Hash != "" {
			members := make([]string, 0, len(g.Idx))
			for _, i := range g.Idx {
				members = append(members, recs[i].SourcePath)
			}
			groups = append(groups, domain.DuplicateGroup{ContentHash: g.Hash, Canonical: canonical, Members: members})
		}

		for _, i := range g.Idx {
			a := baseAction(recs[i], opts)
			switch {
			// 没有 hash 的记录无法参与去重（外部调用方传入的记录不一定来自 analyze）。
			case strings.TrimSpace(recs[i].ContentHash) == "":
				a.Kind = domain.ActionSkipUnresolvedConflict
				a.Reason = domain.ErrCodeHashFailed
			case i != ci:
				a.Kind = domain.ActionSkipDuplicate
				a.Reason = domain.ErrCodeDuplicate
				a.DuplicateOf = canonical
			case opts.KnownHashes[g.Hash] != "":
				a.Kind = domain.ActionSkipDuplicate
				a.Reason = domain.ErrCodeAlreadyInLibrary
				a.DuplicateOf = opts.KnownHashes[g.Hash]
			default:
				a.Kind = kind
				a.Destination = Destination(opts.DestRoot, recs[i], opts.GeoGrid)
				candidates = append(candidates, i)
			}
			actions[i] = a
		}
	}

	resolveCollisions(actions, candidates)

	for i := range actions {
		a := &actions[i]
		if a.Kind.IsSkip() {
			a.Destination = ""
			a.SidecarPath = ""
			continue
		}
		if opts.XMPSidecars && hasFlag(a.Flags, domain.FlagCorrelatedLocation) {
			a.SidecarPath = a.Destination + ".xmp"
		}
	}

	return domain.Plan{
		Version:  domain.PlanVersion,
		DestRoot: opts.DestRoot,
		Mode:     string(kind),
		HashAlgo: opts.HashAlgo,
		Actions:  actions,
		Groups:   groups,
	}
}

func baseAction(r domain.PhotoRecord, opts Options) domain.PlannedAction {
	a := domain.PlannedAction{
		Source:      r.SourcePath,
		ContentHash: r.ContentHash,
		Size:        r.Size,
	}
	if r.CaptureTime != nil {
		a.CaptureTime = r.CaptureTime.Format(time.RFC3339)
	} else {
		a.Flags = append(a.Flags, domain.FlagUndated)
	}
	if c, correlated, ok := r.EffectivePosition(); ok {
		p := c
		a.Position = &p
		if correlated {
			a.Flags = append(a.Flags, domain.FlagCorrelatedLocation)
			if r.CorrelatedPosition.Gap > opts.LowConfidenceGap {
				a.Flags = append(a.Flags, domain.FlagLowConfidenceLocation)
			}
		}
	}
	return a
}

// resolveCollisions 为目标路径冲突的记录追加 hash 前缀后缀。
//
// 顺序（确定性）：
// 1) 先为没有冲突的目标路径占位
// 2) 冲突集合按归一化路径排序；集合内按 source 路径顺序，每个成员都追加 _<hash 前缀>
// 3) 前缀从 8 位开始，每次加 4 位直到唯一；用尽完整 hash 仍冲突则降级为 skip_conflict
func resolveCollisions(actions []domain.PlannedAction, candidates []int) {
	byKey := make(map[string][]int, len(candidates))
	for _, i := range candidates {
		k := Key(actions[i].Destination)
		byKey[k] = append(byKey[k], i)
	}

	reserved := make(map[string]struct{}, len(candidates))
	collided := make([]string, 0)
	for k, idx := range byKey {
		if len(idx) == 1 {
			reserved[k] = struct{}{}
			continue
		}
		collided = append(collided, k)
	}
	sort.Strings(collided)

	for _, k := range collided {
		idx := byKey[k]
		sort.Slice(idx, func(a, b int) bool { return actions[idx[a]].Source < actions[idx[b]].Source })
		for _, i := range idx {
			a := &actions[i]
			base := a.Destination
			resolved := false
			for n := SuffixLen; ; n += SuffixStep {
				n = min(n, len(a.ContentHash))
				cand := withSuffix(base, "_"+a.ContentHash[:n])
				ck := Key(cand)
				if _, taken := reserved[ck]; !taken {
					reserved[ck] = struct{}{}
					a.Destination = cand
					resolved = true
					break
				}
				if n == len(a.ContentHash) {
					break
				}
			}
			if !resolved {
				a.Kind = domain.ActionSkipUnresolvedConflict
				a.Reason = domain.ErrCodeUnresolvedConflict
			}
		}
	}
}

func withSuffix(p, suffix string) string {
	ext := filepath.Ext(p)
	return strings.TrimSuffix(p, ext) + suffix + ext
}

// Key 是目标路径的冲突比较键：NFC 归一化 + 小写。
func Key(p string) string {
	return strings.ToLower(norm.NFC.String(p))
}

// Destination 计算一条记录的“原始”目标路径（尚未处理冲突）。
//
//	有拍摄时间：<dest>/<YYYY>/<YYYY-MM-DD>/[<geo>/]<YYYYMMDD-HHMMSS><ext>
//	无拍摄时间：<dest>/undated/[<geo>/]<原文件名>
//
// 时间按照片自身的时区（墙上时间）格式化；扩展名小写；路径做 NFC 归一化。
func Destination(root string, r domain.PhotoRecord, grid float64) string {
	name := norm.NFC.String(filepath.Base(r.SourcePath))
	ext := strings.ToLower(filepath.Ext(name))
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	parts := []string{root}
	if r.CaptureTime != nil {
		t := *r.CaptureTime
		parts = append(parts, t.Format("2006"), t.Format("2006-01-02"))
		stem = t.Format("20060102-150405")
	} else {
		parts = append(parts, UndatedDir)
	}
	if c, _, ok := r.EffectivePosition(); ok && grid > 0 {
		parts = append(parts, GeoBucket(c, grid))
	}
	parts = append(parts, stem+ext)
	return norm.NFC.String(filepath.Join(parts...))
}

// GeoBucket 把坐标映射到格子左下角，格式如 N47.3_E008.5（小数位数由格子大小决定）。
func GeoBucket(c domain.Coord, grid float64) string {
	dec := gridDecimals(grid)
	cell := func(v float64) float64 {
		return math.Floor(v/grid+1e-9) * grid
	}
	lat, lon := cell(c.Lat), cell(c.Lon)
	return hemi(lat, "N", "S", 2, dec) + "_" + hemi(lon, "E", "W", 3, dec)
}

func hemi(v float64, pos, neg string, intDigits, dec int) string {
	prefix := pos
	// 四舍五入到显示精度后再判断符号，避免出现 "S00.0"。
	if math.Round(v*math.Pow10(dec)) < 0 {
		prefix = neg
	}
	width := intDigits
	if dec > 0 {
		width += 1 + dec
	}
	return fmt.Sprintf("%s%0*.*f", prefix, width, dec, math.Abs(v))
}

func gridDecimals(grid float64) int {
	s := strconv.FormatFloat(grid, 'f', -1, 64)
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0
	}
	return min(len(s)-i-1, 6)
}

func hasFlag(flags []string, f string) bool {
	for _, x := range flags {
		if x == f {
			return true
		}
	}
	return false
}
