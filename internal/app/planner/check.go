package planner

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/photomc/internal/domain"
)

// Check 校验一份（可能来自磁盘的）计划是否满足执行前提：
// 版本匹配、每个源只出现一次、目标位于 DestRoot 之下且两两不同。
func Check(p domain.Plan) error {
	if p.Version != domain.PlanVersion {
		return fmt.Errorf("plan 版本 %d 不受支持（期望 %d）", p.Version, domain.PlanVersion)
	}
	root := filepath.Clean(p.DestRoot)
	if !filepath.IsAbs(root) {
		return fmt.Errorf("plan dest_root 必须是绝对路径：%q", p.DestRoot)
	}

	sources := make(map[string]struct{}, len(p.Actions))
	targets := make(map[string]string, len(p.Actions))
	for _, a := range p.Actions {
		if _, dup := sources[a.Source]; dup {
			return fmt.Errorf("源文件重复出现：%q", a.Source)
		}
		sources[a.Source] = struct{}{}

		switch a.Kind {
		case domain.ActionSkipDuplicate, domain.ActionSkipUnresolvedConflict:
			continue
		case domain.ActionCopy, domain.ActionMove:
		default:
			return fmt.Errorf("未知的动作类型：%q（%s）", a.Kind, a.Source)
		}

		dst := filepath.Clean(a.Destination)
		rel, err := filepath.Rel(root, dst)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("目标不在 dest_root 之下：%q", a.Destination)
		}
		k := Key(dst)
		if prev, ok := targets[k]; ok {
			return fmt.Errorf("目标冲突：%q 与 %q 都指向 %q", prev, a.Source, a.Destination)
		}
		targets[k] = a.Source
	}
	return nil
}
