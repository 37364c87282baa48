package planner

import (
	"fmt"

	"github.com/John-Robertt/photomc/internal/domain"
)

// Policy 报告 a 是否应优先于 b 成为重复组的 canonical。
// 实现必须是严格全序（最终以 SourcePath 打破平局），否则规划结果不确定。
type Policy func(a, b *domain.PhotoRecord) bool

// Earliest：有拍摄时间的优先；时间更早的优先；其余按源路径字典序。
func Earliest(a, b *domain.PhotoRecord) bool {
	switch {
	case a.CaptureTime != nil && b.CaptureTime == nil:
		return true
	case a.CaptureTime == nil && b.CaptureTime != nil:
		return false
	case a.CaptureTime != nil && !a.CaptureTime.Equal(*b.CaptureTime):
		return a.CaptureTime.Before(*b.CaptureTime)
	}
	return a.SourcePath < b.SourcePath
}

// ShortestPath：源路径更短的优先，平局回落到 Earliest。
func ShortestPath(a, b *domain.PhotoRecord) bool {
	if len(a.SourcePath) != len(b.SourcePath) {
		return len(a.SourcePath) < len(b.SourcePath)
	}
	return Earliest(a, b)
}

// RootOrder：命令行中靠前的源根优先，平局回落到 Earliest。
func RootOrder(a, b *domain.PhotoRecord) bool {
	if a.RootIndex != b.RootIndex {
		return a.RootIndex < b.RootIndex
	}
	return Earliest(a, b)
}

// PolicyByName 把配置中的策略名映射为实现；空字符串表示 earliest。
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "earliest":
		return Earliest, nil
	case "shortest-path":
		return ShortestPath, nil
	case "root-order":
		return RootOrder, nil
	default:
		return nil, fmt.Errorf("未知的重复策略：%q", name)
	}
}
