package run

import (
	"time"

	"github.com/John-Robertt/photomc/internal/config"
	"github.com/John-Robertt/photomc/internal/domain"
)

// Observer 用于把“运行进度/阶段/条目结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - Observer 的实现必须并发安全：keepalive 可能来自其它 goroutine。
type Observer interface {
	// OnStart 在运行开始时调用（应尽量早，保证用户 1 秒内看到输出）。
	OnStart(eff config.EffectiveConfig, command string, dryRun bool)
	// OnPhaseDone 在阶段结束/就绪时调用（用于打印阶段统计与耗时）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnItemDone 在某个动作执行（或 dry-run 校验）完成时调用。
	OnItemDone(idx, total int, out domain.FileOutcome, dur time.Duration)
	// OnProgress 用于 keepalive（通常由 CLI 自己 ticker 触发；run 层只在分析阶段调用）。
	OnProgress(done, total, ok, fail, skip, active int, elapsed time.Duration)
}
