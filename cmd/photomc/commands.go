package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/photomc/internal/app/run"
	"github.com/John-Robertt/photomc/internal/config"
	"github.com/John-Robertt/photomc/internal/domain"
	"github.com/John-Robertt/photomc/internal/infra/fsx"
	"github.com/John-Robertt/photomc/internal/infra/imgx"
	"github.com/John-Robertt/photomc/internal/preview"
)

func (c *cli) newPlanCommand() *cobra.Command {
	var (
		planOut string
		html    string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "生成整理计划（dry-run：不写入任何文件）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.code = c.runPlan(cmd, planOut, html, force)
			return nil
		},
	}
	cmd.Flags().StringVar(&planOut, "plan-out", "", "把计划写成 JSON 文件（供 apply --plan 使用）")
	cmd.Flags().StringVar(&html, "html", "", "生成带缩略图的 HTML 预览")
	cmd.Flags().BoolVar(&force, "force", false, "预览内容未变化时也重新生成")
	return cmd
}

func (c *cli) runPlan(cmd *cobra.Command, planOut, html string, force bool) int {
	eff, err := c.loadConfig(cmd, config.NeedSources|config.NeedDest)
	if err != nil {
		c.emitReport(reportForConfigError(run.CommandPlan, true, err))
		return exitFail
	}

	ui := c.progress()
	out := run.ExecuteWithObserver(cmd.Context(), eff, run.Options{Command: run.CommandPlan, DryRun: true}, observerOf(ui))
	ui.stop()

	rr := out.Report
	if len(rr.Errors) == 0 {
		if planOut != "" {
			if err := writePlanFile(planOut, out.Plan); err != nil {
				rr.Errors = append(rr.Errors, domain.RunError{Code: domain.ErrCodeIOFailed, Message: "写入计划失败：" + err.Error()})
			}
		}
		if html != "" {
			written, err := preview.Write(html, out.Plan, preview.Options{
				Force: force,
				Thumb: func(p string) ([]byte, error) { return imgx.ThumbnailFile(p, imgx.DefaultThumbMax) },
			})
			switch {
			case err != nil:
				rr.Errors = append(rr.Errors, domain.RunError{Code: domain.ErrCodeIOFailed, Message: "写入预览失败：" + err.Error()})
			case !written:
				fmt.Fprintf(c.stderr, "预览未变化，跳过：%s（使用 --force 强制重建）\n", html)
			}
		}
	}

	c.emitReport(rr)
	if ui != nil {
		if planOut != "" {
			fmt.Fprintf(ui.w, "plan: %s\n", absPath(planOut))
		}
		if html != "" {
			fmt.Fprintf(ui.w, "preview: %s\n", absPath(html))
		}
	}
	return exitCode(rr.Failed())
}

func (c *cli) newApplyCommand() *cobra.Command {
	var planIn string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "执行整理（重新规划，或用 --plan 执行已保存的计划）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.code = c.runApply(cmd, planIn)
			return nil
		},
	}
	cmd.Flags().StringVar(&planIn, "plan", "", "执行 plan --plan-out 保存的计划文件")
	return cmd
}

func (c *cli) runApply(cmd *cobra.Command, planIn string) int {
	var (
		saved *domain.Plan
		need  = config.NeedSources | config.NeedDest
	)
	if planIn != "" {
		p, err := readPlanFile(planIn)
		if err != nil {
			c.emitReport(reportForConfigError(run.CommandApply, false, &config.Error{Code: config.ErrCodeInvalid, Path: planIn, Err: err}))
			return exitFail
		}
		saved = &p
		need = config.NeedDest
		if c.dest == "" {
			c.dest = p.DestRoot
		}
	}

	eff, err := c.loadConfig(cmd, need)
	if err != nil {
		c.emitReport(reportForConfigError(run.CommandApply, false, err))
		return exitFail
	}

	ui := c.progress()
	out := run.ExecuteWithObserver(cmd.Context(), eff, run.Options{Command: run.CommandApply, Saved: saved}, observerOf(ui))
	ui.stop()

	rr := out.Report
	// 另一个 apply 持有库锁时，不碰它的状态目录。
	if !hasError(rr, domain.ErrCodeDestLocked) {
		if err := writeReportFile(eff.StateDir(), rr); err != nil {
			fmt.Fprintf(c.stderr, "写入 report.json 失败：%v\n", err)
			c.emitReport(rr)
			return exitFail
		}
	}

	c.emitReport(rr)
	if ui != nil {
		fmt.Fprintf(ui.w, "report: %s\n", filepath.Join(eff.StateDir(), reportFileName))
	}
	return exitCode(rr.Failed())
}

func (c *cli) newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "按库索引重新计算 hash，报告缺失、被修改与重复的文件",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eff, err := c.loadConfig(cmd, config.NeedDest)
			if err != nil {
				c.emitReport(reportForConfigError(run.CommandVerify, true, err))
				c.code = exitFail
				return nil
			}
			rep := run.Verify(cmd.Context(), eff)
			c.emitVerify(rep)
			c.code = exitCode(rep.Failed())
			return nil
		},
	}
}

func (c *cli) newMapCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "map",
		Short: "把照片位置（含轨迹补全）导出为 KML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eff, err := c.loadConfig(cmd, config.NeedSources)
			if err != nil {
				c.emitReport(reportForConfigError(run.CommandMap, true, err))
				c.code = exitFail
				return nil
			}
			ui := c.progress()
			rep := run.Map(cmd.Context(), eff, absPath(out), nil, observerOf(ui))
			ui.stop()
			c.emitMap(rep)
			c.code = exitCode(rep.HasErrors())
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "KML 输出路径")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func writePlanFile(path string, p domain.Plan) error {
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	path = absPath(path)
	return fsx.WriteFileAtomicReplace(filepath.Dir(path), filepath.Base(path), b)
}

func readPlanFile(path string) (domain.Plan, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return domain.Plan{}, err
	}
	var p domain.Plan
	if err := json.Unmarshal(b, &p); err != nil {
		return domain.Plan{}, fmt.Errorf("计划文件不是合法 JSON：%w", err)
	}
	return p, nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func hasError(rr domain.RunReport, code string) bool {
	for _, e := range rr.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

func exitCode(failed bool) int {
	if failed {
		return exitFail
	}
	return exitOK
}
