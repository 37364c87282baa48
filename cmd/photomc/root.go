package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/photomc/internal/config"
	"github.com/John-Robertt/photomc/internal/logging"
)

// 退出码：0 成功；1 运行失败（文件级失败/冲突/致命错误）；2 参数错误。
const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

// cli 持有一次命令行调用的全部状态；所有子命令共享同一组全局参数。
type cli struct {
	stdout io.Writer
	stderr io.Writer

	configPath      string
	logLevel        string
	jsonOut         bool
	sources         []string
	tracks          []string
	dest            string
	mode            string
	duplicatePolicy string
	maxGap          time.Duration
	workers         int

	code int
}

// execute 构造并运行根命令，返回进程退出码。
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}
	root := c.newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "参数错误：%v\n", err)
		return exitUsage
	}
	return c.code
}

func (c *cli) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "photomc",
		Short:         "按拍摄时间与位置整理照片库（去重、轨迹补全位置、确定性计划）",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init(c.logLevel, c.stderr)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.configPath, "config", "c", "", "配置文件路径（默认 ./photomc.toml，可选）")
	pf.StringVar(&c.logLevel, "log-level", "", "日志级别：debug|info|warn|error（默认读 "+logging.EnvLevel+"）")
	pf.BoolVar(&c.jsonOut, "json", false, "stdout 始终输出 JSON 报告（即使是终端）")
	pf.StringArrayVarP(&c.sources, "source", "s", nil, "源目录（可重复）")
	pf.StringArrayVarP(&c.tracks, "track", "t", nil, "GPX 轨迹文件（可重复）")
	pf.StringVarP(&c.dest, "dest", "d", "", "目标照片库目录")
	pf.StringVar(&c.mode, "mode", "", "copy|move（默认 copy）")
	pf.StringVar(&c.duplicatePolicy, "duplicate-policy", "", "重复组 canonical 策略：earliest|shortest-path|root-order")
	pf.DurationVar(&c.maxGap, "max-gap", 0, "轨迹补全允许的最大时间间隔（默认 15m）")
	pf.IntVarP(&c.workers, "workers", "j", 0, "并发数（默认 CPU 核数）")

	root.AddCommand(c.newPlanCommand())
	root.AddCommand(c.newApplyCommand())
	root.AddCommand(c.newVerifyCommand())
	root.AddCommand(c.newMapCommand())
	return root
}

// loadConfig 把全局参数合并进配置文件与默认值；失败时返回带 error_code 的错误。
func (c *cli) loadConfig(cmd *cobra.Command, need config.Need) (config.EffectiveConfig, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return config.EffectiveConfig{}, &config.Error{Code: config.ErrCodeInvalid, Err: fmt.Errorf("读取当前目录失败：%w", err)}
	}
	flags := cmd.Flags()
	return config.LoadEffective(cwd, config.CLIArgs{
		ConfigPath:         c.configPath,
		Sources:            c.sources,
		Tracks:             c.tracks,
		Dest:               c.dest,
		Mode:               c.mode,
		ModeSet:            flags.Changed("mode"),
		DuplicatePolicy:    c.duplicatePolicy,
		DuplicatePolicySet: flags.Changed("duplicate-policy"),
		MaxGap:             c.maxGap,
		MaxGapSet:          flags.Changed("max-gap"),
		Workers:            c.workers,
		WorkersSet:         flags.Changed("workers"),
	}, need)
}
