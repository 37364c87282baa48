package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/sys/unix"
)

const (
	// ErrCodeNotFound 表示 --config 指定的文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingDest 表示需要 dest 的命令既没有 --dest 也没有配置 dest。
	ErrCodeMissingDest = "config_missing_dest"
	// ErrCodeMissingSource 表示需要 sources 的命令没有任何源目录。
	ErrCodeMissingSource = "config_missing_source"
)

// FileName 是在 cwd 下自动发现的配置文件名。
const FileName = "photomc.toml"

const (
	ModeCopy = "copy"
	ModeMove = "move"

	PolicyEarliest     = "earliest"
	PolicyShortestPath = "shortest-path"
	PolicyRootOrder    = "root-order"

	HashSHA256 = "sha256"
	HashBLAKE3 = "blake3"
)

const (
	DefaultMaxGap           = 15 * time.Minute
	DefaultLowConfidenceGap = 5 * time.Minute
	DefaultGeoGrid          = 0.1
	MaxWorkers              = 64
)

// Need 描述某个子命令对必填项的要求。
type Need uint8

const (
	NeedSources Need = 1 << iota
	NeedDest
)

// CLIArgs 是 CLI 暴露的入口，保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --mode=copy 必须能覆盖 config.mode="move"。
type CLIArgs struct {
	ConfigPath string

	Sources []string
	Tracks  []string
	Dest    string

	Mode    string
	ModeSet bool

	DuplicatePolicy    string
	DuplicatePolicySet bool

	MaxGap    time.Duration
	MaxGapSet bool

	Workers    int
	WorkersSet bool
}

// FileConfig 对应 photomc.toml 的解析结构。
// 指针字段用于区分“未设置”与“显式设置为零值”。
type FileConfig struct {
	Sources          []string `toml:"sources"`
	Dest             string   `toml:"dest"`
	Tracks           []string `toml:"tracks"`
	Mode             string   `toml:"mode"`
	DuplicatePolicy  string   `toml:"duplicate_policy"`
	MaxGap           string   `toml:"max_gap"`
	LowConfidenceGap string   `toml:"low_confidence_gap"`
	GeoGrid          *float64 `toml:"geo_grid"`
	TimeZone         string   `toml:"time_zone"`
	TimeOffset       string   `toml:"time_offset"`
	Workers          int      `toml:"workers"`
	Hash             string   `toml:"hash"`
	IncludeHidden    bool     `toml:"include_hidden"`
	FollowSymlinks   bool     `toml:"follow_symlinks"`
	ExcludeDirs      []string `toml:"exclude_dirs"`
	XMPSidecars      bool     `toml:"xmp_sidecars"`
	Index            *bool    `toml:"index"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	// ConfigPath 为空表示没有读取任何配置文件。
	ConfigPath string

	Sources []string
	Dest    string
	Tracks  []string

	Mode            string
	DuplicatePolicy string

	MaxGap           time.Duration
	LowConfidenceGap time.Duration
	GeoGrid          float64

	TimeZone   *time.Location
	TimeOffset time.Duration

	Workers int
	Hash    string

	IncludeHidden  bool
	FollowSymlinks bool
	ExcludeDirs    []string

	XMPSidecars bool
	Index       bool
}

// StateDir 返回 dest 下的内部状态目录（索引/锁/指纹缓存）。
func (c EffectiveConfig) StateDir() string {
	if c.Dest == "" {
		return ""
	}
	return filepath.Join(c.Dest, ".photomc")
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingDest:
		return fmt.Sprintf("%s：未指定目标目录（--dest 或配置 dest）", e.Code)
	case ErrCodeMissingSource:
		return fmt.Sprintf("%s：未指定任何源目录（--source 或配置 sources）", e.Code)
	case ErrCodeInvalid:
		if e.Err != nil {
			if e.Path != "" {
				return fmt.Sprintf("%s：配置 %q 无效：%v", e.Code, e.Path, e.Err)
			}
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return fmt.Sprintf("%s：配置 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 --config：必须存在
// 2) 否则尝试读取 <cwd>/photomc.toml（可选）
//
// 路径解析：CLI 中的相对路径相对 cwd；配置文件中的相对路径相对配置文件所在目录。
//
// 覆盖优先级（固定）：CLI > config > 内置默认。
// sources/tracks 是列表：CLI 只要给出至少一项，就整体替换配置中的列表。
func LoadEffective(cwd string, cli CLIArgs, need Need) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	var (
		cfgPath string
		fc      FileConfig
	)
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		var exists bool
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
	} else {
		p := filepath.Join(cwdAbs, FileName)
		var exists bool
		fc, exists, err = readFileConfig(p)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: p, Err: err}
		}
		if exists {
			cfgPath = p
		}
	}

	cfg, err := merge(cwdAbs, cli, fc, cfgPath)
	if err != nil {
		return EffectiveConfig{}, err
	}
	if err := cfg.check(need); err != nil {
		return EffectiveConfig{}, err
	}
	return cfg, nil
}

func merge(cwdAbs string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	fileBase := cwdAbs
	if cfgPath != "" {
		fileBase = filepath.Dir(cfgPath)
	}
	invalid := func(err error) error { return &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err} }

	out := EffectiveConfig{
		ConfigPath:     cfgPath,
		IncludeHidden:  fc.IncludeHidden,
		FollowSymlinks: fc.FollowSymlinks,
		XMPSidecars:    fc.XMPSidecars,
		Index:          true,
	}
	if fc.Index != nil {
		out.Index = *fc.Index
	}

	// sources / tracks / dest
	if len(cli.Sources) > 0 {
		out.Sources = absAll(cwdAbs, cli.Sources)
	} else {
		out.Sources = absAll(fileBase, fc.Sources)
	}
	if len(cli.Tracks) > 0 {
		out.Tracks = absAll(cwdAbs, cli.Tracks)
	} else {
		out.Tracks = absAll(fileBase, fc.Tracks)
	}
	if strings.TrimSpace(cli.Dest) != "" {
		out.Dest = absCleanFrom(cwdAbs, cli.Dest)
	} else if strings.TrimSpace(fc.Dest) != "" {
		out.Dest = absCleanFrom(fileBase, fc.Dest)
	}
	for i, s := range out.Sources {
		for _, t := range out.Sources[:i] {
			if s == t {
				return EffectiveConfig{}, invalid(fmt.Errorf("sources 重复：%q", s))
			}
		}
	}

	// mode：CLI > config > 默认 copy
	out.Mode = ModeCopy
	if cli.ModeSet {
		out.Mode = strings.TrimSpace(cli.Mode)
	} else if strings.TrimSpace(fc.Mode) != "" {
		out.Mode = strings.TrimSpace(fc.Mode)
	}
	if out.Mode != ModeCopy && out.Mode != ModeMove {
		return EffectiveConfig{}, invalid(fmt.Errorf("mode 只能是 copy 或 move，实际是 %q", out.Mode))
	}

	out.DuplicatePolicy = PolicyEarliest
	if cli.DuplicatePolicySet {
		out.DuplicatePolicy = strings.TrimSpace(cli.DuplicatePolicy)
	} else if strings.TrimSpace(fc.DuplicatePolicy) != "" {
		out.DuplicatePolicy = strings.TrimSpace(fc.DuplicatePolicy)
	}
	switch out.DuplicatePolicy {
	case PolicyEarliest, PolicyShortestPath, PolicyRootOrder:
	default:
		return EffectiveConfig{}, invalid(fmt.Errorf("duplicate_policy 只能是 earliest/shortest-path/root-order，实际是 %q", out.DuplicatePolicy))
	}

	var err error
	out.MaxGap = DefaultMaxGap
	if cli.MaxGapSet {
		out.MaxGap = cli.MaxGap
	} else if out.MaxGap, err = parseDuration("max_gap", fc.MaxGap, DefaultMaxGap); err != nil {
		return EffectiveConfig{}, invalid(err)
	}
	if out.MaxGap < 0 {
		return EffectiveConfig{}, invalid(fmt.Errorf("max_gap 不能为负：%s", out.MaxGap))
	}
	if out.LowConfidenceGap, err = parseDuration("low_confidence_gap", fc.LowConfidenceGap, DefaultLowConfidenceGap); err != nil {
		return EffectiveConfig{}, invalid(err)
	}
	if out.LowConfidenceGap < 0 {
		return EffectiveConfig{}, invalid(fmt.Errorf("low_confidence_gap 不能为负：%s", out.LowConfidenceGap))
	}
	if out.TimeOffset, err = parseDuration("time_offset", fc.TimeOffset, 0); err != nil {
		return EffectiveConfig{}, invalid(err)
	}

	out.GeoGrid = DefaultGeoGrid
	if fc.GeoGrid != nil {
		out.GeoGrid = *fc.GeoGrid
	}
	if out.GeoGrid < 0 || out.GeoGrid > 90 {
		return EffectiveConfig{}, invalid(fmt.Errorf("geo_grid 必须在 [0, 90] 内，实际是 %v", out.GeoGrid))
	}

	out.TimeZone = time.UTC
	if tz := strings.TrimSpace(fc.TimeZone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return EffectiveConfig{}, invalid(fmt.Errorf("time_zone 无效：%w", err))
		}
		out.TimeZone = loc
	}

	// workers：CLI > config > NumCPU；范围 [1, MaxWorkers]，超出截断。
	workers := fc.Workers
	if cli.WorkersSet {
		workers = cli.Workers
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > MaxWorkers {
		workers = MaxWorkers
	}
	out.Workers = workers

	out.Hash = HashSHA256
	if h := strings.ToLower(strings.TrimSpace(fc.Hash)); h != "" {
		out.Hash = h
	}
	if out.Hash != HashSHA256 && out.Hash != HashBLAKE3 {
		return EffectiveConfig{}, invalid(fmt.Errorf("hash 只能是 sha256 或 blake3，实际是 %q", out.Hash))
	}

	for _, x := range fc.ExcludeDirs {
		if x = strings.TrimSpace(x); x != "" {
			out.ExcludeDirs = append(out.ExcludeDirs, x)
		}
	}
	return out, nil
}

// check 校验命令相关的必填项，以及路径在文件系统上的状态。
// 所有校验都在任何写操作之前完成。
func (c EffectiveConfig) check(need Need) error {
	if need&NeedSources != 0 {
		if len(c.Sources) == 0 {
			return &Error{Code: ErrCodeMissingSource, Path: c.ConfigPath}
		}
		for _, s := range c.Sources {
			fi, err := os.Stat(s)
			if err != nil {
				return &Error{Code: ErrCodeInvalid, Path: c.ConfigPath, Err: fmt.Errorf("源目录不可用：%w", err)}
			}
			if !fi.IsDir() {
				return &Error{Code: ErrCodeInvalid, Path: c.ConfigPath, Err: fmt.Errorf("源路径不是目录：%q", s)}
			}
		}
	}
	for _, t := range c.Tracks {
		fi, err := os.Stat(t)
		if err != nil {
			return &Error{Code: ErrCodeInvalid, Path: c.ConfigPath, Err: fmt.Errorf("轨迹文件不可用：%w", err)}
		}
		if fi.IsDir() {
			return &Error{Code: ErrCodeInvalid, Path: c.ConfigPath, Err: fmt.Errorf("轨迹路径是目录：%q", t)}
		}
	}
	if need&NeedDest != 0 {
		if c.Dest == "" {
			return &Error{Code: ErrCodeMissingDest, Path: c.ConfigPath}
		}
		fi, err := os.Stat(c.Dest)
		if err != nil {
			return &Error{Code: ErrCodeInvalid, Path: c.ConfigPath, Err: fmt.Errorf("目标目录不可用：%w", err)}
		}
		if !fi.IsDir() {
			return &Error{Code: ErrCodeInvalid, Path: c.ConfigPath, Err: fmt.Errorf("目标路径不是目录：%q", c.Dest)}
		}
		if err := unix.Access(c.Dest, unix.W_OK); err != nil {
			return &Error{Code: ErrCodeInvalid, Path: c.ConfigPath, Err: fmt.Errorf("目标目录不可写：%q：%w", c.Dest, err)}
		}
		for _, s := range c.Sources {
			if isUnder(c.Dest, s) {
				// dest 位于某个 source 之内是允许的（扫描时排除）；反过来不行。
				continue
			}
			if isUnder(s, c.Dest) {
				return &Error{Code: ErrCodeInvalid, Path: c.ConfigPath, Err: fmt.Errorf("源目录不能位于目标目录之内：%q", s)}
			}
		}
	}
	return nil
}

func parseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s 无效：%w", field, err)
	}
	return d, nil
}

func absAll(base string, ps []string) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, absCleanFrom(base, p))
	}
	return out
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

func isUnder(path, base string) bool {
	if path == base {
		return true
	}
	return strings.HasPrefix(path, base+string(filepath.Separator))
}

// readFileConfig 读取并解析 TOML 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
// 未知字段视为错误，避免拼写错误被静默忽略。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
