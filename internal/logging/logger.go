package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EnvLevel 是日志级别的环境变量名；CLI --log-level 优先。
const EnvLevel = "PHOTOMC_LOG_LEVEL"

// Init 初始化全局 logger。
//
// 约束：日志只写 stderr（stdout 留给 JSON report）。
// level 为空时读取 PHOTOMC_LOG_LEVEL；支持 debug/info/warn/error（默认 warn）。
func Init(level string, out io.Writer) {
	if strings.TrimSpace(level) == "" {
		level = os.Getenv(EnvLevel)
	}
	zerolog.SetGlobalLevel(ParseLevel(level))

	if out == nil {
		out = os.Stderr
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"})
}

// ParseLevel 把字符串映射为 zerolog 级别；未知值回落到 warn。
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.WarnLevel
	}
}
