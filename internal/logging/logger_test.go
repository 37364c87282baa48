package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":  zerolog.DebugLevel,
		" INFO ": zerolog.InfoLevel,
		"error":  zerolog.ErrorLevel,
		"off":    zerolog.Disabled,
		"":       zerolog.WarnLevel,
		"what":   zerolog.WarnLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v，期望 %v", in, got, want)
		}
	}
}

func TestInit_WritesToGivenWriter(t *testing.T) {
	t.Setenv(EnvLevel, "")
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	Init("info", &buf)
	log.Info().Str("k", "v").Msg("hello")
	log.Debug().Msg("hidden")

	out := buf.String()
	if !strings.Contains(out, "hello") || !strings.Contains(out, "k=") {
		t.Fatalf("日志输出不符合预期：%q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug 日志不应输出：%q", out)
	}
}
