package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/John-Robertt/photomc/internal/app/run"
	"github.com/John-Robertt/photomc/internal/domain"
	"github.com/John-Robertt/photomc/internal/testsupport"
)

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errb bytes.Buffer
	code = execute(context.Background(), args, &out, &errb)
	return code, out.String(), errb.String()
}

func setup(t *testing.T) (in, lib string) {
	t.Helper()
	root := t.TempDir()
	in = filepath.Join(root, "in")
	lib = filepath.Join(root, "lib")
	if err := os.MkdirAll(lib, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	testsupport.WritePhoto(t, filepath.Join(in, "IMG_0001.jpg"), testsupport.WithCaptureTime("2021:06:01 10:00:00"))
	testsupport.WritePhoto(t, filepath.Join(in, "IMG_0002.jpg"), testsupport.WithCaptureTime("2021:06:01 10:05:00"), testsupport.WithSeed(9))
	return in, lib
}

func decodeReport(t *testing.T, stdout string) domain.RunReport {
	t.Helper()
	var rr domain.RunReport
	if err := json.Unmarshal([]byte(stdout), &rr); err != nil {
		t.Fatalf("stdout 不是合法的 RunReport JSON：%v\nstdout=%q", err, stdout)
	}
	return rr
}

func TestCLI_NoTTY_StdoutOnlyRunReportJSON(t *testing.T) {
	// stdout 非 TTY 时只能输出一个 RunReport JSON（进度/配置必须走 stderr 或直接禁用）。
	in, lib := setup(t)

	code, stdout, stderr := runCLI(t, "plan", "--source", in, "--dest", lib)
	if code != exitOK {
		t.Fatalf("期望退出码 0，实际 %d\nstderr=%s", code, stderr)
	}
	rr := decodeReport(t, stdout)
	if rr.Command != run.CommandPlan || !rr.DryRun || rr.Summary.Planned != 2 {
		t.Fatalf("报告不符合预期：%+v", rr)
	}
	if strings.Contains(stdout, "配置（生效）") || strings.Contains(stdout, "进度:") {
		t.Fatalf("stdout 不应包含进度/配置输出：%q", stdout)
	}
	if !strings.Contains(stderr, "完成：moved=") {
		t.Fatalf("stderr 缺少完成摘要：%q", stderr)
	}
}

func TestCLI_PlanOutThenApplySavedPlan(t *testing.T) {
	in, lib := setup(t)
	dir := t.TempDir()
	planPath := filepath.Join(dir, "plan.json")
	htmlPath := filepath.Join(dir, "preview.html")

	code, _, stderr := runCLI(t, "plan", "-s", in, "-d", lib, "--plan-out", planPath, "--html", htmlPath)
	if code != exitOK {
		t.Fatalf("期望退出码 0，实际 %d\nstderr=%s", code, stderr)
	}
	if _, err := os.Stat(htmlPath); err != nil {
		t.Fatalf("期望生成预览：%v", err)
	}

	// 第二次生成：内容未变化，跳过。
	_, _, stderr = runCLI(t, "plan", "-s", in, "-d", lib, "--html", htmlPath)
	if !strings.Contains(stderr, "预览未变化") {
		t.Fatalf("期望提示预览未变化：%q", stderr)
	}

	// --dest 省略时使用计划中的 dest_root。
	code, stdout, stderr := runCLI(t, "apply", "--plan", planPath)
	if code != exitOK {
		t.Fatalf("期望退出码 0，实际 %d\nstderr=%s\nstdout=%s", code, stderr, stdout)
	}
	rr := decodeReport(t, stdout)
	if rr.Command != run.CommandApply || rr.DryRun || rr.Summary.Copied != 2 {
		t.Fatalf("报告不符合预期：%+v", rr.Summary)
	}
	if _, err := os.Stat(filepath.Join(lib, "2021", "2021-06-01", "20210601-100500.jpg")); err != nil {
		t.Fatalf("期望目标文件存在：%v", err)
	}

	b, err := os.ReadFile(filepath.Join(lib, ".photomc", reportFileName))
	if err != nil {
		t.Fatalf("apply 必须写入 report.json：%v", err)
	}
	if saved := decodeReport(t, string(b)); saved.RunID != rr.RunID {
		t.Fatalf("report.json 与 stdout 不一致：%s vs %s", saved.RunID, rr.RunID)
	}

	code, stdout, _ = runCLI(t, "verify", "--dest", lib)
	if code != exitOK {
		t.Fatalf("期望 verify 通过，实际 %d：%s", code, stdout)
	}
	var vr run.VerifyReport
	if err := json.Unmarshal([]byte(stdout), &vr); err != nil {
		t.Fatalf("verify 输出不是 JSON：%v", err)
	}
	if vr.Checked != 2 {
		t.Fatalf("期望校验 2 个文件，实际 %d", vr.Checked)
	}
}

func TestCLI_VerifyReportsModifiedFile(t *testing.T) {
	in, lib := setup(t)
	if code, _, stderr := runCLI(t, "apply", "-s", in, "-d", lib); code != exitOK {
		t.Fatalf("apply 失败：%d %s", code, stderr)
	}
	target := filepath.Join(lib, "2021", "2021-06-01", "20210601-100000.jpg")
	if err := os.WriteFile(target, []byte("tampered"), 0o644); err != nil {
		t.Fatalf("写入失败：%v", err)
	}

	code, stdout, _ := runCLI(t, "verify", "-d", lib)
	if code != exitFail {
		t.Fatalf("期望退出码 1，实际 %d", code)
	}
	var vr run.VerifyReport
	if err := json.Unmarshal([]byte(stdout), &vr); err != nil {
		t.Fatalf("verify 输出不是 JSON：%v", err)
	}
	if len(vr.Problems) != 1 || vr.Problems[0].Kind != "modified" || vr.Problems[0].DestPath != target {
		t.Fatalf("verify 问题不符合预期：%+v", vr.Problems)
	}
}

func TestCLI_ConfigErrorIsReported(t *testing.T) {
	in, _ := setup(t)

	code, stdout, _ := runCLI(t, "plan", "--source", in)
	if code != exitFail {
		t.Fatalf("期望退出码 1，实际 %d", code)
	}
	rr := decodeReport(t, stdout)
	if len(rr.Errors) != 1 || rr.Errors[0].Code != domain.ErrCodeConfigMissingDest {
		t.Fatalf("期望 config_missing_dest，实际 %+v", rr.Errors)
	}
}

func TestCLI_UsageErrors(t *testing.T) {
	if code, _, _ := runCLI(t, "plan", "--no-such-flag"); code != exitUsage {
		t.Fatalf("未知参数期望退出码 2，实际 %d", code)
	}
	if code, _, _ := runCLI(t, "map", "-s", t.TempDir()); code != exitUsage {
		t.Fatalf("map 缺少 --out 期望退出码 2，实际 %d", code)
	}
	if code, _, _ := runCLI(t, "plan", "extra"); code != exitUsage {
		t.Fatalf("多余位置参数期望退出码 2，实际 %d", code)
	}
}

func TestCLI_Map(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "in")
	testsupport.WritePhoto(t, filepath.Join(in, "geo.jpg"), testsupport.WithGPS(-33.86, 151.21))
	out := filepath.Join(root, "photos.kml")

	code, stdout, stderr := runCLI(t, "map", "-s", in, "-o", out)
	if code != exitOK {
		t.Fatalf("期望退出码 0，实际 %d\nstderr=%s", code, stderr)
	}
	var rep run.MapReport
	if err := json.Unmarshal([]byte(stdout), &rep); err != nil {
		t.Fatalf("map 输出不是 JSON：%v", err)
	}
	if rep.Placemarks != 1 || rep.Out != out {
		t.Fatalf("map 结果不符合预期：%+v", rep)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("期望生成 KML：%v", err)
	}
}
