package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/John-Robertt/photomc/internal/domain"
	"github.com/John-Robertt/photomc/internal/fingerprint"
	"github.com/John-Robertt/photomc/internal/index"
	"github.com/John-Robertt/photomc/internal/xmp"
)

type fakeIndex struct {
	entries []index.Entry
}

func (f *fakeIndex) Record(_ context.Context, e index.Entry) error {
	f.entries = append(f.entries, e)
	return nil
}

func sum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func write(t *testing.T, p string, b []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(p, b, 0o644); err != nil {
		t.Fatalf("写入失败：%v", err)
	}
}

func hasher(t *testing.T) fingerprint.Hasher {
	t.Helper()
	h, err := fingerprint.New(fingerprint.SHA256)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	return h
}

type env struct {
	in, lib string
}

func newEnv(t *testing.T) env {
	root := t.TempDir()
	e := env{in: filepath.Join(root, "in"), lib: filepath.Join(root, "lib")}
	if err := os.MkdirAll(e.lib, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	return e
}

func action(t *testing.T, e env, name string, body []byte, kind domain.ActionKind) domain.PlannedAction {
	t.Helper()
	src := filepath.Join(e.in, name)
	write(t, src, body)
	return domain.PlannedAction{
		Source:      src,
		Destination: filepath.Join(e.lib, "2023", "2023-06-01", name),
		Kind:        kind,
		ContentHash: sum(body),
		Size:        int64(len(body)),
	}
}

func only(t *testing.T, r Result) domain.FileOutcome {
	t.Helper()
	if len(r.Outcomes) != 1 {
		t.Fatalf("期望 1 条结果，实际 %+v", r.Outcomes)
	}
	return r.Outcomes[0]
}

func TestExecute_CopyRecordsIndex(t *testing.T) {
	e := newEnv(t)
	a := action(t, e, "a.jpg", []byte("aaa"), domain.ActionCopy)
	a.CaptureTime = "2023-06-01T10:00:00Z"
	idx := &fakeIndex{}

	r := Execute(context.Background(), domain.Plan{Actions: []domain.PlannedAction{a}}, Options{Hasher: hasher(t), Index: idx, Workers: 2})
	out := only(t, r)
	if out.Outcome != domain.OutcomeCopied || out.DestinationPath != a.Destination {
		t.Fatalf("期望 copied：%+v", out)
	}
	if b, _ := os.ReadFile(a.Destination); string(b) != "aaa" {
		t.Fatalf("目标内容不一致：%q", b)
	}
	if _, err := os.Stat(a.Source); err != nil {
		t.Fatalf("copy 不应删除源文件：%v", err)
	}
	if r.Recorded != 1 || len(idx.entries) != 1 || idx.entries[0].ContentHash != a.ContentHash || idx.entries[0].CaptureTime != a.CaptureTime {
		t.Fatalf("索引记录不符合预期：%+v", idx.entries)
	}
}

func TestExecute_DryRunDoesNotWrite(t *testing.T) {
	e := newEnv(t)
	a := action(t, e, "a.jpg", []byte("aaa"), domain.ActionMove)
	idx := &fakeIndex{}

	r := Execute(context.Background(), domain.Plan{Actions: []domain.PlannedAction{a}}, Options{DryRun: true, Hasher: hasher(t), Index: idx})
	if out := only(t, r); out.Outcome != domain.OutcomePlanned {
		t.Fatalf("期望 planned：%+v", out)
	}
	if _, err := os.Stat(filepath.Dir(a.Destination)); !os.IsNotExist(err) {
		t.Fatalf("dry-run 不应创建目录：%v", err)
	}
	if _, err := os.Stat(a.Source); err != nil {
		t.Fatalf("dry-run 不应移动源文件：%v", err)
	}
	if len(idx.entries) != 0 {
		t.Fatalf("dry-run 不应写索引")
	}
}

func TestExecute_AlreadyPresentAndConflict(t *testing.T) {
	for _, dry := range []bool{true, false} {
		e := newEnv(t)
		same := action(t, e, "same.jpg", []byte("same"), domain.ActionCopy)
		write(t, same.Destination, []byte("same"))
		diff := action(t, e, "diff.jpg", []byte("new"), domain.ActionMove)
		write(t, diff.Destination, []byte("old"))

		r := Execute(context.Background(), domain.Plan{Actions: []domain.PlannedAction{same, diff}}, Options{DryRun: dry, Hasher: hasher(t)})
		if len(r.Outcomes) != 2 {
			t.Fatalf("期望 2 条结果：%+v", r.Outcomes)
		}
		// 按源路径排序：diff < same
		if o := r.Outcomes[0]; o.Outcome != domain.OutcomeFailed || o.Reason != domain.ErrCodeTargetConflict {
			t.Fatalf("dry=%v 期望 target_conflict：%+v", dry, o)
		}
		if o := r.Outcomes[1]; o.Outcome != domain.OutcomeSkippedDuplicate || o.Reason != domain.ErrCodeAlreadyPresent {
			t.Fatalf("dry=%v 期望 already_present：%+v", dry, o)
		}
		if b, _ := os.ReadFile(diff.Destination); string(b) != "old" {
			t.Fatalf("已有目标不应被覆盖：%q", b)
		}
		if _, err := os.Stat(diff.Source); err != nil {
			t.Fatalf("冲突时源文件应保留：%v", err)
		}
	}
}

func TestExecute_SourceChanged(t *testing.T) {
	e := newEnv(t)
	a := action(t, e, "a.jpg", []byte("abc"), domain.ActionCopy)
	a.ContentHash = sum([]byte("xyz"))

	out := only(t, Execute(context.Background(), domain.Plan{Actions: []domain.PlannedAction{a}}, Options{Hasher: hasher(t)}))
	if out.Outcome != domain.OutcomeFailed || out.Reason != domain.ErrCodeSourceChanged {
		t.Fatalf("期望 source_changed：%+v", out)
	}
	if _, err := os.Stat(a.Destination); !os.IsNotExist(err) {
		t.Fatalf("校验失败不应留下目标文件：%v", err)
	}

	// 大小变化在 dry-run 校验阶段即可发现。
	b := action(t, e, "b.jpg", []byte("abc"), domain.ActionCopy)
	b.Size = 99
	out = only(t, Execute(context.Background(), domain.Plan{Actions: []domain.PlannedAction{b}}, Options{DryRun: true, Hasher: hasher(t)}))
	if out.Reason != domain.ErrCodeSourceChanged {
		t.Fatalf("期望 source_changed：%+v", out)
	}
}

func TestExecute_SourceMissing(t *testing.T) {
	e := newEnv(t)
	a := action(t, e, "a.jpg", []byte("abc"), domain.ActionMove)
	if err := os.Remove(a.Source); err != nil {
		t.Fatalf("删除失败：%v", err)
	}
	out := only(t, Execute(context.Background(), domain.Plan{Actions: []domain.PlannedAction{a}}, Options{Hasher: hasher(t)}))
	if out.Outcome != domain.OutcomeFailed || out.Reason != domain.ErrCodeSourceMissing {
		t.Fatalf("期望 source_missing：%+v", out)
	}
}

func TestExecute_MoveWithSidecar(t *testing.T) {
	e := newEnv(t)
	a := action(t, e, "a.jpg", []byte("aaa"), domain.ActionMove)
	a.Position = &domain.Coord{Lat: 47.3769, Lon: 8.5417}
	a.SidecarPath = a.Destination + ".xmp"

	out := only(t, Execute(context.Background(), domain.Plan{Actions: []domain.PlannedAction{a}}, Options{Hasher: hasher(t)}))
	if out.Outcome != domain.OutcomeMoved || out.Reason != "" {
		t.Fatalf("期望 moved：%+v", out)
	}
	if _, err := os.Stat(a.Source); !os.IsNotExist(err) {
		t.Fatalf("move 后源文件应不存在：%v", err)
	}
	b, err := os.ReadFile(a.SidecarPath)
	if err != nil {
		t.Fatalf("sidecar 未写出：%v", err)
	}
	c, err := xmp.Decode(b)
	if err != nil {
		t.Fatalf("sidecar 无法解析：%v", err)
	}
	if c.Lat < 47.37 || c.Lat > 47.38 {
		t.Fatalf("sidecar 坐标不符合预期：%+v", c)
	}
}

func TestExecute_ParentIsFile(t *testing.T) {
	e := newEnv(t)
	a := action(t, e, "a.jpg", []byte("aaa"), domain.ActionCopy)
	write(t, filepath.Join(e.lib, "2023"), []byte("not a dir"))

	for _, dry := range []bool{true, false} {
		out := only(t, Execute(context.Background(), domain.Plan{Actions: []domain.PlannedAction{a}}, Options{DryRun: dry, Hasher: hasher(t)}))
		if out.Outcome != domain.OutcomeFailed || out.Reason != domain.ErrCodeTargetConflict {
			t.Fatalf("dry=%v 期望 target_conflict：%+v", dry, out)
		}
	}
}

func TestExecute_CanceledAndSkips(t *testing.T) {
	e := newEnv(t)
	a := action(t, e, "a.jpg", []byte("aaa"), domain.ActionCopy)
	b := action(t, e, "b.jpg", []byte("bbb"), domain.ActionCopy)
	dup := domain.PlannedAction{Source: filepath.Join(e.in, "c.jpg"), Kind: domain.ActionSkipDuplicate, Reason: domain.ErrCodeDuplicate, DuplicateOf: a.Source}
	conflict := domain.PlannedAction{Source: filepath.Join(e.in, "d.jpg"), Kind: domain.ActionSkipUnresolvedConflict, Reason: domain.ErrCodeUnresolvedConflict}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := Execute(ctx, domain.Plan{Actions: []domain.PlannedAction{a, b, dup, conflict}}, Options{Hasher: hasher(t), Workers: 4})
	if len(r.Outcomes) != 4 {
		t.Fatalf("每个动作都应有结果：%+v", r.Outcomes)
	}
	want := []struct{ outcome, reason string }{
		{domain.OutcomeFailed, domain.ErrCodeCanceled},
		{domain.OutcomeFailed, domain.ErrCodeCanceled},
		{domain.OutcomeSkippedDuplicate, domain.ErrCodeDuplicate},
		{domain.OutcomeSkippedConflict, domain.ErrCodeUnresolvedConflict},
	}
	for i, w := range want {
		if o := r.Outcomes[i]; o.Outcome != w.outcome || o.Reason != w.reason {
			t.Fatalf("第 %d 条期望 %s/%s，实际 %+v", i, w.outcome, w.reason, o)
		}
	}
	if o := r.Outcomes[2]; o.DuplicateOf != a.Source || o.DestinationPath != "" {
		t.Fatalf("重复文件应通过 duplicate_of 指向 canonical，且没有目标路径：%+v", o)
	}
	if _, err := os.Stat(a.Destination); !os.IsNotExist(err) {
		t.Fatalf("取消后不应执行任何动作：%v", err)
	}
}

func TestExecute_VerifySourceBeforeMove(t *testing.T) {
	e := newEnv(t)
	a := action(t, e, "a.jpg", []byte("abc"), domain.ActionMove)
	// 规划之后被修改，但大小不变。
	write(t, a.Source, []byte("xyz"))

	out := only(t, Execute(context.Background(), domain.Plan{Actions: []domain.PlannedAction{a}}, Options{Hasher: hasher(t), VerifySource: true}))
	if out.Outcome != domain.OutcomeFailed || out.Reason != domain.ErrCodeSourceChanged {
		t.Fatalf("期望 source_changed：%+v", out)
	}
	if _, err := os.Stat(a.Source); err != nil {
		t.Fatalf("校验失败时源文件应保留：%v", err)
	}
	if _, err := os.Stat(a.Destination); !os.IsNotExist(err) {
		t.Fatalf("校验失败不应留下目标文件：%v", err)
	}

	// 内容未变化时照常移动。
	b := action(t, e, "b.jpg", []byte("bbb"), domain.ActionMove)
	out = only(t, Execute(context.Background(), domain.Plan{Actions: []domain.PlannedAction{b}}, Options{Hasher: hasher(t), VerifySource: true}))
	if out.Outcome != domain.OutcomeMoved {
		t.Fatalf("期望 moved：%+v", out)
	}
}
