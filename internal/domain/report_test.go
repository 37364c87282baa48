package domain

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestRunReport_Finalize_SortAndSummaryAndUTC(t *testing.T) {
	r := RunReport{
		Dest:       "/abs/lib",
		DryRun:     true,
		StartedAt:  time.Date(2026, 2, 9, 10, 0, 0, 0, time.FixedZone("X", 8*3600)),
		FinishedAt: time.Date(2026, 2, 9, 10, 0, 1, 0, time.FixedZone("X", 8*3600)),
		Files: []FileOutcome{
			{SourcePath: "/in/c.jpg", Outcome: OutcomeSkippedDuplicate},
			{SourcePath: "/in/a.jpg", Outcome: OutcomeCopied, Size: 10},
			{SourcePath: "/in/d.jpg", Outcome: OutcomeFailed},
			{SourcePath: "/in/b.jpg", Outcome: OutcomeSkippedConflict},
		},
	}

	r.Finalize()

	got := []string{r.Files[0].SourcePath, r.Files[1].SourcePath, r.Files[2].SourcePath, r.Files[3].SourcePath}
	want := []string{"/in/a.jpg", "/in/b.jpg", "/in/c.jpg", "/in/d.jpg"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("files 排序不符合契约：%v", got)
		}
	}
	s := r.Summary
	if s.Total != 4 || s.Copied != 1 || s.SkippedDuplicate != 1 || s.SkippedConflict != 1 || s.Failed != 1 || s.Bytes != 10 {
		t.Fatalf("summary 统计不正确：%+v", s)
	}
	if !r.Failed() {
		t.Fatalf("存在 failed/conflict 时 Failed() 应为 true")
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	if !bytes.Contains(b, []byte("\"started_at\":\"2026-02-09T02:00:00Z\"")) {
		t.Fatalf("started_at 不是 UTC RFC3339：%s", string(b))
	}
	// 空切片必须输出 []，而不是 null。
	if !bytes.Contains(b, []byte("\"errors\":[]")) {
		t.Fatalf("errors 应输出为 []：%s", string(b))
	}
}

func TestPhotoRecord_EffectivePosition_EmbeddedWins(t *testing.T) {
	r := PhotoRecord{
		EmbeddedPosition:   &Coord{Lat: 1, Lon: 2},
		CorrelatedPosition: &CorrelatedPosition{Coord: Coord{Lat: 3, Lon: 4}},
	}
	c, correlated, ok := r.EffectivePosition()
	if !ok || correlated || c.Lat != 1 || c.Lon != 2 {
		t.Fatalf("embedded 必须优先：c=%+v correlated=%v ok=%v", c, correlated, ok)
	}

	r.EmbeddedPosition = nil
	c, correlated, ok = r.EffectivePosition()
	if !ok || !correlated || c.Lat != 3 {
		t.Fatalf("无 embedded 时应使用 correlated：c=%+v correlated=%v ok=%v", c, correlated, ok)
	}

	r.CorrelatedPosition = nil
	if _, _, ok = r.EffectivePosition(); ok {
		t.Fatalf("两者都缺失时应返回 ok=false")
	}
}
