package app

import (
	"testing"

	"github.com/John-Robertt/photomc/internal/domain"
)

func TestGroupByHash_MergeSameHash(t *testing.T) {
	records := []domain.PhotoRecord{
		{SourcePath: "/in/b.jpg", ContentHash: "bb"},
		{SourcePath: "/in/z.jpg", ContentHash: "aa"},
		{SourcePath: "/in/a.jpg", ContentHash: "bb"},
	}

	groups := GroupByHash(records)
	if len(groups) != 2 {
		t.Fatalf("期望 2 个组，实际 %d", len(groups))
	}
	if groups[0].Hash != "aa" || groups[1].Hash != "bb" {
		t.Fatalf("组必须按 hash 排序：%+v", groups)
	}
	// 组内必须按 SourcePath 排序：a.jpg 在 b.jpg 之前。
	if len(groups[1].Idx) != 2 || groups[1].Idx[0] != 2 || groups[1].Idx[1] != 0 {
		t.Fatalf("Idx 排序不稳定：%v", groups[1].Idx)
	}
}

func TestGroupByHash_EveryRecordInExactlyOneGroup(t *testing.T) {
	records := []domain.PhotoRecord{
		{SourcePath: "/1", ContentHash: "x"},
		{SourcePath: "/2", ContentHash: "y"},
		{SourcePath: "/3", ContentHash: "x"},
		{SourcePath: "/4", ContentHash: "z"},
	}
	seen := map[int]int{}
	for _, g := range GroupByHash(records) {
		for _, i := range g.Idx {
			seen[i]++
		}
	}
	for i := range records {
		if seen[i] != 1 {
			t.Fatalf("记录 %d 出现 %d 次", i, seen[i])
		}
	}
}
