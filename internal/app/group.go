package app

import (
	"sort"

	"github.com/John-Robertt/photomc/internal/domain"
)

// HashGroup 是共享同一 content hash 的记录集合（Idx 指向输入切片）。
type HashGroup struct {
	Hash string
	Idx  []int
}

// GroupByHash 把记录按 content hash 分组；每条记录恰好属于一个组。
//
// - groups 稳定排序：按 Hash 字典序
// - 组内 Idx 稳定排序：按 SourcePath 字典序
func GroupByHash(records []domain.PhotoRecord) []HashGroup {
	index := make(map[string]int, len(records))
	groups := make([]HashGroup, 0, len(records))

	for i := range records {
		h := records[i].ContentHash
		if gi, ok := index[h]; ok {
			groups[gi].Idx = append(groups[gi].Idx, i)
			continue
		}
		index[h] = len(groups)
		groups = append(groups, HashGroup{Hash: h, Idx: []int{i}})
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].Hash < groups[j].Hash })
	for gi := range groups {
		idx := groups[gi].Idx
		sort.Slice(idx, func(a, b int) bool {
			return records[idx[a]].SourcePath < records[idx[b]].SourcePath
		})
	}
	return groups
}
