package app

import (
	"sort"

	"github.com/John-Robertt/ngreport/internal/domain"
)

// GroupByLabel 把分类结果分桶为 NG / OK / SRC，未标记的图片单独返回。
//
// - 每个桶内稳定排序：按 RelPath 字典序
// - SRC 只进 SRC 桶，NG 桶永远不含原图
func GroupByLabel(items []domain.Classified) (set domain.EvidenceSet, unlabeled []domain.Classified) {
	for i := range items {
		switch items[i].Label {
		case domain.LabelNG:
			set.NG = append(set.NG, items[i])
		case domain.LabelOK:
			set.OK = append(set.OK, items[i])
		case domain.LabelSRC:
			set.SRC = append(set.SRC, items[i])
		default:
			unlabeled = append(unlabeled, items[i])
		}
	}

	for _, bucket := range [][]domain.Classified{set.NG, set.OK, set.SRC, unlabeled} {
		sort.SliceStable(bucket, func(a, b int) bool { return bucket[a].RelPath < bucket[b].RelPath })
	}
	return set, unlabeled
}
