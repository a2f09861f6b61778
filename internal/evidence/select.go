package evidence

import (
	"sort"

	"github.com/John-Robertt/ngreport/internal/domain"
)

// 备注文本（写入输出表“备注”列）。
const (
	RemarkNoEvidence = "未找到NG或OK图片"
	RemarkOnlyOK     = "仅有OK图片，无NG图片"
	RemarkOnlySRC    = "仅有SRC原图，无处理后的NG图片"
	RemarkNoLocate   = "未找到对应的OK定位图片"

	remarkSimilarPrefix  = "未找到完全匹配的OK图片，找到相似图片："
	remarkMismatchPrefix = "两张NG图片标识不一致："
)

// RemarkSimilar 是只找到前缀不同的 OK 图片时的备注。
func RemarkSimilar(name string) string { return remarkSimilarPrefix + name }

// RemarkMismatch 是两张 NG 图片前缀不一致时的备注。
func RemarkMismatch(a, b string) string { return remarkMismatchPrefix + a + " / " + b }

// Select 按设备策略从分桶结果中选出 NG 图片（0–2 张）、定位图与备注。
// 纯函数：相同输入得到相同结果。
func Select(p domain.Policy, set domain.EvidenceSet) domain.Bundle {
	ng := newestTwo(set.NG)
	oks := stableOrder(set.OK)

	if len(ng) == 0 {
		switch {
		case len(set.SRC) > 0:
			return domain.Bundle{Remark: RemarkOnlySRC}
		case len(oks) > 0:
			return domain.Bundle{Remark: RemarkOnlyOK}
		default:
			return domain.Bundle{Remark: RemarkNoEvidence}
		}
	}

	pf := PrefixFor(p)
	if pf == nil {
		b := domain.Bundle{NG: ng}
		if len(oks) > 0 {
			loc := oks[0]
			b.Locate = &loc
		}
		return b
	}

	if len(ng) == 1 {
		pre, ok := pf(ng[0].Base)
		return matchLocate(pf, ng, oks, pre, ok)
	}

	pa, okA := pf(ng[0].Base)
	pb, okB := pf(ng[1].Base)
	if !okA || !okB || pa.Key() != pb.Key() {
		return domain.Bundle{NG: ng, Remark: RemarkMismatch(ng[0].Name, ng[1].Name)}
	}
	return matchLocate(pf, ng, oks, pa, true)
}

func matchLocate(pf PrefixFunc, ng, oks []domain.Classified, pre Prefix, havePre bool) domain.Bundle {
	b := domain.Bundle{NG: ng}
	if havePre {
		for i := range oks {
			if op, ok := pf(oks[i].Base); ok && op.Key() == pre.Key() {
				loc := oks[i]
				b.Locate = &loc
				return b
			}
		}
	}
	for i := range oks {
		if _, ok := pf(oks[i].Base); ok {
			b.Remark = RemarkSimilar(oks[i].Name)
			return b
		}
	}
	b.Remark = RemarkNoLocate
	return b
}

// newestTwo 返回最新的两张（从旧到新）。
// 修改时间相同按文件名字典序，再按相对路径。
func newestTwo(in []domain.Classified) []domain.Classified {
	if len(in) == 0 {
		return nil
	}
	s := append([]domain.Classified(nil), in...)
	sort.SliceStable(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if !a.ModTime.Equal(b.ModTime) {
			return a.ModTime.Before(b.ModTime)
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.RelPath < b.RelPath
	})
	if len(s) > 2 {
		s = s[len(s)-2:]
	}
	return s
}

func stableOrder(in []domain.Classified) []domain.Classified {
	s := append([]domain.Classified(nil), in...)
	sort.SliceStable(s, func(i, j int) bool { return s[i].RelPath < s[j].RelPath })
	return s
}
