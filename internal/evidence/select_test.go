package evidence

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/John-Robertt/ngreport/internal/domain"
)

var t0 = time.Date(2024, 3, 8, 15, 0, 0, 0, time.UTC)

func img(name string, label domain.Label, minute int) domain.Classified {
	base := strings.TrimSuffix(name, ".jpg")
	return domain.Classified{
		Candidate: domain.Candidate{
			AbsPath: "/data/" + name,
			RelPath: name,
			Name:    name,
			Base:    base,
			Ext:     ".jpg",
			ModTime: t0.Add(time.Duration(minute) * time.Minute),
		},
		Label: label,
	}
}

func names(cs []domain.Classified) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Name)
	}
	return out
}

func TestSelect_NoNGRemarks(t *testing.T) {
	for _, p := range []domain.Policy{domain.PolicyA, domain.PolicyB, domain.PolicyC} {
		if b := Select(p, domain.EvidenceSet{}); b.Remark != RemarkNoEvidence || len(b.NG) != 0 || b.Locate != nil {
			t.Fatalf("%s 空集合：%+v", p, b)
		}
		ok := domain.EvidenceSet{OK: []domain.Classified{img("a_OK.jpg", domain.LabelOK, 0)}}
		if b := Select(p, ok); b.Remark != RemarkOnlyOK || b.Locate != nil {
			t.Fatalf("%s 仅 OK：%+v", p, b)
		}
		src := domain.EvidenceSet{
			OK:  []domain.Classified{img("a_OK.jpg", domain.LabelOK, 0)},
			SRC: []domain.Classified{img("a_NG_src.jpg", domain.LabelSRC, 0)},
		}
		if b := Select(p, src); b.Remark != RemarkOnlySRC {
			t.Fatalf("%s SRC 规则应先于 OK 规则：%+v", p, b)
		}
	}
}

func TestSelect_NewestTwoOrderedOldestFirst(t *testing.T) {
	set := domain.EvidenceSet{NG: []domain.Classified{
		img("c_NG.jpg", domain.LabelNG, 3),
		img("a_NG.jpg", domain.LabelNG, 1),
		img("b_NG.jpg", domain.LabelNG, 2),
	}}
	b := Select(domain.PolicyC, set)
	if got := names(b.NG); !reflect.DeepEqual(got, []string{"b_NG.jpg", "c_NG.jpg"}) {
		t.Fatalf("NG=%v", got)
	}
	if b.Remark != "" || b.Locate != nil {
		t.Fatalf("策略 C 无 OK 不应有备注：%+v", b)
	}
}

func TestSelect_TieBreakByNameThenRelPath(t *testing.T) {
	x := img("x_NG.jpg", domain.LabelNG, 5)
	y := img("y_NG.jpg", domain.LabelNG, 5)
	y2 := img("y_NG.jpg", domain.LabelNG, 5)
	y2.RelPath = "z/y_NG.jpg"
	y2.AbsPath = "/data/z/y_NG.jpg"

	b := Select(domain.PolicyC, domain.EvidenceSet{NG: []domain.Classified{y2, x, y}})
	if b.NG[0].RelPath != "y_NG.jpg" || b.NG[1].RelPath != "z/y_NG.jpg" {
		t.Fatalf("同修改时间应按文件名再按路径排序：%v / %v", b.NG[0].RelPath, b.NG[1].RelPath)
	}
}

func TestSelect_PolicyC_FirstOK(t *testing.T) {
	set := domain.EvidenceSet{
		NG: []domain.Classified{img("SN_NG.jpg", domain.LabelNG, 0)},
		OK: []domain.Classified{img("z_OK.jpg", domain.LabelOK, 0), img("b_OK.jpg", domain.LabelOK, 9)},
	}
	b := Select(domain.PolicyC, set)
	if b.Locate == nil || b.Locate.Name != "b_OK.jpg" || b.Remark != "" {
		t.Fatalf("策略 C 取第一张 OK：%+v", b)
	}
}

func TestSelect_PolicyA(t *testing.T) {
	ng1 := img("SN_20240308153012_ST2_NG.jpg", domain.LabelNG, 1)
	ng2 := img("SN_20240308153012_ST2_NG_2.jpg", domain.LabelNG, 2)
	okMatch := img("SN_20240308153012_ST2_OK.jpg", domain.LabelOK, 0)
	okOther := img("SN_20240308160000_ST1_OK.jpg", domain.LabelOK, 0)
	okBare := img("SN_OK.jpg", domain.LabelOK, 0)

	cases := []struct {
		name   string
		set    domain.EvidenceSet
		locate string
		remark string
	}{
		{
			name:   "单 NG 精确匹配",
			set:    domain.EvidenceSet{NG: []domain.Classified{ng1}, OK: []domain.Classified{okOther, okMatch}},
			locate: okMatch.Name,
		},
		{
			name:   "单 NG 只有相似 OK",
			set:    domain.EvidenceSet{NG: []domain.Classified{ng1}, OK: []domain.Classified{okBare, okOther}},
			remark: RemarkSimilar(okOther.Name),
		},
		{
			name:   "单 NG 无可用 OK",
			set:    domain.EvidenceSet{NG: []domain.Classified{ng1}, OK: []domain.Classified{okBare}},
			remark: RemarkNoLocate,
		},
		{
			name:   "单 NG 无 OK",
			set:    domain.EvidenceSet{NG: []domain.Classified{ng1}},
			remark: RemarkNoLocate,
		},
		{
			name:   "两张 NG 前缀一致",
			set:    domain.EvidenceSet{NG: []domain.Classified{ng2, ng1}, OK: []domain.Classified{okMatch}},
			locate: okMatch.Name,
		},
	}
	for _, tc := range cases {
		b := Select(domain.PolicyA, tc.set)
		gotLoc := ""
		if b.Locate != nil {
			gotLoc = b.Locate.Name
		}
		if gotLoc != tc.locate || b.Remark != tc.remark {
			t.Fatalf("%s：locate=%q remark=%q，期望 locate=%q remark=%q", tc.name, gotLoc, b.Remark, tc.locate, tc.remark)
		}
	}
}

func TestSelect_PolicyA_MismatchedPair(t *testing.T) {
	a := img("SN_20240308153012_ST2_NG.jpg", domain.LabelNG, 1)
	b := img("SN_20240308153012_ST3_NG.jpg", domain.LabelNG, 2)
	ok := img("SN_20240308153012_ST2_OK.jpg", domain.LabelOK, 0)

	got := Select(domain.PolicyA, domain.EvidenceSet{NG: []domain.Classified{b, a}, OK: []domain.Classified{ok}})
	if got.Locate != nil || got.Remark != RemarkMismatch(a.Name, b.Name) || len(got.NG) != 2 {
		t.Fatalf("前缀不一致：%+v", got)
	}

	noPre := img("SN_NG.jpg", domain.LabelNG, 3)
	got = Select(domain.PolicyA, domain.EvidenceSet{NG: []domain.Classified{a, noPre}})
	if got.Remark != RemarkMismatch(a.Name, noPre.Name) {
		t.Fatalf("任一前缀缺失视为不一致：%+v", got)
	}
}

func TestSelect_PolicyB(t *testing.T) {
	ng := img("SN_P3_240308153012_NG.jpg", domain.LabelNG, 1)
	okMatch := img("SN_P03_240308153012_OK.jpg", domain.LabelOK, 0)
	okOther := img("SN_P1_240308153012_OK.jpg", domain.LabelOK, 0)

	b := Select(domain.PolicyB, domain.EvidenceSet{NG: []domain.Classified{ng}, OK: []domain.Classified{okOther, okMatch}})
	if b.Locate == nil || b.Locate.Name != okMatch.Name || b.Remark != "" {
		t.Fatalf("姿态前缀应匹配：%+v", b)
	}

	b = Select(domain.PolicyB, domain.EvidenceSet{NG: []domain.Classified{ng}, OK: []domain.Classified{okOther}})
	if b.Locate != nil || b.Remark != RemarkSimilar(okOther.Name) {
		t.Fatalf("只有相似 OK：%+v", b)
	}
}

func TestSelect_RemarkInvariantAndIdempotent(t *testing.T) {
	sets := []domain.EvidenceSet{
		{},
		{NG: []domain.Classified{img("SN_20240308153012_ST2_NG.jpg", domain.LabelNG, 1)}},
		{
			NG: []domain.Classified{img("SN_20240308153012_ST2_NG.jpg", domain.LabelNG, 1)},
			OK: []domain.Classified{img("SN_20240308153012_ST2_OK.jpg", domain.LabelOK, 0)},
		},
	}
	for _, p := range []domain.Policy{domain.PolicyA, domain.PolicyB, domain.PolicyC} {
		for _, s := range sets {
			first := Select(p, s)
			if diff := cmp.Diff(first, Select(p, s)); diff != "" {
				t.Fatalf("%s 结果不稳定 (-first +second):\n%s", p, diff)
			}
			if len(first.NG) > 2 {
				t.Fatalf("NG 不应超过两张：%+v", first)
			}
			if len(first.NG) == 0 && first.Remark == "" {
				t.Fatalf("无 NG 时必须有备注：%+v", first)
			}
			if p != domain.PolicyC && len(first.NG) > 0 && first.Locate == nil && first.Remark == "" {
				t.Fatalf("策略 %s 缺少定位图时必须有备注：%+v", p, first)
			}
		}
	}
}
