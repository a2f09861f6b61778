package classify

import (
	"context"
	"regexp"
	"strings"

	"github.com/John-Robertt/ngreport/internal/domain"
)

// Classifier 把候选图片标记为 NG / OK / SRC / UNLABELED。
//
// Classify 不返回错误：无法判断时给出 UNLABELED（或退回文件名规则），并在 Reason 中说明。
type Classifier interface {
	Name() string
	Classify(ctx context.Context, c domain.Candidate) domain.Classified
}

// 分类依据（Classified.Reason）。
const (
	ReasonFilename       = "filename"
	ReasonOCR            = "ocr"
	ReasonBlank          = "blank"
	ReasonStrictFilename = "strict_filename"
	ReasonUnconfirmed    = "unconfirmed"
)

// token 两侧不能紧挨字母；数字与分隔符允许。
var (
	srcRE = regexp.MustCompile(`(?i)(?:^|[^A-Za-z])src(?:[^A-Za-z]|$)`)
	ngRE  = regexp.MustCompile(`(?i)(?:^|[^A-Za-z])ng(?:[^A-Za-z]|$)`)
	okRE  = regexp.MustCompile(`(?i)(?:^|[^A-Za-z])ok(?:[^A-Za-z]|$)`)
)

// LabelFromName 按 SRC > NG > OK > UNLABELED 的优先级识别文件名（不含扩展名）中的标记。
func LabelFromName(base string) domain.Label {
	switch {
	case srcRE.MatchString(base):
		return domain.LabelSRC
	case ngRE.MatchString(base):
		return domain.LabelNG
	case okRE.MatchString(base):
		return domain.LabelOK
	default:
		return domain.LabelUnlabeled
	}
}

var nonNGWords = []string{"ANG", "ING", "ONG", "UNG"}

// StrictNGName 是文字识别未能确认时的文件名兜底：
// 大写文件名包含 "NG"，且不含 ANG/ING/ONG/UNG（排除 STRONG、PACKING 这类单词）。
func StrictNGName(name string) bool {
	up := strings.ToUpper(name)
	if !strings.Contains(up, "NG") {
		return false
	}
	for _, w := range nonNGWords {
		if strings.Contains(up, w) {
			return false
		}
	}
	return true
}

// Filename 只看文件名 token。
type Filename struct{}

func (Filename) Name() string { return "filename" }

func (Filename) Classify(_ context.Context, c domain.Candidate) domain.Classified {
	return domain.Classified{Candidate: c, Label: LabelFromName(c.Base), Reason: ReasonFilename}
}
