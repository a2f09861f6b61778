package domain

import "time"

// Candidate 描述一次扫描得到的图片文件（只做 stat，不读内容）。
//
// 不变量（实现必须遵守）：
// - AbsPath 必须是 clean + absolute
// - 扫描阶段只做 stat，不读文件内容；内容校验由 locate 完成
type Candidate struct {
	AbsPath string
	RelPath string
	Name    string // 含扩展名
	Base    string // 不含扩展名
	Ext     string // ".jpg"
	Size    int64
	ModTime time.Time
}

// Label 是图片的证据分类。
type Label string

const (
	LabelNG        Label = "NG"
	LabelOK        Label = "OK"
	LabelSRC       Label = "SRC"
	LabelUnlabeled Label = "UNLABELED"
)

// Classified 是分类后的候选图片。分类完成后不再修改。
type Classified struct {
	Candidate

	Label Label
	// Confirmed 仅在文字识别确认图中存在 "NG" 时为 true。
	Confirmed  bool
	Text       string
	Confidence float64
	// Reason 记录分类依据（例如 "filename"、"ocr"、"blank"、"strict_filename"）。
	Reason string
}

// EvidenceSet 是某个 SN 的分类结果分桶。NG 桶永远不含 SRC 图片。
type EvidenceSet struct {
	NG  []Classified
	OK  []Classified
	SRC []Classified
}

// Empty 报告三个桶是否都为空。
func (s EvidenceSet) Empty() bool {
	return len(s.NG) == 0 && len(s.OK) == 0 && len(s.SRC) == 0
}
