package domain

import "time"

// Row 是一条不良记录：从源表一行构造，经证据解析补全后写入目标表的一行。
type Row struct {
	// SourceRow 是源工作表中的行号（1-based）。
	SourceRow int

	SN      string
	Station string
	// TimeEnd 能解析为时间时非零；否则 TimeText 保留原始文本。
	TimeEnd  time.Time
	TimeText string
	// Gantry 在输出中始终留空。
	Gantry string

	Locate *Classified
	NG     []Classified
	Remark string
}

// Empty 报告 SN/工站/时间三项是否全部为空（此类行在读取时直接跳过）。
func (r Row) Empty() bool {
	return r.SN == "" && r.Station == "" && r.TimeEnd.IsZero() && r.TimeText == ""
}

// Bundle 是证据选择的结果。
//
// 不变量：证据不完整（无 NG、OK 匹配不明确、两张 NG 标识冲突）时 Remark 非空，否则为空。
type Bundle struct {
	NG     []Classified // 0–2 张，按修改时间从旧到新
	Locate *Classified
	Remark string
}

// Apply 把证据写回行记录。
func (b Bundle) Apply(r *Row) {
	r.NG = append([]Classified(nil), b.NG...)
	r.Locate = b.Locate
	r.Remark = b.Remark
}
