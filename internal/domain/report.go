package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusOK      = "ok"
	StatusRemark  = "remark"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

const (
	ErrCodeSchema        = "schema_invalid"
	ErrCodeInputNotFound = "input_not_found"
	ErrCodeConfigInvalid = "config_invalid"
	ErrCodeIOFailed      = "io_failed"
	ErrCodeRowFailed     = "row_failed"
	ErrCodeCanceled      = "canceled"
	ErrCodeOCRMissing    = "ocr_missing"
)

// RunReport 是对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	RunID      string `json:"run_id"`
	Input      string `json:"input"`
	Sheet      string `json:"sheet"`
	Device     string `json:"device"`
	Policy     string `json:"policy"`
	Classifier string `json:"classifier"`
	Output     string `json:"output"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`

	Summary ReportSummary `json:"summary"`
	Items   []RowResult   `json:"items"`
}

type ReportSummary struct {
	Rows    int `json:"rows"`
	OK      int `json:"ok"`
	Remark  int `json:"remark"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

type RowResult struct {
	Row     int    `json:"row"`
	SN      string `json:"sn"`
	Station string `json:"station"`

	Status   string   `json:"status"`
	NG       []string `json:"ng"`
	Locate   string   `json:"locate"`
	Remark   string   `json:"remark"`
	ErrorMsg string   `json:"error_msg,omitempty"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) items 按源行号稳定排序
// 3) summary 由 items 计算得出（skipped 不计入 rows）
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Items, func(i, j int) bool { return r.Items[i].Row < r.Items[j].Row })

	var s ReportSummary
	for _, it := range r.Items {
		switch it.Status {
		case StatusOK:
			s.OK++
		case StatusRemark:
			s.Remark++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
			continue
		}
		s.Rows++
	}
	r.Summary = s
}

// MarshalJSON 保证 items/ng 不会输出为 null。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	a := Alias(r)
	if a.Items == nil {
		a.Items = []RowResult{}
	}
	for i := range a.Items {
		if a.Items[i].NG == nil {
			a.Items[i].NG = []string{}
		}
	}
	return json.Marshal(a)
}
