package domain

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestRunReport_Finalize_SortAndSummaryAndUTC(t *testing.T) {
	r := RunReport{
		Input:      "/abs/in.xlsx",
		StartedAt:  time.Date(2026, 2, 9, 10, 0, 0, 0, time.FixedZone("X", 8*3600)),
		FinishedAt: time.Date(2026, 2, 9, 10, 0, 1, 0, time.FixedZone("X", 8*3600)),
		Items: []RowResult{
			{Row: 5, Status: StatusRemark},
			{Row: 2, Status: StatusOK},
			{Row: 4, Status: StatusSkipped},
			{Row: 3, Status: StatusFailed},
		},
	}

	r.Finalize()

	if r.Items[0].Row != 2 || r.Items[1].Row != 3 || r.Items[2].Row != 4 || r.Items[3].Row != 5 {
		t.Fatalf("items 排序不符合契约：%+v", r.Items)
	}
	want := ReportSummary{Rows: 3, OK: 1, Remark: 1, Failed: 1, Skipped: 1}
	if r.Summary != want {
		t.Fatalf("summary 统计不正确：%+v", r.Summary)
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	if !bytes.Contains(b, []byte("\"started_at\":\"2026-02-09T02:00:00Z\"")) {
		t.Fatalf("started_at 不是 UTC RFC3339：%s", string(b))
	}
	if !bytes.Contains(b, []byte("\"ng\":[]")) {
		t.Fatalf("ng 不应输出为 null：%s", string(b))
	}
}

func TestRunReport_MarshalJSON_EmptyItems(t *testing.T) {
	b, err := json.Marshal(RunReport{})
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	if !bytes.Contains(b, []byte("\"items\":[]")) {
		t.Fatalf("items 不应输出为 null：%s", string(b))
	}
}

func TestParseDevice(t *testing.T) {
	cases := []struct {
		in     string
		want   Device
		policy Policy
	}{
		{"aoi", DeviceAOI, PolicyA},
		{" AOI2 ", DeviceAOI2, PolicyA},
		{"RBT", DeviceRBT, PolicyB},
		{"vis", DeviceVIS, PolicyC},
	}
	for _, c := range cases {
		got, err := ParseDevice(c.in)
		if err != nil {
			t.Fatalf("ParseDevice(%q) 不期望错误：%v", c.in, err)
		}
		if got != c.want || got.Policy() != c.policy {
			t.Fatalf("ParseDevice(%q)=%q policy=%q，期望 %q/%q", c.in, got, got.Policy(), c.want, c.policy)
		}
	}

	if _, err := ParseDevice("XYZ"); err == nil {
		t.Fatalf("未知设备应返回错误")
	}
}

func TestRow_Empty(t *testing.T) {
	if !(Row{SourceRow: 3}).Empty() {
		t.Fatalf("三项全空的行应视为空行")
	}
	if (Row{TimeText: "x"}).Empty() {
		t.Fatalf("有时间文本的行不应视为空行")
	}
}
