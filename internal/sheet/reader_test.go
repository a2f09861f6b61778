package sheet

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

// buildInput 生成一个源工作簿：sheet 名、表头与数据行由调用方给出。
func buildInput(t *testing.T, sheet string, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		t.Fatal(err)
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			t.Fatal(err)
		}
	}
	p := filepath.Join(t.TempDir(), "input.xlsx")
	if err := f.SaveAs(p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestOpen_ReadsRows(t *testing.T) {
	end := time.Date(2024, 3, 8, 15, 30, 12, 0, time.UTC)
	p := buildInput(t, "0308不良明细", [][]any{
		{"Line", " sn ", "STATION NAME", "Time End"},
		{"L1", "SN001", "ST-A", end},
		{nil, nil, nil, nil},
		{"L1", 123456789012.0, "ST-B", "2024/03/08 16:00:00"},
		{"L1", "", "ST-C", "not a time"},
	})

	r, err := Open(p)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	defer r.Close()

	if r.Sheet() != "0308不良明细" {
		t.Fatalf("sheet=%q", r.Sheet())
	}
	rows, err := r.Rows()
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("期望 3 行（跳过空行），实际 %d：%+v", len(rows), rows)
	}

	if rows[0].SN != "SN001" || rows[0].Station != "ST-A" || rows[0].SourceRow != 2 {
		t.Fatalf("第一行不正确：%+v", rows[0])
	}
	if d := rows[0].TimeEnd.Sub(end); d > time.Second || d < -time.Second {
		t.Fatalf("时间解析不正确：%v", rows[0].TimeEnd)
	}

	if rows[1].SN != "123456789012" || rows[1].SourceRow != 4 {
		t.Fatalf("数字 SN 应还原为整数文本：%+v", rows[1])
	}
	if rows[1].TimeEnd.Hour() != 16 {
		t.Fatalf("文本时间解析不正确：%v", rows[1].TimeEnd)
	}

	if rows[2].SN != "" || rows[2].TimeText != "not a time" || !rows[2].TimeEnd.IsZero() {
		t.Fatalf("无法解析的时间应保留原文：%+v", rows[2])
	}
}

func TestRows_TextSNKeptVerbatim(t *testing.T) {
	p := buildInput(t, "不良明细", [][]any{
		{"SN", "Station Name", "Time End"},
		{"2024E10", "ST-A", ""},
		{"12E3", "ST-B", ""},
		{"0012E5", "ST-C", ""},
		{1.23456789012e11, "ST-D", ""},
	})
	r, err := Open(p)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	defer r.Close()
	rows, err := r.Rows()
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	want := []string{"2024E10", "12E3", "0012E5", "123456789012"}
	if len(rows) != len(want) {
		t.Fatalf("期望 %d 行，实际 %d", len(want), len(rows))
	}
	for i, w := range want {
		if rows[i].SN != w {
			t.Fatalf("第 %d 行 SN=%q，期望 %q（文本 SN 不应按科学计数法改写）", rows[i].SourceRow, rows[i].SN, w)
		}
	}
}

func TestOpen_MissingSheet(t *testing.T) {
	p := buildInput(t, "Summary", [][]any{{"SN"}})
	_, err := Open(p)
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("期望 *SchemaError，实际 %v", err)
	}
	if se.Sheet != "" || len(se.Sheets) != 1 || se.Sheets[0] != "Summary" {
		t.Fatalf("应列出可用工作表：%+v", se)
	}
}

func TestOpen_MissingColumns(t *testing.T) {
	p := buildInput(t, "不良明细", [][]any{{"SN", "Station"}})
	_, err := Open(p)
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("期望 *SchemaError，实际 %v", err)
	}
	if len(se.Missing) != 2 || se.Missing[0] != ColStation || se.Missing[1] != ColTimeEnd {
		t.Fatalf("missing=%v", se.Missing)
	}
	if len(se.Available) != 2 {
		t.Fatalf("available=%v", se.Available)
	}
}

func TestOpen_FileNotFound(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.xlsx"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("期望 ErrNotExist，实际 %v", err)
	}
}

func TestNormalizeSN(t *testing.T) {
	cases := map[string]string{
		"1.23456789012E+11": "123456789012",
		"123456789012":      "123456789012",
		"00123":             "00123",
		" SN-1 ":            "SN-1",
		"12.5":              "12.5",
		"":                  "",
	}
	for in, want := range cases {
		if got := NormalizeSN(in); got != want {
			t.Fatalf("NormalizeSN(%q)=%q，期望 %q", in, got, want)
		}
	}
}

func TestParseTime(t *testing.T) {
	tm, text := ParseTime("2024-03-08 15:30:12")
	if text != "" || tm.Minute() != 30 {
		t.Fatalf("文本时间：%v %q", tm, text)
	}
	tm, text = ParseTime("45359.5")
	if text != "" || tm.Year() != 2024 || tm.Hour() != 12 {
		t.Fatalf("序列号时间：%v %q", tm, text)
	}
	if tm, text = ParseTime("abc"); !tm.IsZero() || text != "abc" {
		t.Fatalf("无法解析：%v %q", tm, text)
	}
}
