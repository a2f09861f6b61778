package sheet

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/John-Robertt/ngreport/internal/domain"
)

// SheetKeyword 是源工作表名必须包含的关键字。
const SheetKeyword = "不良明细"

// 源表必需列（表头第 1 行，大小写不敏感、忽略首尾空白）。
const (
	ColSN      = "SN"
	ColStation = "Station Name"
	ColTimeEnd = "Time End"
)

var requiredColumns = []string{ColSN, ColStation, ColTimeEnd}

// SchemaError 表示源工作簿结构不符合预期：找不到工作表或缺少必需列。
type SchemaError struct {
	Path string
	// Sheet 为空表示没有找到目标工作表，此时 Sheets 列出全部工作表。
	Sheet     string
	Sheets    []string
	Missing   []string
	Available []string
}

func (e *SchemaError) Error() string {
	if e.Sheet == "" {
		return fmt.Sprintf("未找到包含'%s'的工作表。可用工作表有：%s", SheetKeyword, strings.Join(e.Sheets, ", "))
	}
	return fmt.Sprintf("工作表 %s 缺少以下列：%s\n可用列：%s",
		e.Sheet, strings.Join(e.Missing, ", "), strings.Join(e.Available, ", "))
}

// IsSchemaError 报告 err 是否为 *SchemaError。
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// Reader 读取源工作簿中的不良明细。
type Reader struct {
	path  string
	f     *excelize.File
	sheet string
	cols  map[string]int // 列名 -> 0-based 列下标
}

// Open 打开工作簿并定位目标工作表与必需列。
// 文件不存在时返回的错误满足 errors.Is(err, os.ErrNotExist)。
func Open(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("打开工作簿失败：%w", err)
	}

	r := &Reader{path: path, f: f}
	if err := r.discover(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) discover() error {
	sheets := r.f.GetSheetList()
	for _, name := range sheets {
		if strings.Contains(name, SheetKeyword) {
			r.sheet = name
			break
		}
	}
	if r.sheet == "" {
		return &SchemaError{Path: r.path, Sheets: sheets}
	}

	rows, err := r.f.GetRows(r.sheet)
	if err != nil {
		return fmt.Errorf("读取工作表 %s 失败：%w", r.sheet, err)
	}
	var header []string
	if len(rows) > 0 {
		header = rows[0]
	}

	r.cols = make(map[string]int, len(requiredColumns))
	available := make([]string, 0, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		available = append(available, h)
		for _, want := range requiredColumns {
			if _, ok := r.cols[want]; ok {
				continue
			}
			if strings.EqualFold(h, want) {
				r.cols[want] = i
			}
		}
	}

	var missing []string
	for _, want := range requiredColumns {
		if _, ok := r.cols[want]; !ok {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Path: r.path, Sheet: r.sheet, Missing: missing, Available: available}
	}
	return nil
}

// Sheet 返回命中的工作表名。
func (r *Reader) Sheet() string { return r.sheet }

// Rows 读取全部数据行（第 2 行起）。SN/工站/时间全部为空的行被跳过。
func (r *Reader) Rows() ([]domain.Row, error) {
	raw, err := r.f.GetRows(r.sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("读取工作表 %s 失败：%w", r.sheet, err)
	}

	out := make([]domain.Row, 0, len(raw))
	for i := 1; i < len(raw); i++ {
		cells := raw[i]
		sn := strings.TrimSpace(cell(cells, r.cols[ColSN]))
		if r.numeric(r.cols[ColSN], i+1) {
			sn = NormalizeSN(sn)
		}
		row := domain.Row{
			SourceRow: i + 1,
			SN:        sn,
			Station:   strings.TrimSpace(cell(cells, r.cols[ColStation])),
		}
		row.TimeEnd, row.TimeText = ParseTime(cell(cells, r.cols[ColTimeEnd]))
		if row.Empty() {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// numeric 报告单元格（0-based 列，1-based 行）是否按数字存储。
// 数字单元格通常不带类型属性，因此 CellTypeUnset 也视为数字。
func (r *Reader) numeric(col, row int) bool {
	name, err := excelize.CoordinatesToCellName(col+1, row)
	if err != nil {
		return false
	}
	typ, err := r.f.GetCellType(r.sheet, name)
	if err != nil {
		return false
	}
	return typ == excelize.CellTypeNumber || typ == excelize.CellTypeUnset
}

func (r *Reader) Close() error { return r.f.Close() }

func cell(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}

// NormalizeSN 把被 Excel 存成数字的 SN 还原为整数文本，例如 1.23456789012E+11 -> 123456789012。
// 只用于数字单元格；文本单元格（如 "2024E10"）不经过这里。
func NormalizeSN(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !strings.ContainsAny(s, ".eE") {
		return s
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) || f < 0 {
		return s
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/1/2 15:04:05",
	"2006/1/2 15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
}

// ParseTime 解析结束时间：Excel 日期序列号或常见文本格式。无法解析时返回原始文本。
func ParseTime(s string) (time.Time, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ""
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if t, err := excelize.ExcelDateToTime(f, false); err == nil {
			return t, ""
		}
		return time.Time{}, s
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, ""
		}
	}
	return time.Time{}, s
}
