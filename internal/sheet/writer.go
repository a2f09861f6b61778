package sheet

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/width"

	"github.com/John-Robertt/ngreport/internal/domain"
	"github.com/John-Robertt/ngreport/internal/infra/fsx"
	"github.com/John-Robertt/ngreport/internal/infra/imgx"
)

// OutputSheet 是输出工作表名。
const OutputSheet = "不良明细汇总"

// Headers 是输出表头（按列顺序）。
var Headers = []string{
	"SN",
	"QPL-Station Name",
	"Gantry",
	"Time(end)",
	"locate picture",
	"NG picture",
	"NG picture 2",
	"备注",
}

// 输出列（1-based）。
const (
	colSN = iota + 1
	colStation
	colGantry
	colTime
	colLocate
	colNG1
	colNG2
	colRemark
)

// 像素 -> Excel 列宽单位。
const pixelsToWidth = 0.14

const (
	minImageColWidth = 15.0
	maxTextColWidth  = 60.0
	textRowHeight    = 20.0
	// 行高（磅）= 像素 / 1.33
	pixelsPerPoint = 1.33
)

// 文本列的基础宽度。
var baseWidths = map[int]float64{
	colSN:      25,
	colStation: 25,
	colGantry:  15,
	colTime:    20,
	colLocate:  25,
	colNG1:     15,
	colNG2:     15,
	colRemark:  20,
}

// excelize 能直接嵌入的图片格式；其余格式转成 PNG 后嵌入。
var embeddable = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".tif": true, ".tiff": true, ".gif": true}

// Writer 逐行写出汇总表。
type Writer interface {
	WriteRow(r domain.Row) error
	// Finish 应用列宽/样式并保存，返回输出文件路径。
	Finish() (string, error)
}

// WriterOptions 控制图片尺寸与输出文件名。
type WriterOptions struct {
	ImageHeight int
	ImageMargin int
	// Now 用于生成输出文件名中的时间戳；nil 时使用 time.Now。
	Now func() time.Time
}

// XLSXWriter 是基于 excelize 的 Writer。
type XLSXWriter struct {
	dir  string
	opts WriterOptions
	f    *excelize.File

	next int
	// widths 是列 -> 最大宽度（Excel 单位），每行写完后取最大值合并。
	widths map[int]float64

	dataStyle int
	timeStyle int
}

var _ Writer = (*XLSXWriter)(nil)

// NewWriter 创建输出工作簿并写入表头。dir 为输出目录。
func NewWriter(dir string, opts WriterOptions) (*XLSXWriter, error) {
	if opts.ImageHeight <= 0 {
		opts.ImageHeight = 120
	}
	if opts.ImageMargin < 0 {
		opts.ImageMargin = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", OutputSheet); err != nil {
		_ = f.Close()
		return nil, err
	}

	w := &XLSXWriter{dir: dir, opts: opts, f: f, next: 2, widths: make(map[int]float64, len(Headers))}
	if err := w.initStyles(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

func (w *XLSXWriter) initStyles() error {
	border := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
	center := &excelize.Alignment{Horizontal: "center", Vertical: "center"}

	headerStyle, err := w.f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"0070C0"}, Pattern: 1},
		Border:    border,
		Alignment: center,
	})
	if err != nil {
		return err
	}
	w.dataStyle, err = w.f.NewStyle(&excelize.Style{
		Border:    border,
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	})
	if err != nil {
		return err
	}
	timeFmt := "yyyy-mm-dd hh:mm:ss"
	w.timeStyle, err = w.f.NewStyle(&excelize.Style{
		Border:       border,
		Alignment:    &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
		CustomNumFmt: &timeFmt,
	})
	if err != nil {
		return err
	}

	for i, h := range Headers {
		c, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := w.f.SetCellStr(OutputSheet, c, h); err != nil {
			return err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(Headers), 1)
	return w.f.SetCellStyle(OutputSheet, "A1", last, headerStyle)
}

// WriteRow 写入一行：文本列、时间列、定位图与 NG 图、备注。
// 图片插入失败不会阻止文本写入；错误合并后返回。
func (w *XLSXWriter) WriteRow(r domain.Row) error {
	row := w.next
	w.next++

	cellName := func(col int) string {
		c, _ := excelize.CoordinatesToCellName(col, row)
		return c
	}

	var errs []error
	set := func(col int, v string) {
		if err := w.f.SetCellStr(OutputSheet, cellName(col), v); err != nil {
			errs = append(errs, err)
		}
		w.fitText(col, v)
	}
	set(colSN, r.SN)
	set(colStation, r.Station)
	set(colGantry, r.Gantry)
	set(colRemark, r.Remark)

	timeCell := cellName(colTime)
	if !r.TimeEnd.IsZero() {
		if err := w.f.SetCellValue(OutputSheet, timeCell, r.TimeEnd); err != nil {
			errs = append(errs, err)
		}
		w.fitText(colTime, r.TimeEnd.Format("2006-01-02 15:04:05"))
	} else {
		set(colTime, r.TimeText)
	}

	first, last := cellName(colSN), cellName(colRemark)
	if err := w.f.SetCellStyle(OutputSheet, first, last, w.dataStyle); err != nil {
		errs = append(errs, err)
	}
	if err := w.f.SetCellStyle(OutputSheet, timeCell, timeCell, w.timeStyle); err != nil {
		errs = append(errs, err)
	}

	pics := make(map[int]string, 3)
	if r.Locate != nil {
		pics[colLocate] = r.Locate.AbsPath
	}
	for i, ng := range r.NG {
		if i >= 2 {
			break
		}
		pics[colNG1+i] = ng.AbsPath
	}

	maxH := 0
	for _, col := range []int{colLocate, colNG1, colNG2} {
		p, ok := pics[col]
		if !ok {
			continue
		}
		wpx, hpx, err := w.addPicture(cellName(col), p)
		if err != nil {
			errs = append(errs, fmt.Errorf("插入图片 %s 失败：%w", filepath.Base(p), err))
			continue
		}
		w.fitPixels(col, wpx)
		if hpx > maxH {
			maxH = hpx
		}
	}

	height := textRowHeight
	if maxH > 0 {
		height = float64(maxH+w.opts.ImageMargin) / pixelsPerPoint
	}
	if err := w.f.SetRowHeight(OutputSheet, row, height); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// addPicture 按目标高度等比缩放并锚定到单元格，返回缩放后的像素宽高。
func (w *XLSXWriter) addPicture(cell, path string) (int, int, error) {
	wpx, hpx, err := imgx.Dimensions(path)
	if err != nil {
		return 0, 0, err
	}
	scaledW, scale := imgx.ScaleToHeight(wpx, hpx, w.opts.ImageHeight)

	ext := strings.ToLower(filepath.Ext(path))
	var data []byte
	if embeddable[ext] {
		data, err = os.ReadFile(path)
		if err != nil {
			return 0, 0, err
		}
	} else {
		img, _, err := imgx.Decode(path)
		if err != nil {
			return 0, 0, err
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return 0, 0, err
		}
		data, ext = buf.Bytes(), ".png"
	}

	err = w.f.AddPictureFromBytes(OutputSheet, cell, &excelize.Picture{
		Extension: ext,
		File:      data,
		Format: &excelize.GraphicOptions{
			ScaleX:          scale,
			ScaleY:          scale,
			Positioning:     "oneCell",
			LockAspectRatio: true,
			AltText:         filepath.Base(path),
		},
	})
	if err != nil {
		return 0, 0, err
	}
	return scaledW, w.opts.ImageHeight, nil
}

func (w *XLSXWriter) fitText(col int, s string) {
	v := TextWidth(s) + 2
	if v > maxTextColWidth {
		v = maxTextColWidth
	}
	w.merge(col, v)
}

func (w *XLSXWriter) fitPixels(col, px int) {
	w.merge(col, math.Max(minImageColWidth, float64(px)*pixelsToWidth))
}

func (w *XLSXWriter) merge(col int, v float64) {
	if v > w.widths[col] {
		w.widths[col] = v
	}
}

// Widths 返回当前的列宽表（副本）。
func (w *XLSXWriter) Widths() map[int]float64 {
	out := make(map[int]float64, len(w.widths))
	for k, v := range w.widths {
		out[k] = v
	}
	return out
}

// Finish 应用列宽、冻结表头并原子写出 <dir>/不良明细汇总_<YYYYmmdd_HHMMSS>.xlsx。
func (w *XLSXWriter) Finish() (string, error) {
	defer func() { _ = w.f.Close() }()

	for col := colSN; col <= colRemark; col++ {
		v := math.Max(baseWidths[col], w.widths[col])
		name, _ := excelize.ColumnNumberToName(col)
		if err := w.f.SetColWidth(OutputSheet, name, name, v); err != nil {
			return "", err
		}
	}
	if err := w.f.SetPanes(OutputSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return "", err
	}

	now := w.opts.Now()
	_ = w.f.SetDocProps(&excelize.DocProperties{
		Created:  now.Format(time.RFC3339),
		Modified: now.Format(time.RFC3339),
		Creator:  "ngreport",
	})

	buf, err := w.f.WriteToBuffer()
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s.xlsx", OutputSheet, now.Format("20060102_150405"))
	if err := fsx.WriteFileAtomicReplace(w.dir, name, buf.Bytes()); err != nil {
		return "", err
	}
	return filepath.Join(w.dir, name), nil
}

// TextWidth 按东亚宽度估算文本在 Excel 中占用的字符宽度（全角/宽字符计 2）。
func TextWidth(s string) float64 {
	n := 0.0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}
