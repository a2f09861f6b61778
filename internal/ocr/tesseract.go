package ocr

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// runCommand 执行外部命令并返回 stdout；测试可替换。
var runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

// Tesseract 通过 tesseract 命令行识别文字（单块文本模式，TSV 输出）。
type Tesseract struct {
	Path string
	Lang string
	// PSM 为页面分割模式，0 表示使用 6（单一文本块）。
	PSM int
}

func (t Tesseract) Recognize(ctx context.Context, img image.Image) (Recognition, error) {
	if err := ctx.Err(); err != nil {
		return Recognition{}, err
	}

	f, err := os.CreateTemp("", "ngreport-ocr-*.png")
	if err != nil {
		return Recognition{}, err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return Recognition{}, err
	}
	if err := f.Close(); err != nil {
		return Recognition{}, err
	}

	lang := t.Lang
	if lang == "" {
		lang = "eng"
	}
	psm := t.PSM
	if psm == 0 {
		psm = 6
	}
	out, err := runCommand(ctx, t.Path, tmp, "stdout", "-l", lang, "--psm", strconv.Itoa(psm), "tsv")
	if err != nil {
		return Recognition{}, fmt.Errorf("tesseract 执行失败：%w", err)
	}
	return ParseTSV(bytes.NewReader(out))
}

// ParseTSV 解析 tesseract 的 TSV 输出。
//
// 只取 level=5（单词）行；conf<0 的行没有文字。Text 按行拼接单词。
func ParseTSV(r io.Reader) (Recognition, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		rec      Recognition
		lines    []string
		cur      []string
		curKey   string
		haveHead bool
	)
	flush := func() {
		if len(cur) > 0 {
			lines = append(lines, strings.Join(cur, " "))
			cur = cur[:0]
		}
	}

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if !haveHead {
			haveHead = true
			if cols[0] == "level" {
				continue
			}
		}
		if len(cols) < 12 {
			return Recognition{}, fmt.Errorf("TSV 列数不足（%d）：%q", len(cols), line)
		}
		if cols[0] != "5" {
			continue
		}
		text := strings.TrimSpace(strings.Join(cols[11:], "\t"))
		if text == "" {
			continue
		}
		conf, err := strconv.ParseFloat(strings.TrimSpace(cols[10]), 64)
		if err != nil {
			return Recognition{}, fmt.Errorf("TSV 置信度无效：%q", cols[10])
		}

		key := cols[1] + "/" + cols[2] + "/" + cols[3] + "/" + cols[4]
		if key != curKey {
			flush()
			curKey = key
		}
		cur = append(cur, text)
		rec.Words = append(rec.Words, Word{Text: text, Confidence: conf})
	}
	if err := sc.Err(); err != nil {
		return Recognition{}, err
	}
	flush()
	rec.Text = strings.Join(lines, "\n")
	return rec, nil
}

// MissingError 表示找不到 tesseract 可执行文件。
type MissingError struct {
	Tried []string
}

func (e *MissingError) Error() string {
	var b strings.Builder
	b.WriteString("未找到 Tesseract OCR 引擎（--classifier text 需要它）。已尝试：")
	b.WriteString(strings.Join(e.Tried, ", "))
	b.WriteString("\n安装方式：\n")
	b.WriteString("  1. Windows: 下载安装包 https://github.com/UB-Mannheim/tesseract/wiki\n")
	b.WriteString("  2. macOS: brew install tesseract\n")
	b.WriteString("  3. Linux: sudo apt install tesseract-ocr\n")
	b.WriteString("安装后确保 tesseract 在 PATH 中，或在 ngreport.yaml 中设置 tesseract_path")
	return b.String()
}

// IsMissing 报告 err 是否为 *MissingError。
func IsMissing(err error) bool {
	var me *MissingError
	return errors.As(err, &me)
}

// WellKnownPaths 是 PATH 之外依次尝试的安装位置。
var WellKnownPaths = []string{
	`C:\Program Files\Tesseract-OCR\tesseract.exe`,
	`D:\Tesseract-OCR\tesseract.exe`,
	"/usr/bin/tesseract",
	"/usr/local/bin/tesseract",
	"/opt/homebrew/bin/tesseract",
}

var lookPath = exec.LookPath

// Precheck 解析 tesseract 可执行文件：configured（若非空）→ PATH → WellKnownPaths。
// 找不到时返回 *MissingError，调用方应在处理任何行之前失败退出。
func Precheck(configured string) (string, error) {
	tried := make([]string, 0, len(WellKnownPaths)+2)

	if configured != "" {
		tried = append(tried, configured)
		if isExecutableFile(configured) {
			return configured, nil
		}
		return "", &MissingError{Tried: tried}
	}

	tried = append(tried, "PATH")
	if p, err := lookPath("tesseract"); err == nil {
		return p, nil
	}
	for _, p := range WellKnownPaths {
		tried = append(tried, p)
		if isExecutableFile(p) {
			return p, nil
		}
	}
	return "", &MissingError{Tried: tried}
}

func isExecutableFile(p string) bool {
	st, err := os.Stat(p)
	if err != nil || !st.Mode().IsRegular() {
		return false
	}
	return true
}
