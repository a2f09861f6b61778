package classify

import (
	"context"
	"image"
	"regexp"
	"strings"

	"github.com/John-Robertt/ngreport/internal/domain"
	"github.com/John-Robertt/ngreport/internal/infra/imgx"
	"github.com/John-Robertt/ngreport/internal/logger"
	"github.com/John-Robertt/ngreport/internal/ocr"
)

var ngWordRE = regexp.MustCompile(`(?i)\bNG\b`)

// TextOptions 是文字识别分类的阈值，按原值使用（0 也是合法取值）。
type TextOptions struct {
	BlankVariance     float64
	BlankDominance    float64
	BinarizeThreshold uint8
	MinConfidence     float64
}

// DefaultTextOptions 返回内置阈值。
func DefaultTextOptions() TextOptions {
	return TextOptions{
		BlankVariance:     100,
		BlankDominance:    0.95,
		BinarizeThreshold: 150,
		MinConfidence:     60,
	}
}

// Text 通过识别图中文字确认 NG。
type Text struct {
	rec  ocr.Recognizer
	opts TextOptions
	log  logger.Logger

	decode func(path string) (image.Image, string, error)
}

func NewText(rec ocr.Recognizer, opts TextOptions, log logger.Logger) *Text {
	if log == nil {
		log = logger.NewNop()
	}
	return &Text{rec: rec, opts: opts, log: log, decode: imgx.Decode}
}

func (t *Text) Name() string { return "text" }

func (t *Text) Classify(ctx context.Context, c domain.Candidate) domain.Classified {
	out := domain.Classified{Candidate: c}

	if LabelFromName(c.Base) == domain.LabelSRC {
		out.Label = domain.LabelSRC
		out.Reason = ReasonFilename
		return out
	}

	img, _, err := t.decode(c.AbsPath)
	if err != nil {
		t.log.Warn("图片解码失败，按文件名判断", logger.String("path", c.RelPath), logger.Error(err))
		return t.fallback(out)
	}

	if imgx.IsBlank(img, t.opts.BlankVariance, t.opts.BlankDominance) {
		t.log.Debug("跳过空白图片", logger.String("path", c.RelPath))
		out.Label = domain.LabelUnlabeled
		out.Reason = ReasonBlank
		return out
	}

	// 先识别原图，再识别二值化后的灰度图。
	passes := []func() image.Image{
		func() image.Image { return img },
		func() image.Image { return imgx.Binarize(imgx.Grayscale(img), t.opts.BinarizeThreshold) },
	}
	for _, pass := range passes {
		rec, err := t.rec.Recognize(ctx, pass())
		if err != nil {
			t.log.Warn("文字识别失败，按文件名判断", logger.String("path", c.RelPath), logger.Error(err))
			return t.fallback(out)
		}
		out.Text = rec.Text
		if conf, ok := t.confirm(rec); ok {
			out.Label = domain.LabelNG
			out.Confirmed = true
			out.Confidence = conf
			out.Reason = ReasonOCR
			return out
		}
	}

	if visibleLen(out.Text) < 3 {
		t.log.Debug("图片几乎无文字", logger.String("path", c.RelPath))
	}
	return t.fallback(out)
}

// confirm 报告识别结果中是否存在置信度足够的 "NG"。
// 引擎未给出单词级数据时退回整段文本匹配（置信度记为 -1）。
func (t *Text) confirm(rec ocr.Recognition) (float64, bool) {
	if len(rec.Words) == 0 {
		return -1, ngWordRE.MatchString(rec.Text)
	}
	for _, w := range rec.Words {
		if w.Confidence > t.opts.MinConfidence && ngWordRE.MatchString(w.Text) {
			return w.Confidence, true
		}
	}
	return 0, false
}

func (t *Text) fallback(out domain.Classified) domain.Classified {
	// 只看不含扩展名的部分：".png" 本身就含 "NG"。
	if StrictNGName(out.Base) {
		t.log.Warn("文件名包含 NG 但未识别到文字，按 NG 处理", logger.String("path", out.RelPath))
		out.Label = domain.LabelNG
		out.Reason = ReasonStrictFilename
		return out
	}
	out.Label = LabelFromName(out.Base)
	out.Reason = ReasonFilename
	if out.Label == domain.LabelNG {
		// 文件名 token 命中 NG，但既未被识别确认，也没通过严格文件名检查。
		out.Label = domain.LabelUnlabeled
		out.Reason = ReasonUnconfirmed
	}
	return out
}

func visibleLen(s string) int {
	n := 0
	for _, r := range s {
		if !strings.ContainsRune(" \t\r\n", r) {
			n++
		}
	}
	return n
}
