package ocr

import (
	"context"
	"image"
)

// Word 是识别引擎给出的单词级结果。Confidence 取值 0–100，引擎未给出时为 -1。
type Word struct {
	Text       string
	Confidence float64
}

// Recognition 是一次识别的结果。Words 为空表示引擎没有提供单词级数据。
type Recognition struct {
	Text  string
	Words []Word
}

// Recognizer 从图片中识别文字。实现必须尊重 ctx 取消。
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (Recognition, error)
}
