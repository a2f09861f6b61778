package imgx

import (
	"errors"
	"image"
	"image/draw"
	_ "image/jpeg" // 注册 JPEG 解码器
	_ "image/png"  // 注册 PNG 解码器
	"os"

	_ "golang.org/x/image/bmp"  // 产线截图偶尔是 BMP
	_ "golang.org/x/image/tiff" // 部分相机导出 TIFF
	_ "golang.org/x/image/webp"
)

// ErrEmptyImage 表示图片尺寸为 0。
var ErrEmptyImage = errors.New("图片尺寸无效")

// Decode 打开并完整解码 path（截断/损坏的图片在这里失败）。文件在返回前关闭。
func Decode(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", err
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, "", ErrEmptyImage
	}
	return img, format, nil
}

// Dimensions 只读取图片头部，返回像素宽高。
func Dimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, ErrEmptyImage
	}
	return cfg.Width, cfg.Height, nil
}

// ScaleToHeight 按目标高度等比缩放，返回缩放后的宽度与缩放系数。
func ScaleToHeight(w, h, targetHeight int) (int, float64) {
	if w <= 0 || h <= 0 || targetHeight <= 0 {
		return 0, 0
	}
	scale := float64(targetHeight) / float64(h)
	return int(float64(w) * scale), scale
}

// Grayscale 把任意图片转换为 8 位灰度图。
func Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Binarize 以 threshold 二值化灰度图：大于阈值为白（255），否则为黑（0）。
func Binarize(g *image.Gray, threshold uint8) *image.Gray {
	b := g.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := g.Pix[y*g.Stride : y*g.Stride+b.Dx()]
		out := dst.Pix[y*dst.Stride : y*dst.Stride+b.Dx()]
		for x, p := range src {
			if p > threshold {
				out[x] = 255
			}
		}
	}
	return dst
}

// Stats 是灰度像素统计。
type Stats struct {
	Mean     float64
	Variance float64
	// Dominance 是出现次数最多的灰度值占全部像素的比例。
	Dominance float64
}

// GrayStats 计算灰度图的均值、方差与主色占比。
func GrayStats(g *image.Gray) Stats {
	b := g.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return Stats{}
	}

	var hist [256]int
	var sum float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[(y-b.Min.Y)*g.Stride : (y-b.Min.Y)*g.Stride+b.Dx()]
		for _, p := range row {
			hist[p]++
			sum += float64(p)
		}
	}
	mean := sum / float64(n)

	var variance float64
	maxCount := 0
	for v, c := range hist {
		if c == 0 {
			continue
		}
		d := float64(v) - mean
		variance += d * d * float64(c)
		if c > maxCount {
			maxCount = c
		}
	}
	return Stats{
		Mean:      mean,
		Variance:  variance / float64(n),
		Dominance: float64(maxCount) / float64(n),
	}
}

// IsBlank 判断图片是否是空白/纯色（无实际内容）。
// 方差低于 maxVariance，或单一灰度值占比超过 maxDominance，均视为空白。
func IsBlank(img image.Image, maxVariance, maxDominance float64) bool {
	s := GrayStats(Grayscale(img))
	return s.Variance < maxVariance || s.Dominance > maxDominance
}
