// Package imageproc はダウンロードした記事画像を縮小・再エンコードしてローカルに保存する。
package imageproc

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// 出力フォーマット。
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

// DefaultQuality はJPEGエンコード時の品質。
const DefaultQuality = 82

// Options は1回の保存処理のオプション。
type Options struct {
	// Format は出力フォーマット（"jpeg" または "png"）。空の場合はJPEG。
	Format string
}

// Optimizer は画像の縮小と再エンコードを行い、アップロードディレクトリに保存する。
type Optimizer struct {
	dir       string
	urlPrefix string
	maxWidth  int
	quality   int
}

// NewOptimizer はOptimizerの新しいインスタンスを生成する。
// dir は保存先ディレクトリ、urlPrefix は公開URLのパスプレフィックス。
func NewOptimizer(dir, urlPrefix string, maxWidth int) *Optimizer {
	return &Optimizer{
		dir:       dir,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
		maxWidth:  maxWidth,
		quality:   DefaultQuality,
	}
}

// OptimizeAndStore は画像をデコードし、最大幅を超える場合は縦横比を維持して縮小し、
// 指定フォーマットで再エンコードして保存する。戻り値は保存先の公開パス。
// 拡大は行わない。
func (o *Optimizer) OptimizeAndStore(data []byte, filename string, opts Options) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty image data")
	}
	if filename == "" || strings.ContainsAny(filename, `/\`) {
		return "", fmt.Errorf("invalid filename: %q", filename)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	img = o.resize(img)

	format := opts.Format
	if format == "" {
		format = FormatJPEG
	}

	var buf bytes.Buffer
	var ext string
	switch format {
	case FormatJPEG:
		ext = "jpg"
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: o.quality})
	case FormatPNG:
		ext = "png"
		err = png.Encode(&buf, img)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", format, err)
	}

	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	name := filename + "." + ext
	if err := os.WriteFile(filepath.Join(o.dir, name), buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}

	return path.Join(o.urlPrefix, name), nil
}

// resize は最大幅を超える画像のみを縮小する。
func (o *Optimizer) resize(img image.Image) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if o.maxWidth <= 0 || w <= o.maxWidth {
		return img
	}

	newW := o.maxWidth
	newH := h * o.maxWidth / w
	if newH < 1 {
		newH = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
