package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	// Registered decoders for uploads.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ContrastFactor scales each pixel's distance from the image mean.
const ContrastFactor = 2.0

// MaxPixels rejects decompression bombs before the full decode.
const MaxPixels = 178_956_970

// sharpenKernel is the 3x3 edge-enhancing kernel, normalised by sharpenScale.
var sharpenKernel = [9]int{
	-2, -2, -2,
	-2, 32, -2,
	-2, -2, -2,
}

const sharpenScale = 16

var ErrUnsupportedImage = errors.New("unsupported image")

// Decode reads an encoded image (PNG, JPEG, GIF, BMP, TIFF or WebP).
func Decode(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty %s image", ErrUnsupportedImage, format)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrUnsupportedImage, cfg.Width, cfg.Height, MaxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return img, nil
}

// Apply runs grayscale, contrast and sharpen in that order. The input is
// never modified; every step allocates a new image with the same bounds.
func Apply(img image.Image) *image.Gray {
	g := Grayscale(img)
	g = Contrast(g, ContrastFactor)
	return Sharpen(g)
}

// Grayscale converts img to 8-bit luminance. Translucent pixels are
// composited over white so that transparent backgrounds read as paper.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	dst := image.NewGray(b)
	draw.Draw(dst, b, image.White, image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}

// Contrast moves every pixel away from the rounded mean luminance by factor.
func Contrast(src *image.Gray, factor float64) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)

	mean := meanLuminance(src)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			p := float64(src.GrayAt(x, y).Y)
			v := mean + factor*(p-mean)
			dst.SetGray(x, y, color.Gray{Y: clampByte(v)})
		}
	}
	return dst
}

// Sharpen convolves src with the sharpen kernel. Border pixels, which lack a
// full neighbourhood, are copied unchanged.
func Sharpen(src *image.Gray) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)

	if b.Dx() < 3 || b.Dy() < 3 {
		return dst
	}

	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			sum := 0
			k := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					sum += sharpenKernel[k] * int(src.GrayAt(x+dx, y+dy).Y)
					k++
				}
			}
			dst.SetGray(x, y, color.Gray{Y: clampByte(float64(sum) / sharpenScale)})
		}
	}
	return dst
}

// EncodePNG losslessly encodes img.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func meanLuminance(g *image.Gray) float64 {
	b := g.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0
	}
	var sum uint64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[(y-b.Min.Y)*g.Stride : (y-b.Min.Y)*g.Stride+b.Dx()]
		for _, p := range row {
			sum += uint64(p)
		}
	}
	return float64(int(float64(sum)/float64(n) + 0.5))
}

func clampByte(v float64) uint8 {
	v += 0.5
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v)
}
