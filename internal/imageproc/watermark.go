// Package imageproc provides the image side of watermarking: placement geometry,
// orientation normalization, watermark scaling/overlay and output encoding.
package imageproc

import (
	"fmt"
	"image"
	"io"
	"path/filepath"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"github.com/UnendingLoop/watermarker/internal/model"
	ico "github.com/biessek/golang-ico"
	"github.com/disintegration/imaging"
	"github.com/gen2brain/avif"
)

const DefaultJPEGQuality = 95

// ResizeMark scales the watermark with a triangle filter; alpha is kept.
func ResizeMark(mark image.Image, s model.Size) *image.NRGBA {
	return imaging.Resize(mark, s.W, s.H, imaging.Linear)
}

// Composite alpha-blends mark onto a copy of base at the given offset.
// Pixels falling outside base are dropped.
func Composite(base, mark image.Image, at image.Point, opacity float64) *image.NRGBA {
	return imaging.Overlay(base, mark, at, opacity)
}

// Watermarker applies the batch geometry to host and returns the composited copy
// together with the placement used.
func Watermarker(host, mark image.Image, cfg model.PlacementConfig) (*image.NRGBA, model.Placement) {
	p := BatchPlacement(model.SizeOf(host), model.SizeOf(mark), cfg)
	if p.W == 0 || p.H == 0 {
		return imaging.Clone(host), p
	}

	scaled := ResizeMark(mark, p.Size())
	return Composite(host, scaled, p.Offset(), cfg.Opacity), p
}

// Format is the output encoding, taken from the source extension.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatBMP  Format = "bmp"
	FormatWebP Format = "webp"
	FormatAVIF Format = "avif"
	FormatICO  Format = "ico"
)

var formatByExt = map[string]Format{
	"jpg":  FormatJPEG,
	"jpeg": FormatJPEG,
	"png":  FormatPNG,
	"gif":  FormatGIF,
	"bmp":  FormatBMP,
	"webp": FormatWebP,
	"avif": FormatAVIF,
	"ico":  FormatICO,
}

var imagingFormats = map[Format]imaging.Format{
	FormatJPEG: imaging.JPEG,
	FormatPNG:  imaging.PNG,
	FormatGIF:  imaging.GIF,
	FormatBMP:  imaging.BMP,
}

// icoMaxSide is the largest entry an ICO directory can describe.
const icoMaxSide = 256

// OutputFormat picks the encoder for a source file name. The result keeps the
// source name, so it keeps the source format too.
func OutputFormat(name string) (Format, error) {
	ext := filepath.Ext(name)
	if f, ok := formatByExt[strings.ToLower(strings.TrimPrefix(ext, "."))]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", model.ErrUnsupportedFormat, ext)
}

// Encode writes img as format. jpegQuality only affects JPEG; WebP is written lossless.
func Encode(w io.Writer, img image.Image, format Format, jpegQuality int) error {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = DefaultJPEGQuality
	}

	var err error
	switch format {
	case FormatWebP:
		err = nativewebp.Encode(w, img, nil)
	case FormatAVIF:
		err = avif.Encode(w, img)
	case FormatICO:
		if b := img.Bounds(); b.Dx() > icoMaxSide || b.Dy() > icoMaxSide {
			img = imaging.Fit(img, icoMaxSide, icoMaxSide, imaging.Linear)
		}
		err = ico.Encode(w, img)
	default:
		f, ok := imagingFormats[format]
		if !ok {
			return fmt.Errorf("%w: %q", model.ErrUnsupportedFormat, format)
		}
		err = imaging.Encode(w, img, f, imaging.JPEGQuality(jpegQuality))
	}
	if err != nil {
		return fmt.Errorf("encode result image: %w", err)
	}
	return nil
}
