package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/UnendingLoop/watermarker/internal/model"
	_ "github.com/biessek/golang-ico" // registers ico with image.Decode
	"github.com/disintegration/imaging"
	_ "github.com/gen2brain/avif" // registers avif with image.Decode
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp" // registers webp with image.Decode
)

// ReadOrientation returns the EXIF orientation of an encoded image. Missing or
// unreadable metadata (including non-JPEG files) yields OrientationNormal.
func ReadOrientation(r io.Reader) (o model.Orientation) {
	// malformed EXIF blocks are treated the same as absent ones
	defer func() {
		if rec := recover(); rec != nil {
			o = model.OrientationNormal
		}
	}()

	if r == nil {
		return model.OrientationNormal
	}

	x, err := exif.Decode(r)
	if err != nil || x == nil {
		return model.OrientationNormal
	}

	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return model.OrientationNormal
	}

	v, err := tag.Int(0)
	if err != nil || v < int(model.OrientationNormal) || v > int(model.OrientationRotate90CCW) {
		return model.OrientationNormal
	}

	return model.Orientation(v)
}

// Normalize applies o once so that the result is displayed upright with no tag.
// Note imaging's Rotate90 turns counter-clockwise.
func Normalize(img image.Image, o model.Orientation) image.Image {
	switch o {
	case model.OrientationFlipH:
		return imaging.FlipH(img)
	case model.OrientationRotate180:
		return imaging.Rotate180(img)
	case model.OrientationFlipV:
		return imaging.FlipV(img)
	case model.OrientationTranspose:
		return imaging.Transpose(img)
	case model.OrientationRotate90CW:
		return imaging.Rotate270(img)
	case model.OrientationTransverse:
		return imaging.Transverse(img)
	case model.OrientationRotate90CCW:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// DecodeNormalized decodes data and applies its embedded orientation.
func DecodeNormalized(data []byte) (image.Image, model.Orientation, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("%w: empty input", model.ErrDecode)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, 0, fmt.Errorf("%w: %v", model.ErrUnsupportedFormat, err)
		}
		return nil, 0, fmt.Errorf("%w: %v", model.ErrDecode, err)
	}

	o := ReadOrientation(bytes.NewReader(data))
	return Normalize(img, o), o, nil
}

// LoadAsset reads and decodes the file at path with orientation applied.
func LoadAsset(path string) (*model.Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrIO, err)
	}

	img, o, err := DecodeNormalized(data)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", path, err)
	}

	return &model.Asset{Path: path, Image: img, Orientation: o}, nil
}
