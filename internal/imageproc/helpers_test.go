package imageproc

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int, c color.Color) *image.NRGBA {
	return imaging.New(w, h, c)
}

func testImageBytes(t *testing.T, w, h int, format imaging.Format) []byte {
	t.Helper()

	var buf bytes.Buffer
	err := imaging.Encode(&buf, testImage(w, h, color.NRGBA{R: 100, G: 100, B: 200, A: 255}), format)
	require.NoError(t, err)

	return buf.Bytes()
}

// withOrientation splices a minimal APP1/EXIF segment carrying only the
// orientation tag right after the JPEG SOI marker.
func withOrientation(t *testing.T, jpegData []byte, o int) []byte {
	t.Helper()
	require.True(t, len(jpegData) > 2 && jpegData[0] == 0xFF && jpegData[1] == 0xD8, "not a jpeg")

	tiff := []byte{
		'M', 'M', 0x00, 0x2A, 0x00, 0x00, 0x00, 0x08,
		0x00, 0x01,
		0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, byte(o >> 8), byte(o), 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	payload := append([]byte("Exif\x00\x00"), tiff...)
	segLen := len(payload) + 2

	out := []byte{0xFF, 0xD8, 0xFF, 0xE1, byte(segLen >> 8), byte(segLen)}
	out = append(out, payload...)
	return append(out, jpegData[2:]...)
}
