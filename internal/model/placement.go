package model

import (
	"database/sql/driver"
	"fmt"
	"image"
	"strings"
)

// Alignment is the corner the watermark is anchored to.
type Alignment int

const (
	TopLeft Alignment = iota
	TopRight
	BottomLeft
	BottomRight
)

var alignmentNames = map[Alignment]string{
	TopLeft:     "top-left",
	TopRight:    "top-right",
	BottomLeft:  "bottom-left",
	BottomRight: "bottom-right",
}

// Indicator returns the one-hot vector [TL, TR, BL, BR] used by the placement formula.
func (a Alignment) Indicator() [4]int {
	var v [4]int
	if a >= TopLeft && a <= BottomRight {
		v[a] = 1
	}
	return v
}

func (a Alignment) Valid() bool {
	_, ok := alignmentNames[a]
	return ok
}

func (a Alignment) String() string {
	if name, ok := alignmentNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Alignment(%d)", int(a))
}

// ParseAlignment accepts "top-left", "Top_Left", "bottom-right"...
func ParseAlignment(s string) (Alignment, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for a, name := range alignmentNames {
		if name == norm {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrIncorrectAlign, s)
}

func (a Alignment) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrIncorrectAlign, int(a))
	}
	return []byte(a.String()), nil
}

func (a *Alignment) UnmarshalText(b []byte) error {
	parsed, err := ParseAlignment(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a *Alignment) Scan(value any) error {
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("invalid type for Alignment")
	}
	return a.UnmarshalText([]byte(raw))
}

func (a Alignment) Value() (driver.Value, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrIncorrectAlign, int(a))
	}
	return a.String(), nil
}

//---------------------

type Size struct {
	W, H int
}

func SizeOf(img image.Image) Size {
	b := img.Bounds()
	return Size{W: b.Dx(), H: b.Dy()}
}

func (s Size) Area() int { return s.W * s.H }

func (s Size) Empty() bool { return s.W <= 0 || s.H <= 0 }

// Margin is measured in host-image pixels. The batch path always uses X == Y.
type Margin struct {
	X, Y int
}

func UniformMargin(m int) Margin { return Margin{X: m, Y: m} }

// Placement is the computed rectangle of the watermark on one host image.
type Placement struct {
	X, Y int
	W, H int
}

func (p Placement) Offset() image.Point { return image.Pt(p.X, p.Y) }

func (p Placement) Size() Size { return Size{W: p.W, H: p.H} }

func (p Placement) Rect() image.Rectangle { return image.Rect(p.X, p.Y, p.X+p.W, p.Y+p.H) }

//---------------------

const (
	MinScale = 0.01
	MaxScale = 2.0
)

// PreviewParams are the on-screen knobs the relative batch parameters are derived from.
type PreviewParams struct {
	Scale  float64
	Margin int // px of the decoded reference image
}

func (p PreviewParams) Validate() error {
	if p.Scale < MinScale || p.Scale > MaxScale {
		return fmt.Errorf("%w: scale %v out of [%v, %v]", ErrInvalidConfig, p.Scale, MinScale, MaxScale)
	}
	if p.Margin < 0 {
		return fmt.Errorf("%w: negative margin %d", ErrInvalidConfig, p.Margin)
	}
	return nil
}

// PlacementConfig is captured once per batch and applied to every file unchanged.
type PlacementConfig struct {
	Alignment           Alignment
	RelativeSurfaceArea float64 // watermark area / host area, (0, 1]
	RelativeMargin      float64 // margin / host width, [0, 1)
	Opacity             float64 // (0, 1]
}

func (c PlacementConfig) Validate() error {
	switch {
	case !c.Alignment.Valid():
		return fmt.Errorf("%w: %w: %v", ErrInvalidConfig, ErrIncorrectAlign, c.Alignment)
	case c.RelativeSurfaceArea <= 0 || c.RelativeSurfaceArea > 1:
		return fmt.Errorf("%w: relative surface area %v out of (0, 1]", ErrInvalidConfig, c.RelativeSurfaceArea)
	case c.RelativeMargin < 0 || c.RelativeMargin >= 1:
		return fmt.Errorf("%w: relative margin %v out of [0, 1)", ErrInvalidConfig, c.RelativeMargin)
	case c.Opacity <= 0 || c.Opacity > 1:
		return fmt.Errorf("%w: opacity %v out of (0, 1]", ErrInvalidConfig, c.Opacity)
	}
	return nil
}

//---------------------

// Orientation is the EXIF orientation tag, 1..8.
type Orientation int

const (
	OrientationNormal Orientation = iota + 1
	OrientationFlipH
	OrientationRotate180
	OrientationFlipV
	OrientationTranspose
	OrientationRotate90CW
	OrientationTransverse
	OrientationRotate90CCW
)

// SwapsAxes reports whether applying o exchanges width and height.
func (o Orientation) SwapsAxes() bool {
	return o >= OrientationTranspose && o <= OrientationRotate90CCW
}

// Asset is a decoded image with its orientation already applied.
// Watermark assets are shared read-only between workers.
type Asset struct {
	Path        string
	Image       image.Image
	Orientation Orientation // tag found in the file, before normalization
}

func (a *Asset) Size() Size { return SizeOf(a.Image) }
