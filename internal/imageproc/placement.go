package imageproc

import (
	"fmt"
	"image"
	"math"

	"github.com/UnendingLoop/watermarker/internal/model"
)

// Position places a mark of size mark on host using the one-hot alignment vector:
// the far-edge term is selected for right/bottom anchors, the near-edge term otherwise.
func Position(host, mark model.Size, m model.Margin, a model.Alignment) image.Point {
	v := a.Indicator()
	tl, tr, bl, br := v[0], v[1], v[2], v[3]

	x := (tr+br)*(host.W-mark.W-m.X) + (tl+bl)*m.X
	y := (bl+br)*(host.H-mark.H-m.Y) + (tl+tr)*m.Y

	return image.Pt(x, y)
}

// PreviewPlacement computes the watermark rectangle for a preview rendered at a
// different pixel size than the decoded image. The margin is given in decoded
// pixels and rescaled so the on-screen margin matches the batch result.
func PreviewPlacement(decoded, mark, rendered model.Size, scale float64, margin int, a model.Alignment) model.Placement {
	var ratioW, ratioH float64
	globalScale := 1.0

	// no image loaded yet: zero-size mark in the anchor corner
	if !decoded.Empty() {
		ratioW = float64(mark.W) / float64(decoded.W)
		ratioH = float64(mark.H) / float64(decoded.H)
		globalScale = float64(rendered.W) / float64(decoded.W)
	}

	w := int(math.Ceil(ratioW * float64(rendered.W) * scale))
	h := int(math.Ceil(ratioH * float64(rendered.H) * scale))
	adjusted := int(math.Ceil(float64(margin) * globalScale))

	pt := Position(rendered, model.Size{W: w, H: h}, model.UniformMargin(adjusted), a)
	return model.Placement{X: pt.X, Y: pt.Y, W: w, H: h}
}

// RelativeSurfaceArea is the share of the rendered image covered by the preview mark.
func RelativeSurfaceArea(preview model.Placement, rendered model.Size) float64 {
	if rendered.Empty() {
		return 0
	}
	return float64(preview.W) * float64(preview.H) / (float64(rendered.W) * float64(rendered.H))
}

// RelativeMargin converts a margin in decoded pixels into a fraction of the image width.
func RelativeMargin(margin, decodedWidth int) float64 {
	if decodedWidth <= 0 {
		return 0
	}
	return float64(margin) / float64(decodedWidth)
}

// ScaledMarkSize solves the mark's width and height from the target surface
// area (area × host area) and the mark's own aspect ratio.
func ScaledMarkSize(host, mark model.Size, area float64) model.Size {
	if host.Empty() || mark.Empty() || area <= 0 {
		return model.Size{}
	}

	surface := area * float64(host.W) * float64(host.H)
	aspect := float64(mark.W) / float64(mark.H)

	w := int(math.Round(math.Sqrt(surface * aspect)))
	h := int(math.Round(math.Sqrt(surface / aspect)))

	return model.Size{W: max(w, 1), H: max(h, 1)}
}

// BatchPlacement is the per-file geometry of a batch run. The same cfg is used for
// every file, so the mark keeps the same share of area on every resolution.
func BatchPlacement(host, mark model.Size, cfg model.PlacementConfig) model.Placement {
	size := ScaledMarkSize(host, mark, cfg.RelativeSurfaceArea)
	if size.Empty() {
		return model.Placement{}
	}
	margin := int(math.Round(cfg.RelativeMargin * float64(host.W)))

	size, margin = fitInside(host, size, margin)
	pt := Position(host, size, model.UniformMargin(margin), cfg.Alignment)

	return model.Placement{X: pt.X, Y: pt.Y, W: size.W, H: size.H}
}

// fitInside keeps offset+size within the host: an oversized mark is shrunk with its
// aspect ratio kept, then the margin is cut down to the space that is left.
func fitInside(host, size model.Size, margin int) (model.Size, int) {
	if size.W > host.W || size.H > host.H {
		f := math.Min(float64(host.W)/float64(size.W), float64(host.H)/float64(size.H))
		size.W = max(int(float64(size.W)*f), 1)
		size.H = max(int(float64(size.H)*f), 1)
	}

	margin = min(margin, host.W-size.W, host.H-size.H)
	return size, max(margin, 0)
}

// DeriveConfig freezes the batch parameters from a preview of reference with mark
// drawn at p.Scale and p.Margin (decoded pixels). rendered is the on-screen size
// of the preview; pass the decoded size when nothing is displayed.
func DeriveConfig(reference, mark, rendered model.Size, p model.PreviewParams, a model.Alignment, opacity float64) (model.PlacementConfig, error) {
	if err := p.Validate(); err != nil {
		return model.PlacementConfig{}, err
	}
	if reference.Empty() || mark.Empty() {
		return model.PlacementConfig{}, fmt.Errorf("%w: empty reference or watermark", model.ErrInvalidConfig)
	}
	if rendered.Empty() {
		rendered = reference
	}

	preview := PreviewPlacement(reference, mark, rendered, p.Scale, p.Margin, a)
	cfg := model.PlacementConfig{
		Alignment:           a,
		RelativeSurfaceArea: RelativeSurfaceArea(preview, rendered),
		RelativeMargin:      RelativeMargin(p.Margin, reference.W),
		Opacity:             opacity,
	}

	return cfg, cfg.Validate()
}
