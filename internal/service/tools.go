package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/UnendingLoop/watermarker/internal/compositor"
	"github.com/UnendingLoop/watermarker/internal/imageproc"
	"github.com/UnendingLoop/watermarker/internal/model"
)

func validateQueryParams(req *model.ListRequest) {
	// Обрабатываем пустые значения, присваиваем дефолты если надо
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 30
	}

	// Валидируем поле типа сортировки
	req.Sort = strings.TrimSpace(strings.ToLower(req.Sort))
	switch {
	case strings.Contains(req.Sort, model.ByUUID):
		req.Sort = "run_uid"
	default:
		req.Sort = "created_at" // по дефолту ставим сортировку по времени создания
	}

	// Валидируем порядок
	req.Order = strings.TrimSpace(strings.ToLower(req.Order))
	switch {
	case strings.Contains(req.Order, model.OrderASC):
		req.Order = "ASC"
	default:
		req.Order = "DESC" // по дефолту ставим сортировку "новое-выше"
	}
}

// validateNormalizeRunInfo fills clean from raw. Relative parameters given in the
// request win; otherwise they are derived from the preview knobs on a reference image.
func validateNormalizeRunInfo(raw *model.RunCreateData, clean *model.Run, extended bool) error {
	// корректна ли папка-источник
	src := strings.TrimSpace(raw.SourceDir)
	if src == "" {
		return model.ErrEmptySource
	}
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %q is not a readable folder", model.ErrEmptySource, src)
	}
	clean.SourceDir = filepath.Clean(src)

	// корректен ли ватермарк
	wm := strings.TrimSpace(raw.WatermarkPath)
	if wm == "" || !model.IsImageFile(wm, true) {
		return model.ErrEmptyWMark
	}
	clean.WatermarkPath = filepath.Clean(wm)

	// угол привязки, по умолчанию - правый нижний
	clean.Alignment = model.BottomRight
	if strings.TrimSpace(raw.Alignment) != "" {
		a, err := model.ParseAlignment(raw.Alignment)
		if err != nil {
			return err
		}
		clean.Alignment = a
	}

	clean.Opacity = 1
	if raw.Opacity != nil {
		clean.Opacity = *raw.Opacity
	}

	var cfg model.PlacementConfig
	var err error
	if raw.RelArea != nil {
		cfg = model.PlacementConfig{Alignment: clean.Alignment, RelativeSurfaceArea: *raw.RelArea, Opacity: clean.Opacity}
		if raw.RelMargin != nil {
			cfg.RelativeMargin = *raw.RelMargin
		}
		err = cfg.Validate()
	} else {
		cfg, err = deriveFromPreview(raw, clean, extended)
	}
	if err != nil {
		return err
	}

	clean.RelArea = cfg.RelativeSurfaceArea
	clean.RelMargin = cfg.RelativeMargin
	return nil
}

func deriveFromPreview(raw *model.RunCreateData, clean *model.Run, extended bool) (model.PlacementConfig, error) {
	p := model.PreviewParams{Scale: 1}
	if raw.Scale != nil {
		p.Scale = *raw.Scale
	}
	if raw.Margin != nil {
		p.Margin = int(*raw.Margin)
	}
	if err := p.Validate(); err != nil {
		return model.PlacementConfig{}, err
	}

	// референс: явно указанный, иначе первая декодируемая картинка из папки
	var ref *model.Asset
	var err error
	if refPath := strings.TrimSpace(raw.Reference); refPath != "" {
		if ref, err = imageproc.LoadAsset(refPath); err != nil {
			return model.PlacementConfig{}, fmt.Errorf("%w: reference: %w", model.ErrInvalidConfig, err)
		}
	} else if ref, err = compositor.PickReference(clean.SourceDir, extended); err != nil {
		return model.PlacementConfig{}, err
	}

	mark, err := imageproc.LoadAsset(clean.WatermarkPath)
	if err != nil {
		return model.PlacementConfig{}, fmt.Errorf("%w: %w", model.ErrEmptyWMark, err)
	}

	return imageproc.DeriveConfig(ref.Size(), mark.Size(), model.Size{}, p, clean.Alignment, clean.Opacity)
}
