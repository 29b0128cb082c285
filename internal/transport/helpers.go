package transport

import (
	"errors"

	"github.com/UnendingLoop/watermarker/internal/model"
)

func errorCodeDefiner(err error) int {
	switch {
	case errors.Is(err, model.ErrCommon500):
		return 500
	case errors.Is(err, model.ErrRunNotFound):
		return 404
	case errors.Is(err, model.ErrIncorrectQuery),
		errors.Is(err, model.ErrIncorrectID),
		errors.Is(err, model.ErrEmptySource),
		errors.Is(err, model.ErrEmptyWMark),
		errors.Is(err, model.ErrIncorrectAlign),
		errors.Is(err, model.ErrInvalidConfig),
		errors.Is(err, model.ErrUnsupportedFormat):
		return 400
	default:
		return 500
	}
}
