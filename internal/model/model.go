// Package model provides data-structs for internal app-usage
package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusFailed     Status = "failed"
	StatusDone       Status = "done"
)

var StatusMap = map[Status]bool{
	StatusQueued:     true,
	StatusInProgress: true,
	StatusFailed:     true,
	StatusDone:       true,
}

//---------------------

// BatchJob is one confirmed run of the compositing engine over a folder.
type BatchJob struct {
	ID            uuid.UUID
	SourceDir     string
	WatermarkPath string
	OutputParent  string // defaults to SourceDir
	OutputBase    string // defaults to DefaultOutputBase
	Config        PlacementConfig
	Extended      bool // accept avif/ico too
}

const DefaultOutputBase = "watermarked"

// FileResult is the outcome for one source file of a batch.
type FileResult struct {
	Source string
	Output string
	Err    error
}

func (r FileResult) Failed() bool { return r.Err != nil }

type Summary struct {
	RunID      uuid.UUID
	TargetDir  string
	Total      int
	Succeeded  []FileResult
	Failed     []FileResult
	Canceled   bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// FailedFiles renders failures as "name: reason" lines for persisting and reporting.
func (s *Summary) FailedFiles() StringSlice {
	out := make(StringSlice, 0, len(s.Failed))
	for _, f := range s.Failed {
		out = append(out, fmt.Sprintf("%s: %v", f.Source, f.Err))
	}
	return out
}

//---------------------

// Run is the persisted record of a batch job submitted through the API.
type Run struct {
	UID           uuid.UUID   `json:"uid"`
	SourceDir     string      `json:"source_dir"`
	WatermarkPath string      `json:"watermark_path"`
	Alignment     Alignment   `json:"alignment"`
	RelArea       float64     `json:"relative_surface_area"`
	RelMargin     float64     `json:"relative_margin"`
	Opacity       float64     `json:"opacity"`
	Status        Status      `json:"status"`
	TargetDir     string      `json:"target_dir,omitempty"`
	Total         int         `json:"total"`
	Succeeded     int         `json:"succeeded"`
	FailedFiles   StringSlice `json:"failed_files,omitempty"`
	ErrMsg        StringSlice `json:"error,omitempty"`
	CreatedAt     *time.Time  `json:"created_at,omitempty"`
	UpdatedAt     *time.Time  `json:"updated_at,omitempty"`
}

// Job rebuilds the engine input from a persisted run.
func (r *Run) Job() BatchJob {
	return BatchJob{
		ID:            r.UID,
		SourceDir:     r.SourceDir,
		WatermarkPath: r.WatermarkPath,
		Config: PlacementConfig{
			Alignment:           r.Alignment,
			RelativeSurfaceArea: r.RelArea,
			RelativeMargin:      r.RelMargin,
			Opacity:             r.Opacity,
		},
	}
}

// RunCreateData is the raw request for a new run, before validation.
// Either RelArea/RelMargin are given directly, or they are derived from
// the preview parameters (Scale, Margin) against the reference image.
type RunCreateData struct {
	SourceDir     string   `json:"source_dir"`
	WatermarkPath string   `json:"watermark_path"`
	Alignment     string   `json:"alignment"`
	Scale         *float64 `json:"scale,omitempty"`
	Margin        *float64 `json:"margin,omitempty"`
	RelArea       *float64 `json:"relative_surface_area,omitempty"`
	RelMargin     *float64 `json:"relative_margin,omitempty"`
	Opacity       *float64 `json:"opacity,omitempty"`
	Reference     string   `json:"reference,omitempty"`
}

//-------------------

type ListRequest struct {
	Page  int    `form:"page"`
	Limit int    `form:"limit"`
	Sort  string `form:"sort"`
	Order string `form:"order"`
}

const (
	ByUUID    = "uid"
	ByCreated = "created"
	OrderASC  = "ascend"
	OrderDESC = "descend"
)

// ------------------

var (
	ErrCommon500      error = errors.New("something went wrong. Try again later") // 500
	ErrIncorrectQuery error = errors.New("incorrect query parameters")            // 400
	ErrIncorrectID    error = errors.New("incorrect run UUID")                    // 400
	ErrRunNotFound    error = errors.New("specified run UUID doesn't exist")      // 404
	ErrInvalidConfig  error = errors.New("invalid placement configuration")       // 400
	ErrEmptySource    error = errors.New("empty/incorrect source folder")         // 400
	ErrEmptyWMark     error = errors.New("empty/incorrect watermark path")        // 400
	ErrIncorrectAlign error = errors.New("incorrect alignment provided")          // 400

	// engine: job-level
	ErrSourceDir error = errors.New("source folder is not readable")
	ErrWatermark error = errors.New("watermark cannot be decoded")
	ErrTargetDir error = errors.New("output folder cannot be created")

	// engine: per-file
	ErrDecode            error = errors.New("image decode failed")
	ErrIO                error = errors.New("file i/o failed")
	ErrUnsupportedFormat error = errors.New("unsupported image format")
	ErrCanceled          error = errors.New("run canceled before file was processed")
	ErrPanic             error = errors.New("file processing panicked")
)

//--------------------

type StringSlice []string

func (s *StringSlice) Scan(value any) error {
	if value == nil {
		*s = []string{}
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("invalid type for StringSlice")
	}

	if err := json.Unmarshal(b, s); err != nil {
		return fmt.Errorf("failed to unmarshal JSONB to []StringSlice: %w", err)
	}
	return nil
}

func (s StringSlice) Value() (driver.Value, error) {
	if len(s) == 0 || s == nil {
		return []byte(`[]`), nil
	}
	res, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal []StringSlice to JSONB: %w", err)
	}

	return res, nil
}
