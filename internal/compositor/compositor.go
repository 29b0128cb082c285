// Package compositor runs one watermark batch: it lists a folder, composites the
// watermark onto every image in parallel and writes the results into a new folder.
package compositor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/UnendingLoop/watermarker/internal/imageproc"
	"github.com/UnendingLoop/watermarker/internal/model"
	"github.com/UnendingLoop/watermarker/internal/mwlogger"
	"github.com/UnendingLoop/watermarker/internal/progress"
	"github.com/UnendingLoop/watermarker/internal/storage"
	"github.com/UnendingLoop/watermarker/internal/storage/localstorage"
	"github.com/wb-go/wbf/zlog"
)

type Compositor struct {
	workers     int
	jpegQuality int
	extended    bool
	mirror      storage.ImageStorage
}

type Option func(*Compositor)

func WithWorkers(n int) Option {
	return func(c *Compositor) {
		if n > 0 {
			c.workers = n
		}
	}
}

func WithJPEGQuality(q int) Option {
	return func(c *Compositor) {
		if q >= 1 && q <= 100 {
			c.jpegQuality = q
		}
	}
}

// WithMirror copies every result into st under "<run-id>/<file>".
func WithMirror(st storage.ImageStorage) Option {
	return func(c *Compositor) { c.mirror = st }
}

// WithExtendedFormats accepts avif/ico on top of the base allow-list for every job.
func WithExtendedFormats(on bool) Option {
	return func(c *Compositor) { c.extended = on }
}

func New(opts ...Option) *Compositor {
	c := &Compositor{
		workers:     runtime.NumCPU(),
		jpegQuality: imageproc.DefaultJPEGQuality,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run processes job and returns per-file outcomes. A non-nil error means the batch
// never started (bad config, unreadable folder, broken watermark, no output folder);
// per-file failures are reported in the summary only. em receives busy, the file
// count, one step per file and ready, and is closed when Run returns.
func (c *Compositor) Run(ctx context.Context, job model.BatchJob, em *progress.Emitter) (*model.Summary, error) {
	em.SetReady(false)
	defer func() {
		em.SetReady(true)
		em.Close()
	}()

	logger := mwlogger.LoggerFromContext(ctx).With().Str("run_id", job.ID.String()).Logger()
	ctx = mwlogger.WithLogger(ctx, logger)

	if err := job.Config.Validate(); err != nil {
		return nil, err
	}

	files, err := ListImages(job.SourceDir, job.Extended || c.extended)
	if err != nil {
		return nil, err
	}

	mark, err := imageproc.LoadAsset(job.WatermarkPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrWatermark, err)
	}

	parent := job.OutputParent
	if parent == "" {
		parent = job.SourceDir
	}
	dir, err := localstorage.Allocate(parent, job.OutputBase)
	if err != nil {
		return nil, err
	}

	var sink storage.ImageStorage = dir
	if c.mirror != nil {
		sink = storage.Tee(dir, storage.Prefixed(c.mirror, job.ID.String()+"/"))
	}

	sum := &model.Summary{
		RunID:     job.ID,
		TargetDir: dir.Path(),
		Total:     len(files),
		StartedAt: time.Now().UTC(),
	}
	logger.Info().Str("source", job.SourceDir).Str("target", dir.Path()).Int("files", len(files)).Msg("Batch started")

	em.Start(ctx, len(files))

	b := &batch{
		mark:        mark.Image,
		cfg:         job.Config,
		sink:        sink,
		targetDir:   dir.Path(),
		jpegQuality: c.jpegQuality,
	}
	for _, r := range c.fanOut(ctx, b, files, em, logger) {
		if r.Failed() {
			sum.Failed = append(sum.Failed, r)
			continue
		}
		sum.Succeeded = append(sum.Succeeded, r)
	}

	sum.Canceled = ctx.Err() != nil
	sum.FinishedAt = time.Now().UTC()

	logger.Info().
		Int("succeeded", len(sum.Succeeded)).
		Int("failed", len(sum.Failed)).
		Bool("canceled", sum.Canceled).
		Dur("took", sum.FinishedAt.Sub(sum.StartedAt)).
		Msg("Batch finished")

	return sum, nil
}

// ListImages returns the allow-listed regular files directly inside dir, sorted by name.
func ListImages(dir string, extended bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSourceDir, err)
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !model.IsImageFile(e.Name(), extended) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// PickReference returns the first candidate of dir, in ListImages order, that
// decodes. extended must match the run the reference is picked for.
func PickReference(dir string, extended bool) (*model.Asset, error) {
	files, err := ListImages(dir, extended)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if a, err := imageproc.LoadAsset(f); err == nil {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: no decodable image in %q", model.ErrEmptySource, dir)
}

// fanOut runs files over a fixed pool of workers. Results keep the input order.
func (c *Compositor) fanOut(ctx context.Context, b *batch, files []string, em *progress.Emitter, logger zlog.Zerolog) []model.FileResult {
	results := make([]model.FileResult, len(files))
	idx := make(chan int)

	var wg sync.WaitGroup
	for w := range min(c.workers, len(files)) {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			wl := logger.With().Int("worker_id", workerID).Logger()

			for i := range idx {
				res := b.safeProcess(ctx, files[i])
				if res.Failed() {
					wl.Warn().Err(res.Err).Str("file", res.Source).Msg("File skipped")
				} else {
					wl.Debug().Str("file", res.Source).Msg("File watermarked")
				}
				results[i] = res
				em.Step(ctx)
			}
		}(w)
	}

	for i := range files {
		idx <- i
	}
	close(idx)
	wg.Wait()

	return results
}

//---------------------

// batch is the read-only state shared by all workers of one run.
type batch struct {
	mark        image.Image
	cfg         model.PlacementConfig
	sink        storage.ImageStorage
	targetDir   string
	jpegQuality int
}

func (b *batch) safeProcess(ctx context.Context, path string) (res model.FileResult) {
	defer func() {
		if r := recover(); r != nil {
			res = model.FileResult{Source: filepath.Base(path), Err: fmt.Errorf("%w: %v", model.ErrPanic, r)}
		}
	}()
	return b.process(ctx, path)
}

func (b *batch) process(ctx context.Context, path string) model.FileResult {
	res := model.FileResult{Source: filepath.Base(path)}

	if err := ctx.Err(); err != nil {
		res.Err = fmt.Errorf("%w: %v", model.ErrCanceled, err)
		return res
	}

	data, err := os.ReadFile(path)
	if err != nil {
		res.Err = fmt.Errorf("%w: %v", model.ErrIO, err)
		return res
	}

	outName := res.Source
	format, err := imageproc.OutputFormat(outName)
	if err != nil {
		res.Err = err
		return res
	}

	img, _, err := imageproc.DecodeNormalized(data)
	if err != nil {
		res.Err = err
		return res
	}

	out, _ := imageproc.Watermarker(img, b.mark, b.cfg)

	var buf bytes.Buffer
	if err := imageproc.Encode(&buf, out, format, b.jpegQuality); err != nil {
		res.Err = fmt.Errorf("%w: %v", model.ErrIO, err)
		return res
	}

	if err := b.sink.Put(ctx, outName, int64(buf.Len()), model.ContentType(outName), &buf); err != nil {
		if errors.Is(err, model.ErrIO) || errors.Is(err, model.ErrCanceled) {
			res.Err = err
		} else {
			res.Err = fmt.Errorf("%w: %v", model.ErrIO, err)
		}
		return res
	}

	res.Output = filepath.Join(b.targetDir, outName)
	return res
}
