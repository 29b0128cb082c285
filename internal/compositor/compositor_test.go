package compositor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/HugoSmits86/nativewebp"
	"github.com/UnendingLoop/watermarker/internal/model"
	"github.com/UnendingLoop/watermarker/internal/progress"
	ico "github.com/biessek/golang-ico"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	blue = color.NRGBA{B: 255, A: 255}
	red  = color.NRGBA{R: 255, A: 255}
)

func saveImage(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	require.NoError(t, imaging.Save(imaging.New(w, h, c), path))
}

// withOrientation splices an APP1/EXIF segment carrying only the orientation tag after SOI.
func withOrientation(jpegData []byte, o int) []byte {
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

type fixture struct {
	src  string
	mark string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	src := t.TempDir()
	markDir := t.TempDir()

	saveImage(t, filepath.Join(src, "a.png"), 400, 300, blue)
	saveImage(t, filepath.Join(src, "b.jpg"), 200, 100, blue)
	saveImage(t, filepath.Join(src, "c.gif"), 50, 50, blue)
	require.NoError(t, os.WriteFile(filepath.Join(src, "notes.txt"), []byte("not an image"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(src, "nested"), 0o755))
	saveImage(t, filepath.Join(src, "nested", "d.png"), 10, 10, blue)

	mark := filepath.Join(markDir, "mark.png")
	saveImage(t, mark, 100, 50, red)

	return fixture{src: src, mark: mark}
}

func (f fixture) job() model.BatchJob {
	return model.BatchJob{
		ID:            uuid.New(),
		SourceDir:     f.src,
		WatermarkPath: f.mark,
		Config: model.PlacementConfig{
			Alignment:           model.BottomRight,
			RelativeSurfaceArea: 0.05,
			RelativeMargin:      0.05,
			Opacity:             1,
		},
	}
}

type trackResult struct {
	states      []bool
	done, total int
}

func track() (*progress.Emitter, func() trackResult) {
	em, rep := progress.New()
	ch := make(chan trackResult, 1)

	go func() {
		var res trackResult
		res.done, res.total = progress.Track(rep, progress.Handler{
			OnState: func(ready bool) { res.states = append(res.states, ready) },
		})
		ch <- res
	}()

	return em, func() trackResult { return <-ch }
}

func sources(rs []model.FileResult) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Source)
	}
	return out
}

func TestRun_Batch(t *testing.T) {
	f := newFixture(t)
	em, wait := track()

	sum, err := New(WithWorkers(2)).Run(context.Background(), f.job(), em)
	require.NoError(t, err)

	tr := wait()
	require.Equal(t, []bool{false, true}, tr.states)
	require.Equal(t, 3, tr.total)
	require.Equal(t, 3, tr.done)

	require.Equal(t, filepath.Join(f.src, "watermarked"), sum.TargetDir)
	require.Equal(t, 3, sum.Total)
	require.Empty(t, sum.Failed)
	require.False(t, sum.Canceled)
	require.Equal(t, []string{"a.png", "b.jpg", "c.gif"}, sources(sum.Succeeded))

	entries, err := os.ReadDir(sum.TargetDir)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	for _, r := range sum.Succeeded {
		require.Equal(t, filepath.Join(sum.TargetDir, r.Source), r.Output)

		in, err := imaging.Open(filepath.Join(f.src, r.Source))
		require.NoError(t, err)
		out, err := imaging.Open(r.Output)
		require.NoError(t, err)
		require.Equal(t, in.Bounds(), out.Bounds(), r.Source)
	}

	// the nested folder is not descended into
	_, err = os.Stat(filepath.Join(sum.TargetDir, "d.png"))
	require.True(t, os.IsNotExist(err))
}

func TestRun_Placement(t *testing.T) {
	f := newFixture(t)

	sum, err := New().Run(context.Background(), f.job(), nil)
	require.NoError(t, err)

	out, err := imaging.Open(filepath.Join(sum.TargetDir, "a.png"))
	require.NoError(t, err)
	img := imaging.Clone(out)

	// 400x300 host, 5% area, 5% margin, bottom-right -> 110x55 at (270, 225)
	require.Equal(t, red, img.NRGBAAt(270+55, 225+27))
	require.Equal(t, red, img.NRGBAAt(270, 225))
	require.Equal(t, blue, img.NRGBAAt(269, 224))
	require.Equal(t, blue, img.NRGBAAt(399, 299))
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestRun_ExtendedFormats(t *testing.T) {
	f := newFixture(t)

	var icoBuf bytes.Buffer
	require.NoError(t, ico.Encode(&icoBuf, imaging.New(64, 64, blue)))
	require.NoError(t, os.WriteFile(filepath.Join(f.src, "icon.ico"), icoBuf.Bytes(), 0o644))

	var webpBuf bytes.Buffer
	require.NoError(t, nativewebp.Encode(&webpBuf, imaging.New(80, 60, blue), nil))
	require.NoError(t, os.WriteFile(filepath.Join(f.src, "a.webp"), webpBuf.Bytes(), 0o644))

	t.Run("base list skips ico", func(t *testing.T) {
		sum, err := New().Run(context.Background(), f.job(), nil)
		require.NoError(t, err)
		require.Equal(t, []string{"a.png", "a.webp", "b.jpg", "c.gif"}, sources(sum.Succeeded))
		require.Empty(t, sum.Failed)
	})

	t.Run("extended list decodes ico", func(t *testing.T) {
		job := f.job()
		job.Extended = true

		sum, err := New().Run(context.Background(), job, nil)
		require.NoError(t, err)
		require.Empty(t, sum.Failed)
		require.Equal(t, []string{"a.png", "a.webp", "b.jpg", "c.gif", "icon.ico"}, sources(sum.Succeeded))

		_, format, err := image.DecodeConfig(bytes.NewReader(mustRead(t, filepath.Join(sum.TargetDir, "a.webp"))))
		require.NoError(t, err)
		require.Equal(t, "webp", format)

		for name, size := range map[string][2]int{"icon.ico": {64, 64}, "a.webp": {80, 60}} {
			data, err := os.ReadFile(filepath.Join(sum.TargetDir, name))
			require.NoError(t, err, name)

			img, _, err := image.Decode(bytes.NewReader(data))
			require.NoError(t, err, name)
			require.Equal(t, size[0], img.Bounds().Dx(), name)
			require.Equal(t, size[1], img.Bounds().Dy(), name)
		}
	})
}

func TestPickReference(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0.ico"), []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.png"), []byte("garbage"), 0o644))
	saveImage(t, filepath.Join(dir, "2.jpg"), 30, 20, blue)

	ref, err := PickReference(dir, true)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "2.jpg"), ref.Path)
	require.Equal(t, model.Size{W: 30, H: 20}, ref.Size())

	require.NoError(t, os.Remove(filepath.Join(dir, "2.jpg")))
	_, err = PickReference(dir, false)
	require.ErrorIs(t, err, model.ErrEmptySource)

	_, err = PickReference(filepath.Join(dir, "missing"), false)
	require.ErrorIs(t, err, model.ErrSourceDir)
}

func TestRun_OrientationApplied(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(40, 20, blue), imaging.JPEG))
	require.NoError(t, os.WriteFile(filepath.Join(f.src, "rotated.jpg"), withOrientation(buf.Bytes(), 6), 0o644))

	sum, err := New().Run(context.Background(), f.job(), nil)
	require.NoError(t, err)

	out, err := imaging.Open(filepath.Join(sum.TargetDir, "rotated.jpg"))
	require.NoError(t, err)
	require.Equal(t, 20, out.Bounds().Dx())
	require.Equal(t, 40, out.Bounds().Dy())
}

func TestRun_BrokenFileIsolated(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.src, "broken.jpg"), []byte("garbage"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(64, 64, blue), imaging.PNG))
	require.NoError(t, os.WriteFile(filepath.Join(f.src, "cut.png"), buf.Bytes()[:buf.Len()/2], 0o644))

	em, wait := track()
	sum, err := New(WithWorkers(3)).Run(context.Background(), f.job(), em)
	require.NoError(t, err)

	tr := wait()
	require.Equal(t, 5, tr.total)
	require.Equal(t, 5, tr.done)

	require.Equal(t, []string{"a.png", "b.jpg", "c.gif"}, sources(sum.Succeeded))
	require.Equal(t, []string{"broken.jpg", "cut.png"}, sources(sum.Failed))
	require.ErrorIs(t, sum.Failed[0].Err, model.ErrUnsupportedFormat)
	require.ErrorIs(t, sum.Failed[1].Err, model.ErrDecode)
	require.Len(t, sum.FailedFiles(), 2)
}

func TestRun_SecondRunGetsFreshFolder(t *testing.T) {
	f := newFixture(t)
	c := New()

	first, err := c.Run(context.Background(), f.job(), nil)
	require.NoError(t, err)
	second, err := c.Run(context.Background(), f.job(), nil)
	require.NoError(t, err)

	require.Equal(t, filepath.Join(f.src, "watermarked"), first.TargetDir)
	require.Equal(t, filepath.Join(f.src, "watermarked1"), second.TargetDir)
	// the first output folder is a directory and is not picked up as input
	require.Equal(t, 3, second.Total)
}

func TestRun_OutputOverrides(t *testing.T) {
	f := newFixture(t)
	parent := t.TempDir()

	job := f.job()
	job.OutputParent = parent
	job.OutputBase = "stamped"

	sum, err := New().Run(context.Background(), job, nil)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(parent, "stamped"), sum.TargetDir)
	require.Len(t, sum.Succeeded, 3)
}

func TestRun_Fatal(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(t *testing.T, j *model.BatchJob)
		wantErr error
	}{
		{
			name:    "invalid config",
			mutate:  func(_ *testing.T, j *model.BatchJob) { j.Config.RelativeSurfaceArea = 0 },
			wantErr: model.ErrInvalidConfig,
		},
		{
			name:    "missing source",
			mutate:  func(_ *testing.T, j *model.BatchJob) { j.SourceDir = filepath.Join(j.SourceDir, "missing") },
			wantErr: model.ErrSourceDir,
		},
		{
			name:    "missing watermark",
			mutate:  func(_ *testing.T, j *model.BatchJob) { j.WatermarkPath += ".gone" },
			wantErr: model.ErrWatermark,
		},
		{
			name: "undecodable watermark",
			mutate: func(t *testing.T, j *model.BatchJob) {
				p := filepath.Join(t.TempDir(), "mark.png")
				require.NoError(t, os.WriteFile(p, []byte("nope"), 0o644))
				j.WatermarkPath = p
			},
			wantErr: model.ErrWatermark,
		},
		{
			name:    "output parent missing",
			mutate:  func(_ *testing.T, j *model.BatchJob) { j.OutputParent = filepath.Join(j.SourceDir, "a", "b") },
			wantErr: model.ErrTargetDir,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			job := f.job()
			tt.mutate(t, &job)

			em, wait := track()
			sum, err := New().Run(context.Background(), job, em)

			require.ErrorIs(t, err, tt.wantErr)
			require.Nil(t, sum)

			tr := wait()
			require.Equal(t, []bool{false, true}, tr.states)
			require.Zero(t, tr.total)

			_, statErr := os.Stat(filepath.Join(f.src, "watermarked"))
			require.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestRun_Canceled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	em, wait := track()
	sum, err := New().Run(ctx, f.job(), em)
	require.NoError(t, err)

	tr := wait()
	require.Equal(t, []bool{false, true}, tr.states)

	require.True(t, sum.Canceled)
	require.Empty(t, sum.Succeeded)
	require.Len(t, sum.Failed, 3)
	for _, r := range sum.Failed {
		require.ErrorIs(t, r.Err, model.ErrCanceled)
	}

	entries, err := os.ReadDir(sum.TargetDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRun_WorkerCountDoesNotChangeOutput(t *testing.T) {
	f := newFixture(t)

	one, err := New(WithWorkers(1)).Run(context.Background(), f.job(), nil)
	require.NoError(t, err)
	many, err := New(WithWorkers(8)).Run(context.Background(), f.job(), nil)
	require.NoError(t, err)

	for _, name := range []string{"a.png", "b.jpg", "c.gif"} {
		a, err := os.ReadFile(filepath.Join(one.TargetDir, name))
		require.NoError(t, err)
		b, err := os.ReadFile(filepath.Join(many.TargetDir, name))
		require.NoError(t, err)
		require.True(t, bytes.Equal(a, b), name)
	}
}

type memStorage struct {
	mu   sync.Mutex
	keys map[string]int
}

func (m *memStorage) Put(_ context.Context, key string, _ int64, _ string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = len(data)
	return nil
}

func TestRun_Mirror(t *testing.T) {
	f := newFixture(t)
	mirror := &memStorage{keys: map[string]int{}}
	job := f.job()

	sum, err := New(WithMirror(mirror)).Run(context.Background(), job, nil)
	require.NoError(t, err)
	require.Len(t, sum.Succeeded, 3)

	prefix := job.ID.String() + "/"
	require.Len(t, mirror.keys, 3)
	for _, name := range []string{"a.png", "b.jpg", "c.gif"} {
		require.Positive(t, mirror.keys[prefix+name], name)
	}
}

type panickingStorage struct{}

func (panickingStorage) Put(context.Context, string, int64, string, io.Reader) error {
	panic("mirror exploded")
}

func TestRun_PanicIsolated(t *testing.T) {
	f := newFixture(t)
	em, wait := track()

	sum, err := New(WithMirror(panickingStorage{})).Run(context.Background(), f.job(), em)
	require.NoError(t, err)

	tr := wait()
	require.Equal(t, []bool{false, true}, tr.states)
	require.Equal(t, 3, tr.done)

	require.Len(t, sum.Failed, 3)
	for _, r := range sum.Failed {
		require.True(t, errors.Is(r.Err, model.ErrPanic), r.Err)
	}
}

func TestRun_EmptyFolder(t *testing.T) {
	src := t.TempDir()
	mark := filepath.Join(t.TempDir(), "m.png")
	saveImage(t, mark, 10, 10, red)

	em, wait := track()
	sum, err := New().Run(context.Background(), model.BatchJob{
		ID:            uuid.New(),
		SourceDir:     src,
		WatermarkPath: mark,
		Config:        model.PlacementConfig{Alignment: model.TopLeft, RelativeSurfaceArea: 0.1, Opacity: 1},
	}, em)
	require.NoError(t, err)
	require.Zero(t, sum.Total)

	tr := wait()
	require.Equal(t, []bool{false, true}, tr.states)
	require.Zero(t, tr.done)
}
