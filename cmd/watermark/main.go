// Package main (in watermark-subfolder) is the local CLI stamping a watermark onto every image of a folder
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UnendingLoop/watermarker/internal/compositor"
	"github.com/UnendingLoop/watermarker/internal/config"
	"github.com/UnendingLoop/watermarker/internal/imageproc"
	"github.com/UnendingLoop/watermarker/internal/model"
	"github.com/UnendingLoop/watermarker/internal/progress"
	"github.com/UnendingLoop/watermarker/internal/storage"
	"github.com/google/uuid"
	flag "github.com/spf13/pflag"
	"github.com/wb-go/wbf/zlog"
)

const (
	exitOK      = 0
	exitFatal   = 1
	exitUsage   = 2
	exitPartial = 3
)

func main() {
	// SIGINT останавливает запуск на границе следующего файла
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	dir         string
	mark        string
	align       string
	scale       float64
	margin      int
	area        float64
	marginRatio float64
	reference   string
	opacity     float64
	workers     int
	extended    bool
	outParent   string
	outName     string
	mirror      bool

	explicit bool // --area given, preview derivation skipped
}

func parseFlags(args []string, cfg *config.AppConfig, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("watermark", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVarP(&o.dir, "dir", "d", "", "folder with images to watermark (required)")
	fs.StringVarP(&o.mark, "mark", "w", "", "watermark image (required)")
	fs.StringVarP(&o.align, "align", "a", model.BottomRight.String(), "corner: top-left, top-right, bottom-left, bottom-right")
	fs.Float64VarP(&o.scale, "scale", "s", 1, "watermark scale on the reference preview")
	fs.IntVarP(&o.margin, "margin", "m", 0, "margin on the reference preview, in reference pixels")
	fs.Float64Var(&o.area, "area", 0, "watermark area relative to each image; skips preview derivation")
	fs.Float64Var(&o.marginRatio, "margin-ratio", 0, "margin relative to image width, used with --area")
	fs.StringVar(&o.reference, "reference", "", "reference image for preview derivation (default: first decodable image of --dir)")
	fs.Float64Var(&o.opacity, "opacity", 1, "watermark opacity (0, 1]")
	fs.IntVarP(&o.workers, "workers", "j", cfg.Workers, "parallel workers")
	fs.BoolVar(&o.extended, "extended", cfg.ExtendedFormats, "accept avif/ico sources too")
	fs.StringVar(&o.outParent, "out-parent", "", "where the output folder is created (default: --dir)")
	fs.StringVarP(&o.outName, "out-name", "o", cfg.OutputDirName, "output folder name; a numeric suffix is added when taken")
	fs.BoolVar(&o.mirror, "mirror", cfg.Minio.Enabled, "mirror results to MinIO (MINIO_* env)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.dir == "" || o.mark == "" {
		return nil, errors.New("--dir and --mark are required")
	}
	o.explicit = fs.Changed("area")
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load("./.env")
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return exitFatal
	}

	zlog.InitConsole()
	if err := zlog.SetLevel(cfg.LogLevel); err != nil {
		fmt.Fprintln(stderr, "logger:", err)
		return exitFatal
	}

	o, err := parseFlags(args, cfg, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, err)
		}
		return exitUsage
	}

	align, err := model.ParseAlignment(o.align)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	placement, err := placementFromOptions(o, align)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFatal
	}

	opts := []compositor.Option{
		compositor.WithWorkers(o.workers),
		compositor.WithJPEGQuality(cfg.JPEGQuality),
		compositor.WithExtendedFormats(o.extended),
	}
	if o.mirror {
		strg, err := storage.NewImgStorage(ctx, cfg.Minio, 2*time.Second, 3)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitFatal
		}
		opts = append(opts, compositor.WithMirror(strg))
	}

	job := model.BatchJob{
		ID:            uuid.New(),
		SourceDir:     o.dir,
		WatermarkPath: o.mark,
		OutputParent:  o.outParent,
		OutputBase:    o.outName,
		Config:        placement,
		Extended:      o.extended,
	}

	em, rep := progress.New()
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		progress.Track(rep, progress.Handler{
			OnProgress: func(done, total int) {
				fmt.Fprintf(stdout, "\r%d/%d", done, total)
			},
		})
	}()

	sum, err := compositor.New(opts...).Run(ctx, job, em)
	<-drained
	if err != nil {
		fmt.Fprintln(stderr, "\nwatermark:", err)
		return exitFatal
	}

	return report(sum, stdout, stderr)
}

// placementFromOptions takes --area/--margin-ratio as is, or freezes them from a
// preview of the reference image at --scale and --margin.
func placementFromOptions(o *options, align model.Alignment) (model.PlacementConfig, error) {
	if o.explicit {
		cfg := model.PlacementConfig{
			Alignment:           align,
			RelativeSurfaceArea: o.area,
			RelativeMargin:      o.marginRatio,
			Opacity:             o.opacity,
		}
		return cfg, cfg.Validate()
	}

	var ref *model.Asset
	var err error
	if o.reference != "" {
		if ref, err = imageproc.LoadAsset(o.reference); err != nil {
			return model.PlacementConfig{}, fmt.Errorf("reference %q: %w", o.reference, err)
		}
	} else if ref, err = compositor.PickReference(o.dir, o.extended); err != nil {
		return model.PlacementConfig{}, err
	}

	mark, err := imageproc.LoadAsset(o.mark)
	if err != nil {
		return model.PlacementConfig{}, fmt.Errorf("%w: %w", model.ErrWatermark, err)
	}

	params := model.PreviewParams{Scale: o.scale, Margin: o.margin}
	return imageproc.DeriveConfig(ref.Size(), mark.Size(), model.Size{}, params, align, o.opacity)
}

func report(sum *model.Summary, stdout, stderr io.Writer) int {
	fmt.Fprintf(stdout, "\nwatermarked %d of %d files into %s\n", len(sum.Succeeded), sum.Total, sum.TargetDir)
	if sum.Canceled {
		fmt.Fprintln(stderr, "run canceled")
	}
	for _, line := range sum.FailedFiles() {
		fmt.Fprintln(stderr, "failed:", line)
	}

	if len(sum.Failed) > 0 {
		return exitPartial
	}
	return exitOK
}
