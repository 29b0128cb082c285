package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/UnendingLoop/watermarker/internal/model"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func queuedRun() *model.Run {
	return &model.Run{
		UID:           uuid.New(),
		SourceDir:     "/photos",
		WatermarkPath: "/logo.png",
		Alignment:     model.BottomRight,
		RelArea:       0.05,
		RelMargin:     0.02,
		Opacity:       1,
		Status:        model.StatusQueued,
	}
}

func TestWorker_initProcessor(t *testing.T) {
	ctx := context.Background()
	id := uuid.New().String()

	tests := []struct {
		name      string
		run       *model.Run
		getErr    error
		updateErr error
		wantErr   bool
		wantRuns  int
	}{
		{
			name:    "already done",
			run:     &model.Run{Status: model.StatusDone},
			wantErr: false,
		},
		{
			name:    "already failed",
			run:     &model.Run{Status: model.StatusFailed},
			wantErr: false,
		},
		{
			name:    "in progress",
			run:     &model.Run{Status: model.StatusInProgress},
			wantErr: true,
		},
		{
			name:    "run not found",
			getErr:  model.ErrRunNotFound,
			wantErr: true,
		},
		{
			name:      "update status error",
			run:       queuedRun(),
			updateErr: errors.New("db down"),
			wantErr:   true,
		},
		{
			name:     "queued run is executed",
			run:      queuedRun(),
			wantErr:  false,
			wantRuns: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockWorkerService{
				getFn: func(ctx context.Context, _ string) (*model.Run, error) {
					return tt.run, tt.getErr
				},
				updateFn: func(ctx context.Context, _ string, st model.Status) error {
					require.Equal(t, model.StatusInProgress, st)
					return tt.updateErr
				},
				saveResultFn: func(ctx context.Context, _ *model.Run) error {
					return nil
				},
			}
			eng := &mockEngine{sum: &model.Summary{}}

			w := &Worker{service: svc, engine: eng}

			err := w.initProcessor(ctx, id)

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Len(t, eng.jobs, tt.wantRuns)
		})
	}
}

func TestWorker_processRun_OK(t *testing.T) {
	run := queuedRun()

	eng := &mockEngine{
		files: 3,
		sum: &model.Summary{
			RunID:     run.UID,
			TargetDir: "/photos/stamped",
			Total:     3,
			Succeeded: []model.FileResult{{Source: "a.jpg"}, {Source: "b.jpg"}},
			Failed:    []model.FileResult{{Source: "c.jpg", Err: model.ErrDecode}},
		},
	}

	var saved *model.Run
	svc := &mockWorkerService{
		saveResultFn: func(ctx context.Context, r *model.Run) error {
			saved = r
			return nil
		},
	}

	w := &Worker{engine: eng, service: svc, outputBase: "stamped"}
	require.NoError(t, w.processRun(context.Background(), run))

	require.Len(t, eng.jobs, 1)
	job := eng.jobs[0]
	require.Equal(t, run.UID, job.ID)
	require.Equal(t, "stamped", job.OutputBase)
	require.Equal(t, model.BottomRight, job.Config.Alignment)
	require.Equal(t, 0.05, job.Config.RelativeSurfaceArea)

	require.NotNil(t, saved)
	require.Equal(t, model.StatusDone, saved.Status)
	require.Equal(t, "/photos/stamped", saved.TargetDir)
	require.Equal(t, 3, saved.Total)
	require.Equal(t, 2, saved.Succeeded)
	require.Equal(t, model.StringSlice{"c.jpg: image decode failed"}, saved.FailedFiles)
}

func TestWorker_processRun_EngineError(t *testing.T) {
	run := queuedRun()
	eng := &mockEngine{err: model.ErrWatermark}

	var saved *model.Run
	svc := &mockWorkerService{
		saveResultFn: func(ctx context.Context, r *model.Run) error {
			saved = r
			return nil
		},
	}

	w := &Worker{engine: eng, service: svc}
	err := w.processRun(context.Background(), run)

	require.ErrorIs(t, err, model.ErrWatermark)
	require.Equal(t, model.StatusFailed, saved.Status)
	require.Len(t, saved.ErrMsg, 1)
}

func TestWorker_processRun_Canceled(t *testing.T) {
	run := queuedRun()
	eng := &mockEngine{sum: &model.Summary{Total: 2, Canceled: true}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := &mockWorkerService{
		saveResultFn: func(ctx context.Context, r *model.Run) error {
			require.NoError(t, ctx.Err())
			require.Equal(t, model.StatusFailed, r.Status)
			return nil
		},
	}

	w := &Worker{engine: eng, service: svc}
	require.NoError(t, w.processRun(ctx, run))
}

func TestWorker_StartWorker(t *testing.T) {
	done := queuedRun()
	done.Status = model.StatusDone
	busy := queuedRun()
	busy.Status = model.StatusInProgress

	runs := map[string]*model.Run{
		done.UID.String(): done,
		busy.UID.String(): busy,
	}
	svc := &mockWorkerService{
		getFn: func(ctx context.Context, id string) (*model.Run, error) {
			if r, ok := runs[id]; ok {
				return r, nil
			}
			if id == "garbage" {
				return nil, model.ErrIncorrectID
			}
			return nil, model.ErrRunNotFound
		},
	}

	q := make(chan kafkago.Message, 4)
	q <- kafkago.Message{Key: []byte(done.UID.String())}
	q <- kafkago.Message{Key: []byte(busy.UID.String())}
	q <- kafkago.Message{Key: []byte("ghost")}
	q <- kafkago.Message{Key: []byte("garbage")}
	close(q)

	cons := &mockCommitter{}
	w := NewWorkerInstance(&mockEngine{}, svc, q, cons, "")

	finished := make(chan struct{})
	go func() {
		w.StartWorker(context.Background())
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after queue was closed")
	}

	// the in-progress run is left uncommitted for redelivery
	require.Equal(t, []string{done.UID.String(), "ghost", "garbage"}, cons.committed)
}

func TestWorker_StartWorker_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorkerInstance(&mockEngine{}, &mockWorkerService{}, make(chan kafkago.Message), &mockCommitter{}, "")

	finished := make(chan struct{})
	go func() {
		w.StartWorker(ctx)
		close(finished)
	}()

	cancel()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}
