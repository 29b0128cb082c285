// Package worker contains the queue consumer that executes submitted watermark runs
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/UnendingLoop/watermarker/internal/model"
	"github.com/UnendingLoop/watermarker/internal/mwlogger"
	"github.com/UnendingLoop/watermarker/internal/progress"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"
)

type RunWorkerService interface {
	UpdateStatus(ctx context.Context, id string, newStat model.Status) error
	SaveResult(ctx context.Context, res *model.Run) error
	Get(ctx context.Context, id string) (*model.Run, error)
}

// Engine - контракт движка пакетной обработки (compositor.Compositor)
type Engine interface {
	Run(ctx context.Context, job model.BatchJob, em *progress.Emitter) (*model.Summary, error)
}

// Committer - подтверждение обработанных сообщений (wbf kafka consumer)
type Committer interface {
	Commit(ctx context.Context, msg kafkago.Message) error
}

type Worker struct {
	engine     Engine
	service    RunWorkerService
	queue      <-chan kafkago.Message
	consumer   Committer
	outputBase string
}

func NewWorkerInstance(eng Engine, svc RunWorkerService, q <-chan kafkago.Message, cons Committer, outputBase string) *Worker {
	return &Worker{engine: eng, service: svc, queue: q, consumer: cons, outputBase: outputBase}
}

func (w *Worker) StartWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-w.queue:
			if !ok {
				log.Println("Queue channel closed, stopping worker...")
				return
			}
			id := string(msg.Key)
			// сообщения с несуществующим или битым id коммитим, чтобы не крутить их бесконечно
			err := w.initProcessor(ctx, id)
			if err != nil && !errors.Is(err, model.ErrRunNotFound) && !errors.Is(err, model.ErrIncorrectID) {
				log.Printf("Run %s failed: %v", id, err)
				continue
			}
			if err := w.consumer.Commit(ctx, msg); err != nil {
				log.Printf("Failed to commit queue-message: %v", err)
			}
		}
	}
}

func (w *Worker) initProcessor(ctx context.Context, id string) error {
	// считать из базы задачу
	run, err := w.service.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("worker failed to fetch run %q from DB: %w", id, err)
	}
	// проверить статус
	switch run.Status {
	case model.StatusDone, model.StatusFailed:
		return nil
	case model.StatusInProgress:
		return fmt.Errorf("run %q already in progress", id)
	}

	// обновить статус
	if err := w.service.UpdateStatus(ctx, id, model.StatusInProgress); err != nil {
		return fmt.Errorf("failed to update status of run %q to `in_progress` in DB: %w", id, err)
	}

	return w.processRun(ctx, run)
}

// processRun executes the batch and persists its outcome. A run whose files partly
// failed is still done; only a batch that could not start is failed.
func (w *Worker) processRun(ctx context.Context, run *model.Run) error {
	logger := zlog.Logger.With().Str("run_id", run.UID.String()).Logger()
	ctx = mwlogger.WithLogger(ctx, logger)

	job := run.Job()
	job.OutputBase = w.outputBase

	em, rep := progress.New()
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		progress.Track(rep, progress.Handler{
			OnProgress: func(done, total int) {
				logger.Debug().Int("done", done).Int("total", total).Msg("Run progress")
			},
		})
	}()

	sum, runErr := w.engine.Run(ctx, job, em)
	<-drained

	// результат сохраняем даже если контекст воркера уже отменен
	saveCtx := context.WithoutCancel(ctx)

	if runErr != nil {
		run.Status = model.StatusFailed
		run.ErrMsg = append(run.ErrMsg, runErr.Error())
		if err := w.service.SaveResult(saveCtx, run); err != nil {
			return fmt.Errorf("failed to save failed run %q: %w \nAFTER\n error while processing run: %w", run.UID, err, runErr)
		}
		return fmt.Errorf("failed to process run %q: %w", run.UID, runErr)
	}

	run.Status = model.StatusDone
	if sum.Canceled {
		run.Status = model.StatusFailed
		run.ErrMsg = append(run.ErrMsg, "run canceled before all files were processed")
	}
	run.TargetDir = sum.TargetDir
	run.Total = sum.Total
	run.Succeeded = len(sum.Succeeded)
	run.FailedFiles = sum.FailedFiles()

	if err := w.service.SaveResult(saveCtx, run); err != nil {
		return fmt.Errorf("worker failed to save result to DB: %w", err)
	}

	logger.Info().Str("status", string(run.Status)).Int("succeeded", run.Succeeded).Int("failed", len(run.FailedFiles)).Msg("Run saved")
	return nil
}
