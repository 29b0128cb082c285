package worker

import (
	"context"

	"github.com/UnendingLoop/watermarker/internal/model"
	"github.com/UnendingLoop/watermarker/internal/progress"
	kafkago "github.com/segmentio/kafka-go"
)

type mockWorkerService struct {
	getFn        func(ctx context.Context, id string) (*model.Run, error)
	updateFn     func(ctx context.Context, id string, st model.Status) error
	saveResultFn func(ctx context.Context, r *model.Run) error
}

func (m *mockWorkerService) Get(ctx context.Context, id string) (*model.Run, error) {
	return m.getFn(ctx, id)
}

func (m *mockWorkerService) UpdateStatus(ctx context.Context, id string, st model.Status) error {
	return m.updateFn(ctx, id, st)
}

func (m *mockWorkerService) SaveResult(ctx context.Context, r *model.Run) error {
	return m.saveResultFn(ctx, r)
}

//----------------------------------

// mockEngine reports `files` steps and then returns sum/err, closing the emitter like the real engine.
type mockEngine struct {
	files int
	sum   *model.Summary
	err   error
	jobs  []model.BatchJob
}

func (m *mockEngine) Run(ctx context.Context, job model.BatchJob, em *progress.Emitter) (*model.Summary, error) {
	m.jobs = append(m.jobs, job)
	em.SetReady(false)
	em.Start(ctx, m.files)
	for range m.files {
		em.Step(ctx)
	}
	em.SetReady(true)
	em.Close()
	return m.sum, m.err
}

//----------------------------------

type mockCommitter struct {
	committed []string
	err       error
}

func (m *mockCommitter) Commit(ctx context.Context, msg kafkago.Message) error {
	m.committed = append(m.committed, string(msg.Key))
	return m.err
}
