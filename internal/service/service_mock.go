package service

import (
	"context"

	"github.com/UnendingLoop/watermarker/internal/model"
	"github.com/wb-go/wbf/retry"
)

// MOCK RESPOSITORY

type mockRepo struct {
	createFn       func(ctx context.Context, r *model.Run) error
	getFn          func(ctx context.Context, id string) (*model.Run, error)
	getListFn      func(ctx context.Context, req *model.ListRequest) ([]model.Run, error)
	deleteFn       func(ctx context.Context, id string) error
	updateStatusFn func(ctx context.Context, id string, st model.Status) error
	saveResultFn   func(ctx context.Context, r *model.Run) error
	fetchOrphansFn func(ctx context.Context, limit int) ([]string, error)
}

func (m *mockRepo) Create(ctx context.Context, r *model.Run) error {
	return m.createFn(ctx, r)
}

func (m *mockRepo) Get(ctx context.Context, id string) (*model.Run, error) {
	return m.getFn(ctx, id)
}

func (m *mockRepo) GetList(ctx context.Context, req *model.ListRequest) ([]model.Run, error) {
	return m.getListFn(ctx, req)
}

func (m *mockRepo) Delete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

func (m *mockRepo) UpdateStatus(ctx context.Context, id string, st model.Status) error {
	return m.updateStatusFn(ctx, id, st)
}

func (m *mockRepo) SaveResult(ctx context.Context, r *model.Run) error {
	return m.saveResultFn(ctx, r)
}

func (m *mockRepo) FetchOrphans(ctx context.Context, limit int) ([]string, error) {
	return m.fetchOrphansFn(ctx, limit)
}

// MOCK MIRROR

type mockMirror struct {
	deleteFn func(ctx context.Context, prefix string) error
}

func (m *mockMirror) Delete(ctx context.Context, prefix string) error {
	return m.deleteFn(ctx, prefix)
}

// MOCK PUBLISHER

type mockPublisher struct {
	sendFn func(ctx context.Context, s retry.Strategy, key []byte, v []byte) error
}

func (m *mockPublisher) SendWithRetry(ctx context.Context, s retry.Strategy, key []byte, v []byte) error {
	return m.sendFn(ctx, s, key, v)
}
