package main

import (
	"context"

	"github.com/UnendingLoop/watermarker/internal/model"
)

type RunAPIService interface {
	Create(ctx context.Context, runData *model.RunCreateData) (*model.Run, error)
	Get(ctx context.Context, id string) (*model.Run, error)
	GetList(ctx context.Context, req *model.ListRequest) ([]model.Run, error)
	Delete(ctx context.Context, id string) error
	ReviveOrphans(ctx context.Context, limit int)
}
