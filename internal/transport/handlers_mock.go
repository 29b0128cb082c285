package transport

import (
	"context"

	"github.com/UnendingLoop/watermarker/internal/model"
	"github.com/gin-gonic/gin"
)

type mockRunService struct {
	createFn  func(ctx context.Context, d *model.RunCreateData) (*model.Run, error)
	getFn     func(ctx context.Context, id string) (*model.Run, error)
	deleteFn  func(ctx context.Context, id string) error
	getListFn func(ctx context.Context, req *model.ListRequest) ([]model.Run, error)
}

func (m *mockRunService) Create(ctx context.Context, d *model.RunCreateData) (*model.Run, error) {
	return m.createFn(ctx, d)
}

func (m *mockRunService) Get(ctx context.Context, id string) (*model.Run, error) {
	return m.getFn(ctx, id)
}

func (m *mockRunService) Delete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

func (m *mockRunService) GetList(ctx context.Context, req *model.ListRequest) ([]model.Run, error) {
	return m.getListFn(ctx, req)
}

func init() {
	gin.SetMode(gin.TestMode)
}
