// Package transport provides methods for processing requests from endpoints
package transport

import (
	"context"

	"github.com/UnendingLoop/watermarker/internal/model"
	"github.com/wb-go/wbf/ginext"
)

type RunHandler struct {
	service RunService
}

type RunService interface {
	Create(ctx context.Context, data *model.RunCreateData) (*model.Run, error)
	Get(ctx context.Context, id string) (*model.Run, error)                   // статус и итоги запуска
	Delete(ctx context.Context, id string) error                              // удалить запись и зеркало в minio
	GetList(ctx context.Context, req *model.ListRequest) ([]model.Run, error) // получить список
}

func NewRunHandler(svc RunService) *RunHandler {
	return &RunHandler{
		service: svc,
	}
}

func (h RunHandler) SimplePinger(ctx *ginext.Context) {
	ctx.JSON(200, map[string]string{"message": "pong"})
}

func (h RunHandler) Create(ctx *ginext.Context) {
	var raw model.RunCreateData
	if err := ctx.ShouldBindJSON(&raw); err != nil {
		ctx.JSON(400, map[string]string{"error": "failed to parse request body"})
		return
	}

	res, err := h.service.Create(ctx.Request.Context(), &raw)
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	ctx.JSON(202, res)
}

func (h RunHandler) GetAllRuns(ctx *ginext.Context) {
	var req model.ListRequest

	if err := ctx.ShouldBindQuery(&req); err != nil {
		ctx.JSON(400, map[string]string{"error": "failed to parse query-params"})
		return
	}

	res, err := h.service.GetList(ctx.Request.Context(), &req)
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	ctx.JSON(200, res)
}

func (h RunHandler) GetRun(ctx *ginext.Context) {
	id := ctx.Param("id")

	res, err := h.service.Get(ctx.Request.Context(), id)
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	ctx.JSON(200, res)
}

func (h RunHandler) Delete(ctx *ginext.Context) {
	id := ctx.Param("id")
	if err := h.service.Delete(ctx.Request.Context(), id); err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	ctx.Status(204)
}
