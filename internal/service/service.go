// Package service provides business-logic for the app
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/UnendingLoop/watermarker/internal/model"
	"github.com/UnendingLoop/watermarker/internal/mwlogger"
	"github.com/UnendingLoop/watermarker/internal/repository"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
)

type RunService struct {
	repo      repository.RunRepo
	publisher TaskPublisher
	mirror    MirrorStorage
	extended  bool // тот же EXTENDED_FORMATS, что и у воркера
}

// NewRunService - mirror может быть nil, если зеркалирование в minio выключено
func NewRunService(runRep repository.RunRepo, pub TaskPublisher, mirror MirrorStorage, extended bool) *RunService {
	return &RunService{
		repo:      runRep,
		publisher: pub,
		mirror:    mirror,
		extended:  extended,
	}
}

// TaskPublisher - контракт для работы с очередью
type TaskPublisher interface {
	SendWithRetry(ctx context.Context, strategy retry.Strategy, key []byte, v []byte) error
}

// MirrorStorage - контракт для чистки зеркала результатов
type MirrorStorage interface {
	Delete(ctx context.Context, prefix string) error
}

// Стратегия ретрая отправки в очередь - можно потом вынести значения в конфиг/env
var retryStrategy = retry.Strategy{
	Attempts: 5,
	Delay:    3 * time.Second,
	Backoff:  1.5,
}

func (c RunService) Create(ctx context.Context, runData *model.RunCreateData) (*model.Run, error) {
	logger := mwlogger.LoggerFromContext(ctx)
	newRun := &model.Run{}

	// Валидируем запрос и фиксируем относительные параметры
	if err := validateNormalizeRunInfo(runData, newRun, c.extended); err != nil {
		return nil, err
	}

	newRun.UID = uuid.New()
	newRun.Status = model.StatusQueued
	now := time.Now().UTC()
	newRun.CreatedAt = &now
	newRun.UpdatedAt = &now

	// шлем в базу
	if err := c.repo.Create(ctx, newRun); err != nil {
		logger.Error().Err(err).Msg("Failed to create run in DB")
		return nil, model.ErrCommon500
	}

	// кладем в очередь задач(в кафку)
	if err := c.publisher.SendWithRetry(ctx, retryStrategy, []byte(newRun.UID.String()), nil); err != nil {
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to publish run %q to task-queue", newRun.UID))
		return nil, model.ErrCommon500
	}

	logger.Info().Str("run_id", newRun.UID.String()).Str("source", newRun.SourceDir).Msg("Run queued")
	return newRun, nil
}

func (c RunService) GetList(ctx context.Context, req *model.ListRequest) ([]model.Run, error) {
	logger := mwlogger.LoggerFromContext(ctx)
	validateQueryParams(req)

	res, err := c.repo.GetList(ctx, req)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to fetch runs list from DB")
		return nil, model.ErrCommon500
	}

	return res, nil
}

func (c RunService) Get(ctx context.Context, id string) (*model.Run, error) {
	logger := mwlogger.LoggerFromContext(ctx)
	if err := uuid.Validate(id); err != nil {
		return nil, model.ErrIncorrectID
	}

	res, err := c.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrRunNotFound) {
			return nil, model.ErrRunNotFound // 404
		}
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to fetch run %q from DB", id))
		return nil, model.ErrCommon500
	}

	return res, nil
}

// Delete removes the run record and its mirrored results. Files written on disk stay.
func (c RunService) Delete(ctx context.Context, id string) error {
	logger := mwlogger.LoggerFromContext(ctx)
	if err := uuid.Validate(id); err != nil {
		return model.ErrIncorrectID
	}

	if err := c.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, model.ErrRunNotFound) {
			return model.ErrRunNotFound // 404
		}
		logger.Error().Err(err).Msg("Failed to delete run from DB")
		return model.ErrCommon500
	}

	if c.mirror != nil {
		if err := c.mirror.Delete(ctx, id+"/"); err != nil {
			logger.Error().Err(err).Msg("Failed to delete mirrored results from Storage")
			return model.ErrCommon500
		}
	}

	return nil
}

func (c RunService) UpdateStatus(ctx context.Context, id string, newStat model.Status) error {
	if err := uuid.Validate(id); err != nil {
		return model.ErrIncorrectID
	}
	if !model.StatusMap[newStat] {
		return fmt.Errorf("%w: unknown status %q", model.ErrIncorrectQuery, newStat)
	}

	logger := mwlogger.LoggerFromContext(ctx)

	if err := c.repo.UpdateStatus(ctx, id, newStat); err != nil {
		switch {
		case errors.Is(err, model.ErrRunNotFound):
			return model.ErrRunNotFound // 404
		default:
			logger.Error().Err(err).Msg("Failed to update run status in DB")
			return model.ErrCommon500 // 500
		}
	}

	return nil
}

func (c RunService) SaveResult(ctx context.Context, input *model.Run) error {
	logger := mwlogger.LoggerFromContext(ctx)
	t := time.Now().UTC()
	input.UpdatedAt = &t
	if err := c.repo.SaveResult(ctx, input); err != nil {
		switch {
		case errors.Is(err, model.ErrRunNotFound):
			return model.ErrRunNotFound // 404
		default:
			logger.Error().Err(err).Msg("Failed to save run result in DB")
			return model.ErrCommon500 // 500
		}
	}

	return nil
}

// ReviveOrphans resets stale queued/in_progress runs to queued and re-publishes them.
func (c RunService) ReviveOrphans(ctx context.Context, limit int) {
	logger := mwlogger.LoggerFromContext(ctx)

	orphans, err := c.repo.FetchOrphans(ctx, limit)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load orphans from DB")
		return
	}

	for _, v := range orphans {
		// зависшая in_progress задача иначе будет отвергнута воркером
		if err := c.repo.UpdateStatus(ctx, v, model.StatusQueued); err != nil {
			logger.Error().Err(err).Str("run_id", v).Msg("Failed to requeue orphan in DB")
			continue
		}
		if err := c.publisher.SendWithRetry(ctx, retryStrategy, []byte(v), nil); err != nil {
			logger.Error().Err(err).Msg("Failed to publish orphan to queue")
		}
	}
}
