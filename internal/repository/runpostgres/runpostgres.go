// Package runpostgres keeps the ledger of submitted watermark runs in Postgres
package runpostgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/UnendingLoop/watermarker/internal/model"
	"github.com/wb-go/wbf/dbpg"
)

type PostgresRepo struct {
	DB *dbpg.DB
}

func (p PostgresRepo) Create(ctx context.Context, r *model.Run) error {
	query := `INSERT INTO runs (run_uid, source_dir, watermark_path, alignment, rel_area, rel_margin, opacity, status, err_msg, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	return p.DB.QueryRowContext(ctx, query, r.UID, r.SourceDir, r.WatermarkPath, r.Alignment, r.RelArea, r.RelMargin, r.Opacity, r.Status, r.ErrMsg, r.CreatedAt, r.CreatedAt).Err()
}

func (p PostgresRepo) Get(ctx context.Context, id string) (*model.Run, error) {
	query := `SELECT run_uid, source_dir, watermark_path, alignment, rel_area, rel_margin, opacity, status, target_dir, total, succeeded, failed_files, err_msg, created_at, updated_at
	FROM runs
	WHERE run_uid = $1`
	var run model.Run

	err := p.DB.QueryRowContext(ctx, query, id).Scan(&run.UID,
		&run.SourceDir,
		&run.WatermarkPath,
		&run.Alignment,
		&run.RelArea,
		&run.RelMargin,
		&run.Opacity,
		&run.Status,
		&run.TargetDir,
		&run.Total,
		&run.Succeeded,
		&run.FailedFiles,
		&run.ErrMsg,
		&run.CreatedAt,
		&run.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, model.ErrRunNotFound
		default:
			return nil, err // 500
		}
	}
	return &run, nil
}

func (p PostgresRepo) GetList(ctx context.Context, req *model.ListRequest) ([]model.Run, error) {
	// Sort и Order уже провалидированы сервисом по белому списку
	query := fmt.Sprintf(`SELECT run_uid, source_dir, alignment, status, target_dir, total, succeeded, created_at, updated_at
	FROM runs
	ORDER BY %s %s
	LIMIT $1
	OFFSET $2`, req.Sort, req.Order)

	offset := (req.Page - 1) * req.Limit

	rows, err := p.DB.QueryContext(ctx, query, req.Limit, offset)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Error while closing *sql.Rows after scanning: %v", err)
		}
	}()

	runs := make([]model.Run, 0, req.Limit)
	for rows.Next() {
		var run model.Run
		if err := rows.Scan(&run.UID,
			&run.SourceDir,
			&run.Alignment,
			&run.Status,
			&run.TargetDir,
			&run.Total,
			&run.Succeeded,
			&run.CreatedAt,
			&run.UpdatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return runs, nil
}

func (p PostgresRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM runs
	WHERE run_uid = $1`

	return p.execOne(ctx, query, id)
}

func (p PostgresRepo) UpdateStatus(ctx context.Context, id string, newStat model.Status) error {
	query := `UPDATE runs SET status = $1, updated_at = now() WHERE run_uid = $2`

	return p.execOne(ctx, query, newStat, id)
}

func (p PostgresRepo) SaveResult(ctx context.Context, r *model.Run) error {
	query := `UPDATE runs
	SET status = $1, target_dir = $2, total = $3, succeeded = $4, failed_files = $5, err_msg = $6, updated_at = $7
	WHERE run_uid = $8`

	return p.execOne(ctx, query, r.Status, r.TargetDir, r.Total, r.Succeeded, r.FailedFiles, r.ErrMsg, r.UpdatedAt, r.UID)
}

// FetchOrphans returns runs stuck in queued/in_progress for longer than 10 minutes.
func (p PostgresRepo) FetchOrphans(ctx context.Context, limit int) ([]string, error) {
	query := `SELECT run_uid
	FROM runs
	WHERE status IN ($1, $2)
	AND updated_at < now() - interval '10 minutes'
	LIMIT $3`

	rows, err := p.DB.QueryContext(ctx, query, model.StatusQueued, model.StatusInProgress, limit)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Error while closing *sql.Rows after scanning: %v", err)
		}
	}()

	orphans := make([]string, 0, limit)
	for rows.Next() {
		uid := ""
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		orphans = append(orphans, uid)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return orphans, nil
}

// execOne runs a write that must touch exactly one row.
func (p PostgresRepo) execOne(ctx context.Context, query string, args ...any) error {
	res, err := p.DB.Master.ExecContext(ctx, query, args...)
	if err != nil {
		return err // 500
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrRunNotFound // 404
	}
	return nil
}
