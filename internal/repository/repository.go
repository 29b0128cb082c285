// Package repository provides methods to work with DB
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/UnendingLoop/watermarker/internal/model"
	"github.com/UnendingLoop/watermarker/internal/repository/runpostgres"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/wb-go/wbf/dbpg"
)

// RunRepo - контракт хранилища записей о запусках
type RunRepo interface {
	Create(ctx context.Context, r *model.Run) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*model.Run, error)
	GetList(ctx context.Context, req *model.ListRequest) ([]model.Run, error)
	SaveResult(ctx context.Context, r *model.Run) error
	UpdateStatus(ctx context.Context, id string, newStat model.Status) error
	FetchOrphans(ctx context.Context, limit int) ([]string, error)
}

func NewPostgresRunRepo(dbconn *dbpg.DB) RunRepo {
	return runpostgres.PostgresRepo{DB: dbconn}
}

// ConnectWithRetries opens the pool and pings it; every failed attempt waits idleTime.
func ConnectWithRetries(ctx context.Context, dsnLink string, retryCount int, idleTime time.Duration) (*dbpg.DB, error) {
	dbOptions := dbpg.Options{
		MaxOpenConns:    5,
		MaxIdleConns:    5,
		ConnMaxLifetime: 10 * time.Minute,
	}
	var err error

	for i := range retryCount {
		var dbConn *dbpg.DB
		dbConn, err = dbpg.New(dsnLink, nil, &dbOptions)
		if err == nil {
			if err = dbConn.Master.PingContext(ctx); err == nil {
				return dbConn, nil
			}
			if errClose := dbConn.Master.Close(); errClose != nil {
				log.Println("Failed to close unhealthy DB-conn:", errClose)
			}
		}
		log.Printf("Failed to connect to PGDB (try #%d): %s\nWaiting %v before next retry...", i+1, err, idleTime)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to DB: %w", ctx.Err())
		case <-time.After(idleTime):
		}
	}

	return nil, fmt.Errorf("connect to DB after %d tries: %w", retryCount, err)
}

// MigrateWithRetries applies migrations from migrationsPath, retrying while the DB is warming up.
func MigrateWithRetries(ctx context.Context, db *sql.DB, migrationsPath string, retries int, idle time.Duration) error {
	var err error
	for i := range retries {
		log.Printf("Migration try #%d...", i+1)
		if err = runMigrate(db, migrationsPath); err == nil {
			return nil
		}
		log.Printf("Migration try #%d was unsuccessful: %v", i+1, err)
		if i == retries-1 {
			break
		}

		log.Printf("Waiting %v before next try...", idle)
		select {
		case <-ctx.Done():
			return fmt.Errorf("migrate: %w", ctx.Err())
		case <-time.After(idle):
		}
	}
	return fmt.Errorf("out of migration retries: %w", err)
}

func runMigrate(db *sql.DB, migrationsPath string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}

	absPath, err := filepath.Abs(migrationsPath)
	if err != nil {
		return err
	}

	sourceURL := "file://" + absPath
	log.Println("Running migrations from:", sourceURL)

	m, err := migrate.NewWithDatabaseInstance(
		sourceURL,
		"postgres",
		driver,
	)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	log.Println("Database migrations applied successfully")
	return nil
}
