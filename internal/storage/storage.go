// Package storage holds the result-sink contract and the adapters composing sinks
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/UnendingLoop/watermarker/internal/config"
	"github.com/UnendingLoop/watermarker/internal/mwlogger"
	"github.com/UnendingLoop/watermarker/internal/storage/miniostorage"
)

// ImageStorage - контракт для записи результатов (локальная папка, minio, ...)
type ImageStorage interface {
	Put(ctx context.Context, key string, size int64, contentType string, r io.Reader) error
}

// NewImgStorage connects to MinIO, retrying every delay. attempts <= 0 retries until ctx is done.
func NewImgStorage(ctx context.Context, cfg config.MinioConfig, delay time.Duration, attempts int) (*miniostorage.MinioImageStorage, error) {
	var lastErr error

	for i := 0; attempts <= 0 || i < attempts; i++ {
		log.Println("Connecting to IMG-storage...")
		client, err := miniostorage.NewMinioClient(ctx, cfg)
		if err == nil {
			log.Println("Successfully connected IMG-storage!")
			return client, nil
		}
		lastErr = err
		log.Printf("Failed to init connection to IMG-storage: %v\nNext retry in %v...", err, delay)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to IMG-storage: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("connect to IMG-storage after %d attempts: %w", attempts, lastErr)
}

//---------------------

type teeStorage struct {
	primary ImageStorage
	mirrors []ImageStorage
}

// Tee writes every object to primary and then to each mirror. Only a primary
// failure is returned; mirror failures are logged.
func Tee(primary ImageStorage, mirrors ...ImageStorage) ImageStorage {
	if len(mirrors) == 0 {
		return primary
	}
	return &teeStorage{primary: primary, mirrors: mirrors}
}

func (t *teeStorage) Put(ctx context.Context, key string, size int64, contentType string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("buffer %q for mirroring: %w", key, err)
	}

	if err := t.primary.Put(ctx, key, int64(len(data)), contentType, bytes.NewReader(data)); err != nil {
		return err
	}

	logger := mwlogger.LoggerFromContext(ctx)
	for _, m := range t.mirrors {
		if err := m.Put(ctx, key, int64(len(data)), contentType, bytes.NewReader(data)); err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("Failed to mirror result")
		}
	}
	return nil
}

type prefixedStorage struct {
	next   ImageStorage
	prefix string
}

// Prefixed puts every key under prefix, e.g. "<run-id>/".
func Prefixed(st ImageStorage, prefix string) ImageStorage {
	return &prefixedStorage{next: st, prefix: prefix}
}

func (p *prefixedStorage) Put(ctx context.Context, key string, size int64, contentType string, r io.Reader) error {
	return p.next.Put(ctx, p.prefix+key, size, contentType, r)
}
