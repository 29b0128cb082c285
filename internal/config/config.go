// Package config maps environment/.env settings onto the typed app configuration
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/UnendingLoop/watermarker/internal/model"
	wbfconfig "github.com/wb-go/wbf/config"
)

type AppConfig struct {
	LogLevel        string
	Workers         int
	JPEGQuality     int
	OutputDirName   string
	ExtendedFormats bool

	AppPort        string
	GinMode        string
	PostgresDSN    string
	MigrationsPath string

	KafkaBroker  string
	KafkaTopic   string
	KafkaGroupID string

	Minio MinioConfig
}

type MinioConfig struct {
	Enabled bool
	Addr    string
	User    string
	Pass    string
	Bucket  string
}

// Source is the part of wbf config used here; lets tests feed plain maps.
type Source interface {
	GetString(key string) string
}

// Load reads env variables, plus the given .env files when they exist.
func Load(envFiles ...string) (*AppConfig, error) {
	c := wbfconfig.New()
	c.EnableEnv("")

	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat env file %q: %w", f, err)
		}
		if err := c.LoadEnvFiles(f); err != nil {
			return nil, fmt.Errorf("load env file %q: %w", f, err)
		}
	}

	return FromSource(c)
}

func FromSource(src Source) (*AppConfig, error) {
	cfg := &AppConfig{
		LogLevel:       withDefault(src.GetString("LOG_LEVEL"), "info"),
		OutputDirName:  withDefault(src.GetString("OUTPUT_DIR_NAME"), model.DefaultOutputBase),
		AppPort:        withDefault(src.GetString("APP_PORT"), "8080"),
		GinMode:        withDefault(src.GetString("GIN_MODE"), "release"),
		PostgresDSN:    src.GetString("POSTGRES_DSN"),
		MigrationsPath: withDefault(src.GetString("MIGRATIONS_PATH"), "./migrations"),
		KafkaBroker:    src.GetString("KAFKA_BROKER"),
		KafkaTopic:     withDefault(src.GetString("KAFKA_TOPIC"), "watermark-runs"),
		KafkaGroupID:   withDefault(src.GetString("KAFKA_GROUPID"), "watermark-workers"),
		Minio: MinioConfig{
			Addr:   src.GetString("MINIO_CONTAINER_NAME"),
			User:   src.GetString("MINIO_USER"),
			Pass:   src.GetString("MINIO_PASS"),
			Bucket: withDefault(src.GetString("BUCKET_NAME"), "watermarked"),
		},
	}

	var err error
	if cfg.Workers, err = intOr(src, "WORKERS", runtime.NumCPU()); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}

	if cfg.JPEGQuality, err = intOr(src, "JPEG_QUALITY", 95); err != nil {
		return nil, err
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		return nil, fmt.Errorf("JPEG_QUALITY must be within 1..100, got %d", cfg.JPEGQuality)
	}

	if cfg.ExtendedFormats, err = boolOr(src, "EXTENDED_FORMATS", false); err != nil {
		return nil, err
	}
	if cfg.Minio.Enabled, err = boolOr(src, "MINIO_ENABLED", false); err != nil {
		return nil, err
	}

	if strings.ContainsAny(cfg.OutputDirName, `/\`) {
		return nil, fmt.Errorf("OUTPUT_DIR_NAME must be a plain folder name, got %q", cfg.OutputDirName)
	}

	return cfg, nil
}

func withDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func intOr(src Source, key string, def int) (int, error) {
	raw := strings.TrimSpace(src.GetString(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func boolOr(src Source, key string, def bool) (bool, error) {
	raw := strings.TrimSpace(src.GetString(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
