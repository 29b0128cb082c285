// Package main (in api-subfolder) provides the HTTP API for submitting and tracking watermark runs
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UnendingLoop/watermarker/internal/config"
	"github.com/UnendingLoop/watermarker/internal/kafka"
	"github.com/UnendingLoop/watermarker/internal/mwlogger"
	"github.com/UnendingLoop/watermarker/internal/repository"
	"github.com/UnendingLoop/watermarker/internal/service"
	"github.com/UnendingLoop/watermarker/internal/storage"
	"github.com/UnendingLoop/watermarker/internal/transport"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/ginext"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/zlog"
)

func main() {
	// инициализировать конфиг/ считать энвы
	appConfig, err := config.Load("./.env")
	if err != nil {
		log.Fatalf("Failed to load envs: %s\nExiting app...", err)
	}

	// стартуем логгер
	zlog.InitConsole()
	if err := zlog.SetLevel(appConfig.LogLevel); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	// готовим заранее слушатель прерываний - контекст для всего приложения
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// подключитсья к базе
	dbConn, err := repository.ConnectWithRetries(ctx, appConfig.PostgresDSN, 5, 10*time.Second)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v\nExiting app...", err)
	}
	// накатываем миграцию
	if err := repository.MigrateWithRetries(ctx, dbConn.Master, appConfig.MigrationsPath, 10, 15*time.Second); err != nil {
		log.Fatalf("Failed to migrate DB: %v\nExiting app...", err)
	}
	// создаем экземпляр репо
	repo := repository.NewPostgresRunRepo(dbConn)

	// зеркало результатов в minio нужно API только для чистки при удалении запуска
	var mirror service.MirrorStorage
	if appConfig.Minio.Enabled {
		strg, err := storage.NewImgStorage(ctx, appConfig.Minio, 10*time.Second, 0)
		if err != nil {
			log.Fatalf("Failed to connect IMG-storage: %v", err)
		}
		mirror = strg
	}

	// ждем пока кафка раздуплится
	if !kafka.WaitKafkaReady(ctx, appConfig.KafkaBroker, 5*time.Second) {
		shutdown(nil, dbConn)
		return
	}
	// подключиться к кафке как продюсер
	kafka.InitKafkaTopics(ctx, appConfig.KafkaBroker, 10*time.Second, appConfig.KafkaTopic)
	pub := wbfkafka.NewProducer([]string{appConfig.KafkaBroker}, appConfig.KafkaTopic)

	// создаем экземпляр сервиса
	var svc RunAPIService = service.NewRunService(repo, pub, mirror, appConfig.ExtendedFormats)
	// cоздаем экземпляр хендлера HTTP
	handlers := transport.NewRunHandler(svc)
	// сетапим сервер
	engine := ginext.New(appConfig.GinMode)

	engine.GET("/ping", handlers.SimplePinger)
	engine.POST("/runs", handlers.Create)       // создание запуска
	engine.GET("/runs/:id", handlers.GetRun)    // состояние и итог запуска
	engine.GET("/runs", handlers.GetAllRuns)    // список запусков с пагинацией и сортировкой
	engine.DELETE("/runs/:id", handlers.Delete) // удаление записи и зеркала

	srv := &http.Server{
		Addr:    ":" + appConfig.AppPort,
		Handler: mwlogger.NewMWLogger(engine),
	}

	// Server launch
	go func() {
		log.Printf("Server running on http://localhost%s\n", srv.Addr)
		err := srv.ListenAndServe()
		if err != nil {
			switch {
			case errors.Is(err, http.ErrServerClosed):
				log.Println("Server gracefully stopping...")
			default:
				log.Printf("Server stopped: %v", err)
				stop()
			}
		}
	}()

	// запускаем фонового воркера для отслеживания подвисших задач
	go recoveryLoop(ctx, svc)

	// ждем отмены контекста для запуска грейсфул закрытия соединений бд и кафки
	<-ctx.Done()

	shutdown(pub, dbConn)
	log.Println("Exiting API...")
}

func recoveryLoop(ctx context.Context, svc RunAPIService) {
	defer func() {
		if r := recover(); r != nil {
			log.Println("Recovery loop crashed:", r)
		}
	}()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.ReviveOrphans(ctx, 20)
		}
	}
}

func shutdown(pub *wbfkafka.Producer, dbConn *dbpg.DB) {
	log.Println("Interrupt received!!! Starting shutdown sequence...")

	// Closing Kafka connection:
	if pub != nil {
		if err := pub.Close(); err != nil {
			log.Println("Failed to close Kafka-writer:", err)
		}
		log.Println("Kafka-producer connection closed.")
	}

	// Closing DB connection
	if err := dbConn.Master.Close(); err != nil {
		log.Println("Failed to close DB-conn correctly:", err)
		return
	}
	log.Println("DBconn closed")
}
