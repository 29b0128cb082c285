// Package main (in worker-subfolder) runs the queue consumer executing watermark runs
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UnendingLoop/watermarker/internal/compositor"
	"github.com/UnendingLoop/watermarker/internal/config"
	"github.com/UnendingLoop/watermarker/internal/kafka"
	"github.com/UnendingLoop/watermarker/internal/repository"
	"github.com/UnendingLoop/watermarker/internal/service"
	"github.com/UnendingLoop/watermarker/internal/storage"
	"github.com/UnendingLoop/watermarker/internal/worker"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/dbpg"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
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

	// Listening to interruptions through context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// подключитсья к базе
	dbConn, err := repository.ConnectWithRetries(ctx, appConfig.PostgresDSN, 5, 10*time.Second)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v\nExiting app...", err)
	}
	// создаем экземпляр репо
	repo := repository.NewPostgresRunRepo(dbConn)
	// создаем экземпляр сервиса
	var svc RunWorkerService = service.NewRunService(repo, NoopPublisher{}, nil, appConfig.ExtendedFormats)

	// движок пакетной обработки
	opts := []compositor.Option{
		compositor.WithWorkers(appConfig.Workers),
		compositor.WithJPEGQuality(appConfig.JPEGQuality),
		compositor.WithExtendedFormats(appConfig.ExtendedFormats),
	}
	if appConfig.Minio.Enabled {
		// подкллючиться к хранилищу-зеркалу
		strg, err := storage.NewImgStorage(ctx, appConfig.Minio, 10*time.Second, 0)
		if err != nil {
			log.Fatalf("Failed to connect IMG-storage: %v", err)
		}
		opts = append(opts, compositor.WithMirror(strg))
	}
	engine := compositor.New(opts...)

	// ждем пока кафка раздуплится
	if !kafka.WaitKafkaReady(ctx, appConfig.KafkaBroker, 5*time.Second) {
		shutdown(nil, dbConn)
		return
	}
	// подключиться к кафке как читатель
	queue := make(chan kafkago.Message)
	retryStrategy := retry.Strategy{
		Attempts: 5,
		Delay:    2 * time.Second,
		Backoff:  1.5,
	}
	cons := wbfkafka.NewConsumer([]string{appConfig.KafkaBroker}, appConfig.KafkaTopic, appConfig.KafkaGroupID)
	cons.StartConsuming(ctx, queue, retryStrategy)

	// Собираем воедино все что нужно воркеру и запускаем его
	wrk := worker.NewWorkerInstance(engine, svc, queue, cons, appConfig.OutputDirName)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		wrk.StartWorker(ctx)
	}()

	// Waiting for interruption to stop context to start Graceful shutdown
	<-ctx.Done()
	// текущий запуск доделывает сохранение результата
	<-stopped

	shutdown(cons, dbConn)
	log.Println("Exiting worker...")
}

func shutdown(cons *wbfkafka.Consumer, dbConn *dbpg.DB) {
	log.Println("Interrupt received!!! Starting shutdown sequence...")

	// Closing Kafka connection:
	if cons != nil {
		if err := cons.Close(); err != nil {
			log.Println("Failed to close Kafka-reader:", err)
		}
		log.Println("Kafka-consumer connection closed.")
	}

	// Closing DB connection
	if err := dbConn.Master.Close(); err != nil {
		log.Println("Failed to close DB-conn correctly:", err)
		return
	}
	log.Println("DBconn closed")
}
