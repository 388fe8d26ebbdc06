package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"headline-backend/cmd"
	"headline-backend/internal/api"
	"headline-backend/internal/core"
	"headline-backend/internal/database"
	"headline-backend/internal/logging"
	"headline-backend/internal/messaging"
	"headline-backend/internal/storage"
	"headline-backend/internal/worker"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"
)

// The local command runs the whole platform in one process: sqlite instead of
// postgres, the filesystem instead of S3, and an in-memory queue instead of
// RabbitMQ. Useful for development and demos.

type Config struct {
	Root             string `env:"ROOT" envDefault:"./headline-backend"`
	Port             int    `env:"PORT" envDefault:"3001"`
	OnnxRuntimeDylib string `env:"ONNX_RUNTIME_DYLIB"`
}

const (
	datasetBucket = "datasets"
	modelBucket   = "models"
)

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "headline-backend.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := database.NewDatabase(path)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	return db
}

// createQueue re-publishes tasks that were still queued when the process last
// stopped, since the in-memory queue does not survive restarts.
func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	var models []database.Model
	if err := db.Where("status = ?", database.ModelQueued).Find(&models).Error; err != nil {
		log.Fatalf("Failed to fetch queued models from database: %v", err)
	}

	var jobs []database.BatchJob
	if err := db.Where("status = ?", database.JobQueued).Find(&jobs).Error; err != nil {
		log.Fatalf("Failed to fetch queued batch jobs from database: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	for _, model := range models {
		if err := queue.PublishTrainTask(context.Background(), messaging.TrainTaskPayload{
			ModelId: model.Id,
		}); err != nil {
			log.Fatalf("Failed to publish train task: %v", err)
		}
	}

	for _, job := range jobs {
		if err := queue.PublishBatchTask(context.Background(), messaging.BatchTaskPayload{
			JobId: job.Id,
		}); err != nil {
			log.Fatalf("Failed to publish batch task: %v", err)
		}
	}

	return queue
}

func createServer(db *gorm.DB, store storage.ObjectStore, queue messaging.Publisher, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	backend := api.NewBackendService(db, queue, store, datasetBucket)

	r.Route("/api/v1", func(r chi.Router) {
		backend.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()
	logging.InitLogger()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	if cfg.OnnxRuntimeDylib != "" {
		if err := core.InitOnnxRuntime(cfg.OnnxRuntimeDylib); err != nil {
			log.Fatalf("could not init ONNX Runtime: %v", err)
		}
		defer func() {
			if err := core.ShutdownOnnxRuntime(); err != nil {
				log.Fatalf("error destroying onnx env: %v", err)
			}
		}()
	}

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.Port)

	db := createDatabase(cfg.Root)

	store, err := storage.NewLocalObjectStore(filepath.Join(cfg.Root, "storage"))
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}

	for _, bucket := range []string{datasetBucket, modelBucket} {
		if err := store.CreateBucket(context.Background(), bucket); err != nil {
			log.Fatalf("Failed to create bucket %s: %v", bucket, err)
		}
	}

	queue := createQueue(db)

	processor := worker.NewTaskProcessor(db, store, queue, filepath.Join(cfg.Root, "models"), modelBucket, core.NewModelLoaders())

	server := createServer(db, store, queue, cfg.Port)

	slog.Info("starting worker")
	go processor.Start()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		slog.Info("shutting down worker")
		processor.Stop()
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
