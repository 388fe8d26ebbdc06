package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"headline-backend/cmd"
	"headline-backend/internal/core"
	"headline-backend/internal/inference"
	"headline-backend/internal/logging"
	"headline-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type EndpointConfig struct {
	ArtifactPath      string `env:"MODEL_ARTIFACT_PATH,notEmpty,required"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	LocalModelDir     string `env:"LOCAL_MODEL_DIR" envDefault:"/tmp/models"`
	Port              string `env:"ENDPOINT_PORT" envDefault:"8080"`
	OnnxRuntimeDylib  string `env:"ONNX_RUNTIME_DYLIB"`
}

func main() {
	log.Println("Starting Prediction Endpoint...")

	cmd.LoadEnvFile()
	logging.InitLogger()

	var cfg EndpointConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	// Only onnx artifacts need the runtime, so the dylib stays optional.
	if cfg.OnnxRuntimeDylib != "" {
		if err := core.InitOnnxRuntime(cfg.OnnxRuntimeDylib); err != nil {
			log.Fatalf("could not init ONNX Runtime: %v", err)
		}
		defer func() {
			if err := core.ShutdownOnnxRuntime(); err != nil {
				log.Printf("error destroying onnx env: %v", err)
			}
		}()
	}

	model, err := loadModel(cfg)
	if err != nil {
		log.Fatalf("Failed to load model: %v", err)
	}
	defer model.Release()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	server := inference.NewServer(model)
	server.AddRoutes(r)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down endpoint...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Fatalf("Endpoint forced to shutdown: %v", err)
		}
	}()

	log.Printf("Prediction endpoint listening on port %s", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.Port, err)
	}

	log.Println("Endpoint stopped.")
}

// loadModel resolves the artifact reference, which is either a local
// model.tar.gz file or an s3://bucket/key location.
func loadModel(cfg EndpointConfig) (core.Model, error) {
	artifactFile := cfg.ArtifactPath

	if bucket, key, err := storage.ParsePath(cfg.ArtifactPath); err == nil && strings.HasPrefix(cfg.ArtifactPath, "s3://") {
		store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
			Endpoint:        cfg.S3EndpointURL,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}

		artifactFile = filepath.Join(cfg.LocalModelDir, core.ArtifactName)
		if err := store.DownloadObject(context.Background(), bucket, key, artifactFile); err != nil {
			return nil, err
		}
	}

	return core.LoadModel(artifactFile, filepath.Join(cfg.LocalModelDir, "current"), core.NewModelLoaders())
}
