package main

import (
	"log"

	"headline-backend/cmd"
	"headline-backend/internal/core"
	"headline-backend/internal/database"
	"headline-backend/internal/logging"
	"headline-backend/internal/messaging"
	"headline-backend/internal/storage"
	"headline-backend/internal/worker"

	"github.com/caarlos0/env/v11"
)

type WorkerConfig struct {
	DatabaseURL       string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL       string `env:"RABBITMQ_URL,notEmpty,required"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	ModelBucketName   string `env:"MODEL_BUCKET_NAME" envDefault:"models"`
	LocalModelDir     string `env:"LOCAL_MODEL_DIR" envDefault:"/tmp/models"`
	OnnxRuntimeDylib  string `env:"ONNX_RUNTIME_DYLIB"`
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()
	logging.InitLogger()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	// The batch path can load onnx artifacts, so the worker initializes the
	// runtime when a dylib is configured.
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

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	processor := worker.NewTaskProcessor(db, store, receiver, cfg.LocalModelDir, cfg.ModelBucketName, core.NewModelLoaders())
	defer processor.Stop()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	processor.Start()

	log.Println("Worker process stopped.")
}
