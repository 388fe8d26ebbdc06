package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"headline-backend/cmd"
	"headline-backend/internal/gateway"
	"headline-backend/internal/logging"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type GatewayConfig struct {
	EndpointURL    string        `env:"PREDICTION_ENDPOINT_URL,notEmpty,required"`
	MaxAttempts    int           `env:"GATEWAY_MAX_ATTEMPTS" envDefault:"3"`
	RequestTimeout time.Duration `env:"GATEWAY_REQUEST_TIMEOUT" envDefault:"10s"`
	Port           string        `env:"GATEWAY_PORT" envDefault:"8000"`
}

func main() {
	log.Println("Starting Gateway...")

	cmd.LoadEnvFile()
	logging.InitLogger()

	var cfg GatewayConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	adapter := gateway.NewAdapter(cfg.EndpointURL,
		gateway.WithMaxAttempts(cfg.MaxAttempts),
		gateway.WithTimeout(cfg.RequestTimeout),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	adapter.AddRoutes(r)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down gateway...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Gateway forced to shutdown: %v", err)
		}
	}()

	log.Printf("Gateway listening on port %s", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.Port, err)
	}

	log.Println("Gateway stopped.")
}
