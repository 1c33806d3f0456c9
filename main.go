package main

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
	"github.com/joho/godotenv"

	"github.com/example/ride-chat-relay/modules/activity"
	"github.com/example/ride-chat-relay/modules/registry"
	"github.com/example/ride-chat-relay/modules/relay"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log.Println("=== Ride Chat Relay - Fiber WebSocket + EventBus ===")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	cfg := relay.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	// Create modules
	reg := registry.New()
	relayModule := relay.NewModule(cfg, reg, app.Logger())
	activityModule := activity.NewModule(app.Logger())

	// Inject activity counters into the relay REST API
	relayModule.SetActivity(activityModule)

	// Register modules with the framework.
	// - relay: WebSocket server + event emitter
	// - activity: event consumer for relay lifecycle events
	if err := app.Register(relayModule); err != nil {
		log.Fatalf("Failed to register relay module: %v", err)
	}
	if err := app.Register(activityModule); err != nil {
		log.Fatalf("Failed to register activity module: %v", err)
	}

	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(cfg, relayModule.Addr())

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(cfg relay.Config, addr string) {
	log.Println("")
	log.Println("Application started successfully!")
	log.Printf("  Environment:     %s", cfg.Environment)
	log.Printf("  Listening on:    %s", addr)
	log.Printf("  Allowed origins: %s", strings.Join(cfg.AllowedOrigins, ", "))
	if cfg.RedisAddr != "" {
		log.Printf("  Rate limit:      %d/s via Redis %s", cfg.RateLimit, cfg.RedisAddr)
	} else {
		log.Printf("  Rate limit:      %d/s burst %d (in-memory)", cfg.RateLimit, cfg.RateBurst)
	}
	log.Println("")
	log.Println("Endpoints:")
	log.Println("  GET /ws?ride_id=<ride>&user_id=<user>  - WebSocket chat")
	log.Println("  GET /health                            - Health check")
	log.Println("  GET /api/v1/rides/:id                  - Active ride participants")
	log.Println("  GET /api/v1/stats                      - Relay activity totals")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
