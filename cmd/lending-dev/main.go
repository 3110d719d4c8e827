package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"lending/internal/app"
)

func main() {
	ctx := context.Background()

	log.Println("Starting Postgres testcontainer...")

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("lending"),
		postgres.WithUsername("lending"),
		postgres.WithPassword("devpassword"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Fatalf("Failed to start Postgres container: %v", err)
	}
	defer func() {
		log.Println("Stopping Postgres container...")
		if err := postgresContainer.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate container: %v", err)
		}
	}()

	dsn, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("Failed to get Postgres connection string: %v", err)
	}
	log.Printf("Postgres started at %s", dsn)

	log.Println("Starting ClickHouse testcontainer...")

	clickhouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.3.102-alpine",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword("devpassword"),
		clickhouse.WithDatabase("default"),
	)
	if err != nil {
		log.Fatalf("Failed to start ClickHouse container: %v", err)
	}

	// Ensure container cleanup on exit
	defer func() {
		log.Println("Stopping ClickHouse container...")
		if err := clickhouseContainer.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate container: %v", err)
		}
	}()

	host, err := clickhouseContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}

	port, err := clickhouseContainer.MappedPort(ctx, "9000/tcp")
	if err != nil {
		log.Fatalf("Failed to get container port: %v", err)
	}

	log.Printf("ClickHouse started at %s:%s", host, port.Port())

	// Set environment variables for the application
	os.Setenv("USE_MOCK_DB", "false")
	os.Setenv("DATABASE_URL", dsn)
	os.Setenv("CLICKHOUSE_HOST", host)
	os.Setenv("CLICKHOUSE_PORT", port.Port())
	os.Setenv("CLICKHOUSE_DATABASE", "default")
	os.Setenv("CLICKHOUSE_USER", "default")
	os.Setenv("CLICKHOUSE_PASSWORD", "devpassword")
	os.Setenv("CLICKHOUSE_USE_TLS", "false")
	os.Setenv("LOG_DEVELOPMENT", "true")
	os.Setenv("BCRYPT_COST", "4")

	// Set PORT for HTTP server if not already set
	if os.Getenv("PORT") == "" {
		os.Setenv("PORT", "8080")
	}

	if os.Getenv("ADMIN_EMAIL") == "" {
		os.Setenv("ADMIN_NAME", "Dev Admin")
		os.Setenv("ADMIN_EMAIL", "admin@example.com")
		os.Setenv("ADMIN_PASSWORD", "devpassword")
		log.Println("Admin login: admin@example.com / devpassword")
	}

	if os.Getenv("TELEGRAM_BOT_TOKEN") == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, audit notifications are disabled.")
	}

	log.Println("Starting application with Postgres and ClickHouse...")
	fmt.Println()

	application, err := app.New()
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	// Run blocks until SIGINT or SIGTERM, then the deferred terminations run
	if err := application.Run(); err != nil {
		log.Printf("Application error: %v", err)
	}
}
