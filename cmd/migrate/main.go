package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/aihub/genai-rag/internal/database"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	_ "github.com/lib/pq" // PostgreSQL driver
)

func main() {
	var action = flag.String("action", "up", "Migration action: up, down, status, goto, force")
	var version = flag.Int("version", 0, "Target version for migration")
	var path = flag.String("path", "./migrations", "Directory holding the migration files")
	var dsn = flag.String("database", "", "Postgres connection string (defaults to DATABASE_URL)")
	flag.Parse()

	_ = godotenv.Load()
	if *dsn == "" {
		*dsn = os.Getenv("DATABASE_URL")
	}
	if *dsn == "" {
		log.Fatal("missing database connection string: set DATABASE_URL or -database")
	}

	// 连接数据库
	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	migrationManager, err := database.NewMigrationManager(db, *path, logger)
	if err != nil {
		log.Fatalf("Failed to create migration manager: %v", err)
	}
	defer migrationManager.Close()

	switch *action {
	case "up":
		if err := migrationManager.Up(); err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
		fmt.Printf("Schema is at version %d\n", database.SchemaVersion)

	case "down":
		if err := migrationManager.Down(); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		fmt.Println("Rollback completed successfully")

	case "version", "status":
		status, err := migrationManager.Status()
		if err != nil {
			log.Fatalf("Failed to get version: %v", err)
		}
		fmt.Printf("Current version: %d (expected %d)", status.Current, database.SchemaVersion)
		if status.Dirty {
			fmt.Printf(" (dirty - manual intervention required)")
		}
		if status.Pending {
			fmt.Printf(" (pending migrations)")
		}
		fmt.Println()

	case "goto":
		if *version <= 0 {
			log.Fatal("Version must be specified for goto action")
		}
		if err := migrationManager.Goto(uint(*version)); err != nil {
			log.Fatalf("Migration to version %d failed: %v", *version, err)
		}
		fmt.Printf("Migrated to version %d\n", *version)

	case "force":
		if err := migrationManager.ForceVersion(uint(*version)); err != nil {
			log.Fatalf("Force version %d failed: %v", *version, err)
		}
		fmt.Printf("Forced version %d\n", *version)

	default:
		fmt.Printf("Unknown action: %s\n", *action)
		fmt.Println("Available actions: up, down, status, goto, force")
		os.Exit(1)
	}
}
