package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/env"
)

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]

	dbURL := fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
		env.GetEnv("DB_USER", "mockupsuite"),
		env.GetEnv("DB_PASSWORD", "mockupsuite"),
		env.GetEnv("DB_HOST", "db"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", "mockupsuite"),
	)
	log.Printf("Connecting to %s@%s:%s/%s",
		env.GetEnv("DB_USER", "mockupsuite"),
		env.GetEnv("DB_HOST", "db"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", "mockupsuite"),
	)

	m, err := migrate.New("file://"+env.GetEnv("MIGRATIONS_DIR", "migrations"), dbURL)
	if err != nil {
		log.Fatalf("Could not initialise migrations: %v", err)
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Printf("Closing migration resources: %v, %v", sourceErr, dbErr)
		}
	}()

	switch command {
	case "up":
		report(m.Up(), "all migrations applied")
	case "down":
		report(m.Steps(-1), "last migration rolled back")
	case "goto":
		if len(os.Args) < 3 {
			log.Fatalf("goto needs a version number")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			log.Fatalf("Invalid version: %v", err)
		}
		report(m.Migrate(uint(version)), fmt.Sprintf("migrated to version %d", version))
	case "status":
		version, dirty, err := m.Version()
		switch {
		case errors.Is(err, migrate.ErrNilVersion):
			log.Println("No migrations applied yet")
		case err != nil:
			log.Fatalf("Reading version failed: %v", err)
		case dirty:
			log.Printf("Current version: %d (dirty)", version)
		default:
			log.Printf("Current version: %d", version)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func report(err error, success string) {
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Println("No change: database is up to date")
	case err != nil:
		log.Fatalf("Migration failed: %v", err)
	default:
		log.Println(success)
	}
}

func printUsage() {
	fmt.Println("Usage: go run cmd/migrate/main.go [command]")
	fmt.Println("Commands:")
	fmt.Println("  up     - apply all pending migrations")
	fmt.Println("  down   - roll back the last migration")
	fmt.Println("  goto N - migrate to version N")
	fmt.Println("  status - print the current version")
}
