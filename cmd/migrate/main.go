package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/ManuelReschke/PropNest/app/repository"
	"github.com/ManuelReschke/PropNest/internal/pkg/config"
	"github.com/ManuelReschke/PropNest/internal/pkg/database"
	"github.com/ManuelReschke/PropNest/internal/pkg/env"
	"github.com/ManuelReschke/PropNest/internal/pkg/idempotency"
	"github.com/ManuelReschke/PropNest/internal/pkg/logger"
)

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	cfg := config.Load()
	db := cfg.DB

	if command == "purge-idempotency" {
		purgeIdempotency(cfg)
		return
	}

	dbURL := fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
		db.User, db.Password, db.Host, db.Port, db.Name)

	log.Printf("connecting to database: %s@%s:%s/%s", db.User, db.Host, db.Port, db.Name)

	m, err := migrate.New(
		"file://migrations",
		dbURL,
	)
	if err != nil {
		log.Fatalf("could not initialize migrations: %v", err)
	}

	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Printf("could not close migration resources: %v, %v", sourceErr, dbErr)
		}
	}()

	switch command {
	case "up":
		if err := m.Up(); errors.Is(err, migrate.ErrNoChange) {
			log.Println("no change: database is up to date")
		} else if err != nil {
			log.Fatalf("migrating up failed: %v", err)
		} else {
			log.Println("migrations applied")
		}

	case "down":
		// Roll back the latest migration only
		if err := m.Steps(-1); err != nil {
			log.Fatalf("rolling back failed: %v", err)
		}
		log.Println("latest migration rolled back")

	case "goto":
		if len(os.Args) < 3 {
			log.Fatalf("missing version number")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			log.Fatalf("invalid version number: %v", err)
		}

		if err := m.Migrate(uint(version)); errors.Is(err, migrate.ErrNoChange) {
			log.Printf("no change: database is already at version %d", version)
		} else if err != nil {
			log.Fatalf("migrating to version %d failed: %v", version, err)
		} else {
			log.Printf("migrated to version %d", version)
		}

	case "status":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Println("no migrations applied yet")
			return
		}
		if err != nil {
			log.Fatalf("could not read migration version: %v", err)
		}
		dirtyStatus := ""
		if dirty {
			dirtyStatus = " (dirty)"
		}
		log.Printf("current migration version: %d%s", version, dirtyStatus)

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("usage: go run cmd/migrate/main.go [command]")
	fmt.Println("commands:")
	fmt.Println("  up     - apply all pending migrations")
	fmt.Println("  down   - roll back the latest migration")
	fmt.Println("  goto N - migrate to version N")
	fmt.Println("  status - show the current migration version")
	fmt.Println("  purge-idempotency - delete expired idempotency records")
}

// purgeIdempotency removes idempotency records past their retention. Redis
// entries expire on their own, so only the database table needs this.
func purgeIdempotency(cfg *config.Config) {
	zl, err := logger.Setup(cfg.App.IsDev())
	if err != nil {
		log.Fatalf("could not set up logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	conn, err := database.SetupDatabase(cfg.DB, zl)
	if err != nil {
		log.Fatalf("purging idempotency records failed: %v", err)
	}
	guard := idempotency.NewGuard(idempotency.NewDBBackend(repository.NewFactory(conn).Repos().Idempotency))
	n, err := guard.Purge(context.Background())
	if err != nil {
		log.Fatalf("purging idempotency records failed: %v", err)
	}
	fmt.Printf("purged %d expired idempotency records\n", n)
}
