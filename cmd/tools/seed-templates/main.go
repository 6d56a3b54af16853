// Package main implements the seed-templates CLI tool, which publishes the
// notification templates from a YAML seed file into the template store.
//
// Usage:
//
//	go run ./cmd/tools/seed-templates
//	go run ./cmd/tools/seed-templates --file=templates/seed.yaml --dry-run
//
// Each entry becomes a new template version; entries are activated unless
// they set activate: false. DATABASE_URL is read from the environment (or a
// .env file via godotenv).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"medinotify/internal/db"
	"medinotify/internal/logging"
	"medinotify/internal/templates"
)

func main() {
	fileFlag := flag.String("file", "templates/seed.yaml", "Path to the template seed file")
	languageFlag := flag.String("default-language", "en", "Language assumed for entries without one")
	applySchemaFlag := flag.Bool("apply-schema", false, "Apply the database schema before seeding")
	dryRunFlag := flag.Bool("dry-run", false, "Parse and list the templates without writing")
	flag.Parse()

	seed, err := templates.LoadSeedFile(*fileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *dryRunFlag {
		for _, st := range seed.Templates {
			fmt.Printf("  %-26s %-4s activate=%-5t %s\n", st.Type, st.Language, st.ShouldActivate(), st.Name)
		}
		fmt.Printf("%d templates parsed from %s\n", len(seed.Templates), *fileFlag)
		return
	}

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded (this is fine in production)", "error", err)
	}
	logger := logging.New("seed-templates", os.Getenv("LOG_LEVEL"))

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Error("DATABASE_URL environment variable is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: databaseURL, MaxConns: 2})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if *applySchemaFlag {
		if err := db.ApplySchema(ctx, pool); err != nil {
			logger.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
	}

	store := templates.NewStore(db.NewTemplateRepository(pool), templates.PostgresTx(pool), *languageFlag, logger)
	n, err := store.PublishSeed(ctx, seed)
	if err != nil {
		logger.Error("seeding stopped", "published", n, "error", err)
		os.Exit(1)
	}
	logger.Info("templates seeded", "published", n, "file", *fileFlag)
}
