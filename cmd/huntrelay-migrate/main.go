// Command huntrelay-migrate applies the Intelligence Store's
// forward-only, monotonically versioned schema migrations (spec.md
// §6) without starting the Gateway — for deploy pipelines that
// migrate the database ahead of rolling out a new server binary.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/huntrelay/huntrelay/internal/config"
	"github.com/huntrelay/huntrelay/internal/db"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	pflag.StringVar(&configPath, "config", "", "path to huntrelay.yaml (overrides HUNTRELAY_CONFIG)")
	pflag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return 2
	}

	pool, err := db.Open(db.Config{Path: cfg.Database.Path, PoolSize: 1, Logger: logger})
	if err != nil {
		fmt.Fprintln(os.Stderr, "database unreachable:", err)
		return 3
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	version, err := db.Migrate(ctx, pool)
	if err != nil {
		fmt.Fprintln(os.Stderr, "migration failed:", err)
		return 4
	}

	fmt.Printf("database at %s is now schema version %d\n", cfg.Database.Path, version)
	return 0
}
