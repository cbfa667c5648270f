package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bizops/pkg/config"
	"bizops/pkg/db"
)

func main() {
	var (
		path = flag.String("path", "", "migrations source url (defaults to MIGRATIONS_PATH or file://migrations)")
		down = flag.Int("down", 0, "roll back this many migrations instead of applying")
	)
	flag.Parse()

	cfg := config.Load()
	if *path != "" {
		cfg.MigrationsPath = *path
	}
	if cfg.MigrationsPath == "" {
		cfg.MigrationsPath = "file://migrations"
	}

	// Both directions use DIRECT_URL if set, so poolers are bypassed for DDL.
	if *down > 0 {
		if err := db.Rollback(cfg.MigrationsPath, cfg, *down); err != nil {
			fmt.Fprintf(os.Stderr, "rollback failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("rolled back %d migration(s)\n", *down)
		return
	}

	if err := db.MigrateConfig(cfg.MigrationsPath, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "migrate failed: %v\n", err)
		os.Exit(1)
	}

	// Make sure the runtime connection works too. DSNs are never printed.
	pool, err := db.Open(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "runtime db open failed: %v\n", err)
		os.Exit(1)
	}
	pool.Close()

	fmt.Println("migrations applied")
}
