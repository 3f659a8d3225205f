// Command storecheck opens the configured deduplication store, applies its
// migrations and prints what has been posted so far.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/deusflow/coinrelay/internal/config"
	"github.com/deusflow/coinrelay/internal/storage"
)

const recentLimit = 10

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Printf("Opening %s store (%s)\n", cfg.StoreDriver, location(cfg))
	store, err := storage.Open(ctx, storage.Options{
		Driver:      cfg.StoreDriver,
		DBPath:      cfg.DBPath,
		DatabaseURL: cfg.DatabaseURL,
		FilePath:    cfg.FilePath,
	})
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	total, err := store.Count(ctx)
	if err != nil {
		log.Fatalf("count: %v", err)
	}
	fmt.Printf("Posted items: %d\n", total)

	recent, err := store.Recent(ctx, recentLimit)
	if err != nil {
		log.Fatalf("recent: %v", err)
	}
	if len(recent) == 0 {
		fmt.Println("  (nothing posted yet)")
		return
	}
	for i, r := range recent {
		fmt.Printf("  %d. %s\n     %s | %s\n", i+1, r.Title, r.Link, r.RecordedAt.UTC().Format("2006-01-02 15:04:05"))
	}
}

func location(cfg *config.Config) string {
	switch cfg.StoreDriver {
	case "postgres":
		return maskPassword(cfg.DatabaseURL)
	case "file":
		return cfg.FilePath
	default:
		return cfg.DBPath
	}
}

// maskPassword hides the password part of a postgres URL.
func maskPassword(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		creds = creds[:colon] + ":***"
	}
	return dsn[:scheme+3] + creds + dsn[at:]
}
