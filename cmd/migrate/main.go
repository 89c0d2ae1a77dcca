// Command migrate applies the embedded schema and seed files for the database
// named by ORM_DATABASE_URL or -database-url.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"ormdash.org/internal/app"
	"ormdash.org/internal/config"
	"ormdash.org/internal/migrate"
	"ormdash.org/internal/store/sqlstore"
)

func main() {
	log.SetFlags(0)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	databaseURL := flag.String("database-url", cfg.DatabaseURL, "postgres://... or sqlite:///path")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline")
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		log.Fatal("usage: migrate [-database-url URL] up|down|seed|status")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := sqlstore.Open(*databaseURL)
	if err != nil {
		log.Fatalf("open %s database: %v", sqlstore.DialectName(*databaseURL), err)
	}
	defer store.Close()

	mgr, err := app.Migrator(store)
	if err != nil {
		log.Fatalf("migrations: %v", err)
	}

	switch command {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var entries []migrate.Entry
		if entries, err = mgr.Status(ctx); err == nil {
			printStatus(entries)
		}
	default:
		log.Fatalf("unknown command %q", command)
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", command, err)
	}
}

func printStatus(entries []migrate.Entry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		applied := "pending"
		if !e.Pending {
			applied = e.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\n", e.Name, applied)
	}
	_ = w.Flush()
}
