// Command epimem-migrate applies pending schema migrations to the
// configured durable store.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/relaymind/epimem/internal/database/migrations"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("EPIMEM_DURABLE_URL"), "durable store connection string")
	statusOnly := flag.Bool("status", false, "print the current schema version without migrating")
	flag.Parse()

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "epimem-migrate: -dsn (or EPIMEM_DURABLE_URL) is required")
		os.Exit(1)
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "epimem-migrate: open: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if *statusOnly {
		version, err := migrations.Status(db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "epimem-migrate: status: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("schema version: %d\n", version)
		return
	}

	if err := migrations.Run(db); err != nil {
		fmt.Fprintf(os.Stderr, "epimem-migrate: migrate: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("migrations applied")
}
