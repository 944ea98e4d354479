// migrate applies or rolls back the embedded SQL migrations against DATABASE_URL.
package main

import (
	"flag"
	"fmt"
	"os"

	"edu-platform/auth/internal/config"
	"edu-platform/auth/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", migrate.Up, "Migration direction: up or down")
	steps := flag.Int("steps", 0, "With -direction=down, the number of migrations to roll back; 0 means all")
	version := flag.Bool("version", false, "Print the current schema version and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set")
		os.Exit(1)
	}

	if *version {
		v, dirty, err := migrate.Version(cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
		fmt.Printf("version=%d dirty=%t\n", v, dirty)
		return
	}

	if err := migrate.Run(cfg.DatabaseURL, *direction, *steps); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
