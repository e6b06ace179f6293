package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/STTM-NSU/virtual-trading/internal/postgres"
	"github.com/google/subcommands"
)

type migrateCmd struct {
	down    bool
	version bool
}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply or roll back the postgres schema" }
func (*migrateCmd) Usage() string {
	return `migrate [-down | -version]

  Applies every pending migration to the database described by the
  POSTGRES_* environment variables.
  - down: roll back the most recent migration instead.
  - version: print the current schema version and exit.
`
}

func (c *migrateCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.down, "down", false, "Roll back one migration")
	f.BoolVar(&c.version, "version", false, "Print the schema version")
}

func (c *migrateCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.down && c.version {
		fmt.Fprintln(os.Stderr, "Error: -down and -version are mutually exclusive.")
		return subcommands.ExitUsageError
	}

	pgConfig := postgres.NewConfigFromEnv().Setup()

	switch {
	case c.version:
		version, dirty, err := postgres.MigrationVersion(pgConfig)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading schema version: %v\n", err)
			return subcommands.ExitFailure
		}
		fmt.Printf("version %d, dirty %t\n", version, dirty)
	case c.down:
		if err := postgres.MigrateDown(pgConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Error rolling back: %v\n", err)
			return subcommands.ExitFailure
		}
		fmt.Println("rolled back one migration")
	default:
		if err := postgres.MigrateUp(pgConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Error migrating: %v\n", err)
			return subcommands.ExitFailure
		}
		fmt.Println("schema is up to date")
	}
	return subcommands.ExitSuccess
}
