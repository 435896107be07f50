// busline is the command-line interface for the busline messaging library.
//
// Usage:
//
//	busline <command> [flags]
//
// Commands:
//
//	init        Initialize a new busline service
//	migrate     Create the saga store schema
//	diagnose    Run diagnostic checks on your setup
//	version     Show version information
//
// Examples:
//
//	# Initialize a new service
//	busline init my-service
//
//	# Create the saga store schema
//	busline migrate
//
//	# Run diagnostics
//	busline diagnose
package main

import (
	"os"

	"github.com/R-Suite/busline/cli/commands"

	// Register PostgreSQL driver
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Build information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// Set version info
	commands.Version = version
	commands.Commit = commit
	commands.BuildDate = buildDate

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
