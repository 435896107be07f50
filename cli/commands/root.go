// Package commands provides the CLI command implementations for busline.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/R-Suite/busline/cli/styles"
	"github.com/R-Suite/busline/cli/ui"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// NewRootCommand creates the root command for the busline CLI
func NewRootCommand() *cobra.Command {
	var noColor bool

	rootCmd := &cobra.Command{
		Use:   "busline",
		Short: "Saga messaging middleware for Go",
		Long: ui.SimpleBanner() + `

Busline is message-bus middleware for Go services. It correlates
inbound messages to long-running sagas, persists their state with
optimistic concurrency, and handles retries and dead-lettering.

` + styles.Title.Render("Quick Start:") + `

  ` + styles.Code.Render("busline init") + `         Initialize a new service
  ` + styles.Code.Render("busline migrate") + `      Create the saga store schema
  ` + styles.Code.Render("busline diagnose") + `     Check your setup

` + styles.Title.Render("Documentation:") + `

  https://github.com/R-Suite/busline`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				styles.DisableColors()
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewMigrateCommand())
	rootCmd.AddCommand(NewDiagnoseCommand())
	rootCmd.AddCommand(NewSagasCommand())
	rootCmd.AddCommand(NewVersionCommand(Version, Commit, BuildDate))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(styles.FormatError(err.Error()))
		return err
	}

	return nil
}
