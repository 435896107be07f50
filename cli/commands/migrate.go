package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/R-Suite/busline/adapters/postgres"
	"github.com/R-Suite/busline/cli/config"
	"github.com/R-Suite/busline/cli/styles"
	"github.com/R-Suite/busline/cli/ui"
)

// NewMigrateCommand creates the migrate command
func NewMigrateCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the saga store schema",
		Long: `Create the saga and wakeup tables in the configured PostgreSQL store.

The schema is created with CREATE TABLE IF NOT EXISTS, so running the
command repeatedly is safe.

Examples:
  busline migrate             # Create the schema
  busline migrate --timeout=30s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}

			_, cfg, err := config.FindConfig(cwd)
			if err != nil {
				return fmt.Errorf("no busline.yaml found: %w", err)
			}

			switch cfg.Store.Driver {
			case "memory":
				fmt.Println(styles.FormatInfo("Memory store doesn't require migrations"))
				return nil
			case "redis":
				fmt.Println(styles.FormatInfo("Redis store doesn't require migrations"))
				return nil
			case "postgres":
			default:
				return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
			}

			storeURL := os.ExpandEnv(cfg.Store.URL)
			if storeURL == "" || storeURL == "${BUSLINE_STORE_URL}" {
				return fmt.Errorf("BUSLINE_STORE_URL environment variable is not set")
			}

			spinner := ui.NewSpinner("Connecting to database...")
			p := tea.NewProgram(spinner)

			go func() {
				time.Sleep(500 * time.Millisecond)
				p.Send(ui.SpinnerDoneMsg{Result: "Connected to database"})
			}()

			if _, err := p.Run(); err != nil {
				return err
			}

			db, err := postgres.Open(storeURL)
			if err != nil {
				return err
			}
			defer db.Close()

			store := postgres.NewSagaStore(db,
				postgres.WithSagaSchema(cfg.Store.Schema),
				postgres.WithSagaTable(cfg.Store.Table))

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			fmt.Printf("\n  %s Creating schema %s.%s... ", styles.IconPending, cfg.Store.Schema, cfg.Store.Table)
			if err := store.Initialize(ctx); err != nil {
				fmt.Println(styles.ErrorStyle.Render("FAILED"))
				return err
			}
			fmt.Println(styles.SuccessStyle.Render("OK"))

			fmt.Println()
			fmt.Println(styles.FormatSuccess("Saga store schema is ready"))
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Connection timeout")

	return cmd
}
