package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/R-Suite/busline/adapters/postgres"
	"github.com/R-Suite/busline/cli/config"
	"github.com/R-Suite/busline/cli/styles"
)

// NewSagasCommand creates the sagas command
func NewSagasCommand() *cobra.Command {
	var (
		sagaType string
		limit    int
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sagas",
		Short: "List saga instances in the store",
		Long: `List the saga instances currently persisted in the configured store.

Shows the key, type, version, lock state and last update time of each
instance, most recently updated first.

Examples:
  busline sagas                     # List all sagas
  busline sagas --type OrderSaga    # Only instances of one saga type
  busline sagas --limit 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}

			_, cfg, err := config.FindConfig(cwd)
			if err != nil {
				return fmt.Errorf("no busline.yaml found: %w", err)
			}

			if cfg.Store.Driver != "postgres" {
				fmt.Println(styles.FormatInfo(fmt.Sprintf("Listing is only supported for the postgres store (configured: %s)", cfg.Store.Driver)))
				return nil
			}

			storeURL := os.ExpandEnv(cfg.Store.URL)
			if storeURL == "" || storeURL == "${BUSLINE_STORE_URL}" {
				return fmt.Errorf("BUSLINE_STORE_URL environment variable is not set")
			}

			db, err := postgres.Open(storeURL)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			query := fmt.Sprintf(
				`SELECT key, saga_type, version, locked_until, updated_at FROM %q.%q`,
				cfg.Store.Schema, cfg.Store.Table)
			queryArgs := []any{}
			if sagaType != "" {
				query += ` WHERE saga_type = $1`
				queryArgs = append(queryArgs, sagaType)
			}
			query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT %d`, limit)

			rows, err := db.QueryContext(ctx, query, queryArgs...)
			if err != nil {
				return fmt.Errorf("failed to list sagas: %w", err)
			}
			defer rows.Close()

			fmt.Println()
			fmt.Println(styles.Title.Render(styles.IconGear + " Saga Instances"))
			fmt.Println()
			fmt.Printf("  %-40s %-20s %8s %-8s %s\n", "KEY", "TYPE", "VERSION", "LOCKED", "UPDATED")

			count := 0
			for rows.Next() {
				var (
					key, typ    string
					version     int64
					lockedUntil sql.NullTime
					updatedAt   time.Time
				)
				if err := rows.Scan(&key, &typ, &version, &lockedUntil, &updatedAt); err != nil {
					return err
				}

				lockState := "no"
				if lockedUntil.Valid && lockedUntil.Time.After(time.Now()) {
					lockState = "yes"
				}
				fmt.Printf("  %-40s %-20s %8d %-8s %s\n",
					key, typ, version, lockState, updatedAt.Format(time.RFC3339))
				count++
			}
			if err := rows.Err(); err != nil {
				return err
			}

			fmt.Println()
			if count == 0 {
				fmt.Println(styles.Muted.Render("  No saga instances found"))
			} else {
				fmt.Println(styles.Muted.Render(fmt.Sprintf("  %d instance(s)", count)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sagaType, "type", "", "Only list instances of this saga type")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of instances to list")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Connection timeout")

	return cmd
}
