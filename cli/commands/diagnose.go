package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/R-Suite/busline/adapters/postgres"
	"github.com/R-Suite/busline/adapters/redis"
	"github.com/R-Suite/busline/cli/config"
	"github.com/R-Suite/busline/cli/styles"
	"github.com/R-Suite/busline/cli/ui"
)

// NewDiagnoseCommand creates the diagnose command
func NewDiagnoseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Run diagnostic checks",
		Long: `Run diagnostic checks on your busline setup.

This command verifies:
  • Configuration file validity
  • Saga store connectivity
  • Saga store schema
  • Transport reachability
  • System requirements`,
		Aliases: []string{"diag", "doctor"},
		RunE:    runDiagnose,
	}

	return cmd
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	fmt.Println()
	fmt.Println(ui.Banner())
	fmt.Println()
	fmt.Println(styles.Title.Render(styles.IconGear + " Running Diagnostics"))
	fmt.Println()

	checks := []DiagnosticCheck{
		{Name: "Go Version", Check: checkGoVersion},
		{Name: "Configuration", Check: checkConfiguration},
		{Name: "Saga Store Connection", Check: checkStoreConnection},
		{Name: "Saga Store Schema", Check: checkStoreSchema},
		{Name: "Transport", Check: checkTransport},
		{Name: "System Resources", Check: checkSystemResources},
	}

	results := make([]CheckResult, 0, len(checks))
	allPassed := true

	for _, check := range checks {
		fmt.Printf("  %s Checking %s... ", styles.IconPending, check.Name)

		result := check.Check()
		results = append(results, result)

		if result.Status == StatusOK {
			fmt.Println(styles.SuccessStyle.Render("OK"))
		} else if result.Status == StatusWarning {
			fmt.Println(styles.WarningStyle.Render("WARNING"))
			allPassed = false
		} else {
			fmt.Println(styles.ErrorStyle.Render("FAILED"))
			allPassed = false
		}

		if result.Message != "" {
			fmt.Printf("    %s\n", styles.Muted.Render(result.Message))
		}
	}

	fmt.Println()
	fmt.Println(ui.Divider(50))
	fmt.Println()

	// Summary
	if allPassed {
		fmt.Println(styles.FormatSuccess("All checks passed! Your busline setup is healthy."))
	} else {
		fmt.Println(styles.FormatWarning("Some checks failed or have warnings."))
		fmt.Println()

		// Show recommendations
		fmt.Println(styles.Subtitle.Render("Recommendations:"))
		for _, r := range results {
			if r.Recommendation != "" {
				fmt.Printf("  %s %s\n", styles.IconArrow, r.Recommendation)
			}
		}
	}

	return nil
}

// CheckStatus represents the status of a diagnostic check
type CheckStatus int

const (
	StatusOK CheckStatus = iota
	StatusWarning
	StatusError
)

// CheckResult represents the result of a diagnostic check
type CheckResult struct {
	Name           string
	Status         CheckStatus
	Message        string
	Recommendation string
}

// newCheckResult creates a CheckResult with the given name.
func newCheckResult(name string, status CheckStatus, message string) CheckResult {
	return CheckResult{Name: name, Status: status, Message: message}
}

// withRecommendation adds a recommendation to a CheckResult.
func (r CheckResult) withRecommendation(rec string) CheckResult {
	r.Recommendation = rec
	return r
}

// DiagnosticCheck represents a diagnostic check function
type DiagnosticCheck struct {
	Name  string
	Check func() CheckResult
}

// diagnosticSkip explains why a check had nothing to verify
type diagnosticSkip int

const (
	diagnosticSkipNone diagnosticSkip = iota
	diagnosticSkipNoConfig
	diagnosticSkipMemoryDriver
	diagnosticSkipNoStoreURL
)

// loadDiagnosticConfig finds the config and resolves the store URL
func loadDiagnosticConfig() (*config.Config, string, diagnosticSkip) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", diagnosticSkipNoConfig
	}

	_, cfg, err := config.FindConfig(cwd)
	if err != nil {
		return nil, "", diagnosticSkipNoConfig
	}

	if cfg.Store.Driver == "memory" {
		return cfg, "", diagnosticSkipMemoryDriver
	}

	storeURL := os.ExpandEnv(cfg.Store.URL)
	if storeURL == "" || storeURL == "${BUSLINE_STORE_URL}" {
		return cfg, "", diagnosticSkipNoStoreURL
	}

	return cfg, storeURL, diagnosticSkipNone
}

func checkGoVersion() CheckResult {
	version := runtime.Version()
	if version < "go1.21" {
		return newCheckResult("Go Version", StatusWarning, version).
			withRecommendation("Upgrade to Go 1.21 or later for best performance")
	}
	return newCheckResult("Go Version", StatusOK, version)
}

func checkConfiguration() CheckResult {
	const name = "Configuration"
	cwd, err := os.Getwd()
	if err != nil {
		return newCheckResult(name, StatusError, err.Error()).withRecommendation("Check directory permissions")
	}
	if !config.Exists(cwd) {
		return newCheckResult(name, StatusWarning, "No busline.yaml found").
			withRecommendation("Run 'busline init' to create a configuration file")
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return newCheckResult(name, StatusError, fmt.Sprintf("Invalid config: %v", err)).
			withRecommendation("Check busline.yaml syntax")
	}
	if errors := cfg.Validate(); len(errors) > 0 {
		return newCheckResult(name, StatusWarning, fmt.Sprintf("%d validation errors", len(errors))).
			withRecommendation(errors[0])
	}
	return newCheckResult(name, StatusOK, fmt.Sprintf("Service: %s, Store: %s, Transport: %s",
		cfg.Service.Name, cfg.Store.Driver, cfg.Transport.Kind))
}

func checkStoreConnection() CheckResult {
	const name = "Saga Store Connection"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, storeURL, skip := loadDiagnosticConfig()
	switch skip {
	case diagnosticSkipNoConfig:
		return newCheckResult(name, StatusWarning, "No configuration found").withRecommendation("Run 'busline init' first")
	case diagnosticSkipMemoryDriver:
		return newCheckResult(name, StatusOK, "Using in-memory store (no connection needed)")
	case diagnosticSkipNoStoreURL:
		return newCheckResult(name, StatusWarning, "BUSLINE_STORE_URL not set").
			withRecommendation("Set BUSLINE_STORE_URL environment variable")
	}

	switch cfg.Store.Driver {
	case "postgres":
		db, err := postgres.Open(storeURL)
		if err != nil {
			return newCheckResult(name, StatusError, err.Error()).withRecommendation("Verify database credentials")
		}
		defer db.Close()

		store := postgres.NewSagaStore(db)
		if err := store.Ping(ctx); err != nil {
			return newCheckResult(name, StatusError, err.Error()).withRecommendation("Check database server status")
		}
		return newCheckResult(name, StatusOK, "Connected to PostgreSQL")

	case "redis":
		store := redis.Open(storeURL)
		defer store.Close()

		if err := store.Ping(ctx); err != nil {
			return newCheckResult(name, StatusError, err.Error()).withRecommendation("Check Redis server status")
		}
		return newCheckResult(name, StatusOK, "Connected to Redis")
	}

	return newCheckResult(name, StatusWarning, fmt.Sprintf("Unknown driver %q", cfg.Store.Driver)).
		withRecommendation("Use 'memory', 'postgres' or 'redis'")
}

func checkStoreSchema() CheckResult {
	const name = "Saga Store Schema"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, storeURL, skip := loadDiagnosticConfig()
	if skip == diagnosticSkipNoConfig || skip == diagnosticSkipMemoryDriver {
		return newCheckResult(name, StatusOK, "Skipped (memory store or no config)")
	}
	if skip == diagnosticSkipNoStoreURL {
		return newCheckResult(name, StatusWarning, "Skipped (no store URL)")
	}
	if cfg.Store.Driver != "postgres" {
		return newCheckResult(name, StatusOK, "Skipped (schema only applies to postgres)")
	}

	db, err := postgres.Open(storeURL)
	if err != nil {
		return newCheckResult(name, StatusError, err.Error()).withRecommendation("Check database connection")
	}
	defer db.Close()

	var exists bool
	err = db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`,
		cfg.Store.Schema, cfg.Store.Table).Scan(&exists)
	if err != nil {
		return newCheckResult(name, StatusError, err.Error()).withRecommendation("Check database permissions")
	}
	if !exists {
		return newCheckResult(name, StatusWarning, fmt.Sprintf("Table %s.%s does not exist", cfg.Store.Schema, cfg.Store.Table)).
			withRecommendation("Run 'busline migrate' to create the saga store schema")
	}
	return newCheckResult(name, StatusOK, fmt.Sprintf("Table %s.%s exists", cfg.Store.Schema, cfg.Store.Table))
}

func checkTransport() CheckResult {
	const name = "Transport"

	cwd, err := os.Getwd()
	if err != nil {
		return newCheckResult(name, StatusError, err.Error())
	}
	_, cfg, err := config.FindConfig(cwd)
	if err != nil {
		return newCheckResult(name, StatusWarning, "No configuration found").withRecommendation("Run 'busline init' first")
	}

	switch cfg.Transport.Kind {
	case "memory":
		return newCheckResult(name, StatusOK, "Using in-memory transport")

	case "kafka":
		if len(cfg.Transport.Brokers) == 0 {
			return newCheckResult(name, StatusWarning, "No Kafka brokers configured").
				withRecommendation("Add broker addresses to transport.brokers in busline.yaml")
		}
		conn, err := net.DialTimeout("tcp", cfg.Transport.Brokers[0], 5*time.Second)
		if err != nil {
			return newCheckResult(name, StatusError, fmt.Sprintf("Cannot reach broker %s: %v", cfg.Transport.Brokers[0], err)).
				withRecommendation("Check that Kafka is running and reachable")
		}
		conn.Close()
		return newCheckResult(name, StatusOK, fmt.Sprintf("Kafka broker %s is reachable", cfg.Transport.Brokers[0]))

	case "sns":
		return newCheckResult(name, StatusOK, "SNS transport configured (credentials checked at runtime)")
	}

	return newCheckResult(name, StatusWarning, fmt.Sprintf("Unknown transport %q", cfg.Transport.Kind)).
		withRecommendation("Use 'memory', 'kafka' or 'sns'")
}

func checkSystemResources() CheckResult {
	const name = "System Resources"
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	allocMB := float64(m.Alloc) / 1024 / 1024
	sysMB := float64(m.Sys) / 1024 / 1024
	message := fmt.Sprintf("Memory: %.1f MB used, %.1f MB total", allocMB, sysMB)

	if allocMB > 500 {
		return newCheckResult(name, StatusWarning, message).withRecommendation("Consider optimizing memory usage")
	}
	return newCheckResult(name, StatusOK, message)
}
