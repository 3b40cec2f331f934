// Package cmd provides the CLI commands for pcapcatalog using Cobra.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/pcapcatalog/internal/app"
	"github.com/Zerofisher/pcapcatalog/internal/config"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// global flags
var (
	configPath string
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "pcapcatalog",
	Short: "Searchable protocol catalog of packet capture files",
	Long: `PcapCatalog indexes the pcap/pcapng files under a directory tree by the
protocols they contain and answers protocol searches over the index:

  - Content-addressed records: identical files are indexed once
  - Incremental, cancellable scans with quick/full extraction
  - Total packet backfill and reconciliation of vanished files
  - Paginated, sorted protocol search and name autocomplete
  - HTTP API with periodic scans and folder watching

Examples:
  pcapcatalog serve                               # Run the HTTP API
  pcapcatalog scan                                # Scan the capture tree once
  pcapcatalog scan --folder site-a                # Re-index one folder
  pcapcatalog search tcp --sort size_bytes --desc # Largest captures with TCP
  pcapcatalog suggest ht                          # Protocol names starting with "ht"`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// Define command groups for organized help output
	rootCmd.AddGroup(
		&cobra.Group{ID: "service", Title: "Service Commands:"},
		&cobra.Group{ID: "index", Title: "Index Commands:"},
		&cobra.Group{ID: "query", Title: "Query Commands:"},
	)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"),
		"Path to the YAML config file (env "+config.EnvPrefix+"CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Print results as JSON")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(suggestCmd)
	rootCmd.AddCommand(fieldsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(reportCmd)
}

// loadConfig reads the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// openApp loads the configuration and wires the catalog.
func openApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, app.Options{})
	if err != nil {
		return nil, fmt.Errorf("error opening catalog: %w", err)
	}
	return a, nil
}
