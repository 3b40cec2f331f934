package cmd

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and PCAPCAT_*
environment overrides are applied. Secrets are redacted.`,
	Example: `  pcapcatalog config
  PCAPCAT_SCAN_MODE=quick pcapcatalog config`,
	Args:    cobra.NoArgs,
	GroupID: "service",
	RunE:    runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Redis.Password != "" {
		cfg.Store.Redis.Password = "REDACTED"
	}
	if u, err := url.Parse(cfg.Store.Redis.URL); err == nil && cfg.Store.Redis.URL != "" {
		cfg.Store.Redis.URL = u.Redacted()
	}
	if jsonOutput {
		return printJSON(cfg)
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("error encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	fmt.Printf("# scan config_version: %s\n", cfg.ScanPolicy().ConfigVersion)
	return nil
}
