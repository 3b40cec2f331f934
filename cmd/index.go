package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// scan command flags
var (
	scanFolder  string
	scanExclude []string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the capture tree and update the index",
	Long: `Walk the capture directory, index new or changed captures and relocate moved
ones. Unchanged captures are skipped. Ctrl-C cancels before the next file.`,
	Example: `  pcapcatalog scan
  pcapcatalog scan --folder site-a
  pcapcatalog scan --exclude scratch.pcap --exclude tmp.pcap`,
	Args:    cobra.NoArgs,
	GroupID: "index",
	RunE:    runScan,
}

var backfillCmd = &cobra.Command{
	Use:     "backfill",
	Short:   "Fill in total packet counts of indexed captures",
	Long:    `Compute total_packet_count for every record, re-reading truncated quick extractions in full.`,
	Example: `  pcapcatalog backfill`,
	Args:    cobra.NoArgs,
	GroupID: "index",
	RunE:    runBackfill,
}

var pruneCmd = &cobra.Command{
	Use:     "prune",
	Short:   "Remove records whose capture file is gone or changed",
	Example: `  pcapcatalog prune`,
	Args:    cobra.NoArgs,
	GroupID: "index",
	RunE:    runPrune,
}

func init() {
	scanCmd.Flags().StringVarP(&scanFolder, "folder", "f", "",
		"Only scan directories with this name")
	scanCmd.Flags().StringSliceVarP(&scanExclude, "exclude", "x", nil,
		"File names to skip (repeatable)")
}

// runScan runs one synchronous scan
func runScan(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Scanner.Run(cmd.Context(), a.ScanOptions(scanFolder, scanExclude))
	if err != nil {
		return fmt.Errorf("error scanning: %w", err)
	}
	if jsonOutput {
		return printJSON(res)
	}

	fmt.Printf("Status:    %s\n", res.Status)
	fmt.Printf("Indexed:   %d\n", res.IndexedFiles)
	fmt.Printf("Relocated: %d\n", res.Relocated)
	fmt.Printf("Skipped:   %d\n", res.Skipped)
	fmt.Printf("Failed:    %d\n", res.Failed)
	if res.Message != "" {
		fmt.Println(res.Message)
	}
	return nil
}

// runBackfill runs one synchronous backfill
func runBackfill(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Backfiller.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("error backfilling: %w", err)
	}
	if jsonOutput {
		return printJSON(res)
	}

	fmt.Printf("Processed:   %d\n", res.Processed)
	fmt.Printf("Updated:     %d\n", res.Updated)
	fmt.Printf("Reextracted: %d\n", res.Reextracted)
	fmt.Printf("Failed:      %d\n", res.Failed)
	if res.Cancelled {
		fmt.Println("Backfill cancelled.")
	}
	return nil
}

// runPrune runs one synchronous reconciliation pass
func runPrune(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Scanner.Prune(cmd.Context())
	if err != nil {
		return fmt.Errorf("error pruning: %w", err)
	}
	if jsonOutput {
		return printJSON(res)
	}

	fmt.Printf("Checked: %d\n", res.Checked)
	fmt.Printf("Removed: %d\n", res.Removed)
	fmt.Printf("Failed:  %d\n", res.Failed)
	if res.Cancelled {
		fmt.Println("Reconciliation cancelled.")
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
