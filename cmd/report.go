package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/pcapcatalog/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a catalog report",
	Long:  `Summarize the catalog: totals, protocol distribution and the largest captures.`,
	Example: `  pcapcatalog report
  pcapcatalog report -f markdown -o catalog.md
  pcapcatalog report -f json --top 50`,
	Args:    cobra.NoArgs,
	GroupID: "query",
	RunE:    runReport,
}

var (
	reportFormat  string
	reportOutput  string
	reportTop     int
	reportLargest int
)

func init() {
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "text", "Output format: text, markdown, json")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Output file (default: stdout)")
	reportCmd.Flags().IntVar(&reportTop, "top", 20, "Protocols listed (0 = all)")
	reportCmd.Flags().IntVar(&reportLargest, "largest", 10, "Largest captures listed")
}

func runReport(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := report.Generate(cmd.Context(), a.Store, report.Options{
		Root:         a.Config.PcapDirectory,
		TopProtocols: reportTop,
		Largest:      reportLargest,
	})
	if err != nil {
		return fmt.Errorf("generate report: %w", err)
	}

	// Output
	out := os.Stdout
	if reportOutput != "" && reportOutput != "-" {
		out, err = os.Create(reportOutput)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer out.Close()
	}

	format := reportFormat
	if jsonOutput {
		format = "json"
	}
	switch format {
	case "markdown", "md":
		return report.WriteMarkdown(out, data)
	case "json":
		return report.WriteJSON(out, data)
	case "text":
		return report.WriteText(out, data)
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}
