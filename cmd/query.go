package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/pcapcatalog/fields"
	"github.com/Zerofisher/pcapcatalog/pkg/query"
)

// search command flags
var (
	searchPage   int
	searchLimit  int
	searchSort   string
	searchDesc   bool
	searchWhere  string
	searchFields []string
)

var searchCmd = &cobra.Command{
	Use:   "search <protocol>",
	Short: "List captures containing a protocol",
	Long: `Search the index for captures containing a protocol (case-insensitive).
--where filters hits with an expression over the record fields, e.g.
"size_bytes > 1e6 && has('dns')".`,
	Example: `  pcapcatalog search tcp
  pcapcatalog search http --sort protocol_packet_count --desc --limit 20
  pcapcatalog search dns --where "count('dns') > 100"
  pcapcatalog search tls -e filename -e size_bytes -e protocols`,
	Args:    cobra.ExactArgs(1),
	GroupID: "query",
	RunE:    runSearch,
}

// fields command flags
var fieldsFilter string

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "List record fields",
	Long:  `List the record fields available to search -e and --where expressions.`,
	Example: `  pcapcatalog fields
  pcapcatalog fields --filter count`,
	Args:    cobra.NoArgs,
	GroupID: "query",
	RunE:    runFields,
}

var suggestCmd = &cobra.Command{
	Use:     "suggest <prefix>",
	Short:   "Suggest protocol names by prefix",
	Example: `  pcapcatalog suggest ht`,
	Args:    cobra.ExactArgs(1),
	GroupID: "query",
	RunE:    runSuggest,
}

func init() {
	searchCmd.Flags().IntVarP(&searchPage, "page", "p", 1, "Page number")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", query.DefaultLimit, "Results per page")
	searchCmd.Flags().StringVarP(&searchSort, "sort", "s", string(query.SortFilename),
		"Sort field: filename, size_bytes, protocol_packet_count, total_packet_count, path")
	searchCmd.Flags().BoolVarP(&searchDesc, "desc", "d", false, "Sort descending")
	searchCmd.Flags().StringVarP(&searchWhere, "where", "w", "", "Filter expression")
	searchCmd.Flags().StringArrayVarP(&searchFields, "field", "e", nil,
		"Print only these fields, tab-separated (repeatable)")

	fieldsCmd.Flags().StringVar(&fieldsFilter, "filter", "",
		"Filter fields by name pattern")
}

// runSearch prints one page of search hits
func runSearch(cmd *cobra.Command, args []string) error {
	registry := fields.NewRegistry()
	if err := registry.Validate(searchFields); err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Search.Search(cmd.Context(), query.SearchRequest{
		Protocol:   args[0],
		Page:       searchPage,
		Limit:      searchLimit,
		SortBy:     searchSort,
		Descending: searchDesc,
		Where:      searchWhere,
	})
	if err != nil {
		return fmt.Errorf("error searching: %w", err)
	}
	if jsonOutput {
		return printJSON(res)
	}
	if len(searchFields) > 0 {
		for _, hit := range res.Results {
			values := make([]string, len(searchFields))
			for i, name := range searchFields {
				values[i] = registry.ExtractString(name, &hit.CaptureRecord)
			}
			fmt.Println(strings.Join(values, "\t"))
		}
		return nil
	}

	fmt.Printf("%d captures with %s (page %d of %d)\n", res.TotalItems, args[0], res.Page, res.TotalPages)
	if len(res.Results) == 0 {
		return nil
	}
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("%-32s %12s %10s %10s  %s\n", "FILENAME", "SIZE", "PACKETS", "TOTAL", "PATH")
	for _, hit := range res.Results {
		total := "-"
		if hit.TotalPacketCount != nil {
			total = fmt.Sprintf("%d", *hit.TotalPacketCount)
		}
		fmt.Printf("%-32s %12d %10d %10s  %s\n",
			hit.Filename, hit.SizeBytes, hit.ProtocolPacketCount, total, hit.Path)
	}
	return nil
}

// runSuggest prints matching protocol names, one per line
func runSuggest(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	names, err := a.Suggest.Suggest(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("error suggesting: %w", err)
	}
	if jsonOutput {
		return printJSON(names)
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

// runFields lists the record fields
func runFields(cmd *cobra.Command, args []string) error {
	registry := fields.NewRegistry()
	for _, name := range registry.List() {
		if fieldsFilter != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(fieldsFilter)) {
			continue
		}
		info := registry.GetFieldInfo(name)
		if registry.Get(name).Filterable {
			info += "\t(where)"
		}
		fmt.Println(info)
	}
	return nil
}
