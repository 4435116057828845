package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the whole knowledge base",
	Long: `Print every record in the store grouped by its two-level address.

Examples:
  strix dump --table kb_3fa85f64
  strix dump --output json > session.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.WithComponent("dump")

		output, _ := cmd.Flags().GetString("output")

		ctx := GetContext()
		start := time.Now()

		snapshot, err := store.Dump(ctx)
		if err != nil {
			logger.LogError(ctx, err, "dump")
			return fmt.Errorf("failed to dump store: %w", err)
		}

		if output == "json" {
			jsonData, _ := json.MarshalIndent(snapshot, "", "  ")
			fmt.Println(string(jsonData))
		} else {
			printDump(snapshot)
		}

		logger.LogDuration(ctx, "dump", start,
			"locations", len(snapshot),
			"table", store.Table(),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().String("output", "text", "Output format (text, json)")
}

func printDump(snapshot map[string]map[string][]interface{}) {
	if len(snapshot) == 0 {
		fmt.Println("Store is empty")
		return
	}

	locAs := make([]string, 0, len(snapshot))
	for locA := range snapshot {
		locAs = append(locAs, locA)
	}
	sort.Strings(locAs)

	for _, locA := range locAs {
		fmt.Printf("%s\n", locA)
		locBs := make([]string, 0, len(snapshot[locA]))
		for locB := range snapshot[locA] {
			locBs = append(locBs, locB)
		}
		sort.Strings(locBs)

		for _, locB := range locBs {
			values := snapshot[locA][locB]
			fmt.Printf("  %s (%d records)\n", locB, len(values))
			for _, v := range values {
				fmt.Printf("    %v\n", v)
			}
		}
	}
}
