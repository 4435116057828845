package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/strixsec/strix/pkg/types"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Show findings from the knowledge base",
	Long: `Display the findings a scan session recorded, partitioned by severity.

Vulnerabilities are records with severity low, medium or high; everything
stored at severity "information" is listed separately.

Examples:
  strix results --table kb_3fa85f64
  strix results --severity vuln --output json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.WithComponent("results")

		severity, _ := cmd.Flags().GetString("severity")
		output, _ := cmd.Flags().GetString("output")

		ctx := GetContext()
		start := time.Now()

		var vulns, infos []types.Finding
		var err error

		if severity == "all" || severity == "vuln" {
			vulns, err = store.GetAllVulns(ctx)
			if err != nil {
				logger.LogError(ctx, err, "results.GetAllVulns")
				return fmt.Errorf("failed to read vulnerabilities: %w", err)
			}
		}
		if severity == "all" || severity == "info" {
			infos, err = store.GetAllInfos(ctx)
			if err != nil {
				logger.LogError(ctx, err, "results.GetAllInfos")
				return fmt.Errorf("failed to read informational findings: %w", err)
			}
		}

		if output == "json" {
			result := map[string]interface{}{
				"vulnerabilities": vulns,
				"informational":   infos,
			}
			jsonData, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(jsonData))
		} else {
			printFindings(vulns, infos)
		}

		logger.LogDuration(ctx, "results", start,
			"vulnerabilities", len(vulns),
			"informational", len(infos),
			"table", store.Table(),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resultsCmd)

	resultsCmd.Flags().String("severity", "all", "Which partition to show (all, vuln, info)")
	resultsCmd.Flags().String("output", "text", "Output format (text, json)")
}

func printFindings(vulns, infos []types.Finding) {
	if len(vulns) == 0 && len(infos) == 0 {
		fmt.Println("No findings recorded")
		return
	}

	if len(vulns) > 0 {
		fmt.Printf("Vulnerabilities (%d)\n", len(vulns))
		fmt.Println(strings.Repeat("─", 40))
		for _, f := range vulns {
			printFinding(f)
		}
		fmt.Println()
	}

	if len(infos) > 0 {
		fmt.Printf("Informational (%d)\n", len(infos))
		fmt.Println(strings.Repeat("─", 40))
		for _, f := range infos {
			printFinding(f)
		}
	}
}

func printFinding(f types.Finding) {
	switch v := f.(type) {
	case *types.Info:
		fmt.Printf("• [%s] %s\n", severityColor(v.Level)(strings.ToUpper(string(v.Level))), v.Title)
		fmt.Printf("  Plugin: %s | URL: %s\n", v.Plugin, v.SourceURL)
		if v.Description != "" {
			fmt.Printf("  %s\n", v.Description)
		}
	case *types.InfoSet:
		first := v.First()
		fmt.Printf("• [%s] %s (%d occurrences)\n",
			severityColor(v.Severity())(strings.ToUpper(string(v.Severity()))), first.Title, v.Len())
		fmt.Printf("  Plugin: %s | URL: %s\n", first.Plugin, first.URL())
	default:
		fmt.Printf("• [%s] %s\n", f.Kind(), f.UniqID())
	}
}

func severityColor(severity types.Severity) func(a ...interface{}) string {
	switch severity {
	case types.SeverityHigh:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case types.SeverityMedium:
		return color.New(color.FgYellow).SprintFunc()
	case types.SeverityLow:
		return color.New(color.FgCyan).SprintFunc()
	default:
		return color.New(color.FgWhite).SprintFunc()
	}
}
