package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/strixsec/strix/internal/worker"
	"github.com/strixsec/strix/pkg/types"
)

var shellsCmd = &cobra.Command{
	Use:   "shells",
	Short: "List exploited-session handles",
	Long: `Display every shell a scan session obtained. With --live the shells
are rehydrated with an HTTP transport and a worker pool, ready to run
commands against the target.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.WithComponent("shells")

		live, _ := cmd.Flags().GetBool("live")
		output, _ := cmd.Flags().GetString("output")

		ctx := GetContext()
		start := time.Now()

		var (
			opener types.Opener
			runner types.Runner
		)
		if live {
			pool := worker.NewPool(ctx, cfg.Worker.Count, log)
			defer pool.Wait()
			opener = &http.Client{Timeout: 30 * time.Second}
			runner = pool
		}

		shells, err := store.GetAllShells(ctx, opener, runner)
		if err != nil {
			logger.LogError(ctx, err, "shells")
			return fmt.Errorf("failed to read shells: %w", err)
		}

		if output == "json" {
			jsonData, _ := json.MarshalIndent(shells, "", "  ")
			fmt.Println(string(jsonData))
		} else {
			printShells(shells)
		}

		logger.LogDuration(ctx, "shells", start,
			"count", len(shells),
			"live", live,
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(shellsCmd)

	shellsCmd.Flags().Bool("live", false, "Rehydrate shells with live resources")
	shellsCmd.Flags().String("output", "text", "Output format (text, json)")
}

func printShells(shells []*types.Shell) {
	if len(shells) == 0 {
		fmt.Println("No shells recorded")
		return
	}

	fmt.Printf("Shells (%d)\n", len(shells))
	for _, s := range shells {
		state := "stored"
		if s.Live() {
			state = "live"
		}
		fmt.Printf("• %s [%s]\n", s.ID, state)
		fmt.Printf("  Plugin: %s | URL: %s\n", s.Plugin, s.SourceURL)
		if s.Command != "" {
			fmt.Printf("  Vector: %s\n", s.Command)
		}
	}
}
