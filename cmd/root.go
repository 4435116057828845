package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strixsec/strix/internal/config"
	"github.com/strixsec/strix/internal/database"
	"github.com/strixsec/strix/internal/kb"
	"github.com/strixsec/strix/internal/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
	db      *database.DB
	store   *kb.KnowledgeBase
)

var rootCmd = &cobra.Command{
	Use:   "strix",
	Short: "Web vulnerability scan knowledge base",
	Long: `Strix - shared state store for web vulnerability scanning.

Plugins exchange findings through a persistent, deduplicating knowledge
base. This CLI reads a scan session's store for reporting: severity
partitioned findings and full address-space dumps.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logger.Level = level
		}
		if table, _ := cmd.Flags().GetString("table"); table != "" {
			cfg.KnowledgeBase.Table = table
		}

		log, err = logger.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		db, err = database.Open(cfg.Database, log)
		if err != nil {
			return err
		}

		store = kb.New(db, log, kb.Config{
			TablePrefix:      cfg.KnowledgeBase.TablePrefix,
			Table:            cfg.KnowledgeBase.Table,
			StrictPrimitives: cfg.KnowledgeBase.StrictPrimitives,
		})
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if db != nil {
			return db.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .strix.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("table", "", "attach to an existing session table")
}

// GetContext returns the context CLI operations run under.
func GetContext() context.Context {
	return context.Background()
}

func Execute() error {
	return rootCmd.Execute()
}
