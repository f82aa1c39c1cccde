package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docpipe/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "docpipe",
	Short: "Asynchronous timetable document processing pipeline",
	Long:  "Accepts uploaded timetable documents, runs OCR with a confidence quality gate, escalates low-confidence pages to AI vision extraction, and streams per-document progress.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
