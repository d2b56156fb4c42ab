package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/rag-evaluator/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "rag-eval",
	Short: "Human evaluation form for eAMR RAG pipelines",
	Long:  "Sends reviewer questions to one of two retrieval-augmented pipelines, collects rubric scores for the answer, and appends them to a shared spreadsheet log.",
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
