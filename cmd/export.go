package main

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/rag-evaluator/internal/evallog"
	"github.com/sells-group/rag-evaluator/internal/model"
)

var (
	exportExaminer string
	exportModel    string
	exportOutput   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the filtered evaluation log to an xlsx file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("export"); err != nil {
			return err
		}
		if exportModel != "" && exportModel != evallog.All {
			if _, err := model.ParsePipeline(exportModel); err != nil {
				return err
			}
		}

		store, err := initStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		return runExport(cmd, store, evallog.Filter{Examiner: exportExaminer, Model: exportModel}, exportOutput)
	},
}

func runExport(cmd *cobra.Command, store *evallog.Store, f evallog.Filter, out string) error {
	snap, err := store.Load(cmd.Context())
	if err != nil {
		return err
	}
	if !snap.Exists() {
		zap.L().Warn("log file not found", zap.String("backend", store.Backend().Name()))
	}

	rows := f.Apply(snap.Log)
	data, err := evallog.Encode(rows)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "create %s", dir)
		}
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return eris.Wrapf(err, "write %s", out)
	}

	zap.L().Info("log exported",
		zap.String("path", out),
		zap.Int("rows", len(rows)),
		zap.Int("total", len(snap.Log)),
	)
	cmd.Printf("wrote %d of %d evaluations to %s\n", len(rows), len(snap.Log), out)
	return nil
}

func init() {
	exportCmd.Flags().StringVar(&exportExaminer, "examiner", evallog.All, "only rows by this examiner")
	exportCmd.Flags().StringVar(&exportModel, "model", evallog.All, "only rows for this pipeline (PipelineA or PipelineB)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", evallog.ExportFilename, "output file")
	rootCmd.AddCommand(exportCmd)
}
