package main

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mumose/contract-labeling-with-TOC/internal/engine"
)

var (
	alignOutline   string
	alignDetection string
	alignDocID     string
)

var alignCmd = &cobra.Command{
	Use:   "align",
	Short: "Align one contract's contents with its OCR output",
	Long: `Align reads a contents table and the OCR detections of one contract and
prints, for every label, the page, line span and bounding box where it
starts. Labels that could not be placed are listed as unmatched.

Examples:
  tocalign align --outline toc.html --detection ocr.json
  tocalign align --outline toc.csv --detection contract.pdf -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := cfgManager.Get()
		if err := cfg.Validate(); err != nil {
			return err
		}
		eng, err := newEngine(cfg.EngineParams())
		if err != nil {
			return err
		}

		docID := alignDocID
		if docID == "" {
			docID = docIDFromPath(alignDetection)
		}
		doc, err := engine.Load(docID, alignOutline, alignDetection)
		if err != nil {
			return err
		}

		res, err := eng.Run(cmd.Context(), doc)
		if err != nil {
			return err
		}
		logger.Info("aligned",
			"doc_id", res.DocID,
			"labels", res.Stats.Labels,
			"matched", res.Stats.Matched,
			"unmatched", res.Stats.Unmatched,
		)
		return Output(cmd.OutOrStdout(), res)
	},
}

func init() {
	alignCmd.Flags().StringVar(&alignOutline, "outline", "", "contents table file (.html, .md, .docx, .csv, .txt)")
	alignCmd.Flags().StringVar(&alignDetection, "detection", "", "OCR detections (.json) or text PDF")
	alignCmd.Flags().StringVar(&alignDocID, "doc-id", "", "document ID (default: detection file name)")
	_ = alignCmd.MarkFlagRequired("outline")
	_ = alignCmd.MarkFlagRequired("detection")

	rootCmd.AddCommand(alignCmd)
}

// newEngine builds an engine that logs each stage at debug level.
func newEngine(p engine.Params) (*engine.Engine, error) {
	return engine.New(p, engine.WithStageObserver(func(stage string, d time.Duration) {
		logger.Debug("stage done", "stage", stage, "duration_ms", d.Milliseconds())
	}))
}

func docIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
