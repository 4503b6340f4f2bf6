package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mumose/contract-labeling-with-TOC/internal/config"
)

var (
	cfgFile      string
	outputFormat string
	logLevel     string

	cfgManager *config.Manager
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tocalign",
	Short: "Align contract tables of contents with OCR output",
	Long: `tocalign finds where each table-of-contents entry of a contract starts
in the document's OCR output.

It reads the contents table (HTML, Markdown, DOCX, CSV or text), extracts
the section outline, merges the OCR lines, and fuzzy-matches every
section and subsection title to the line span and bounding box where it
appears.`,
	Version:      gitRelease,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := SetOutputFormat(outputFormat); err != nil {
			return err
		}

		m, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfgManager = m

		level := m.Get().LogLevel
		if logLevel != "" {
			level = logLevel
		}
		lvl, err := parseLevel(level)
		if err != nil {
			return err
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
		if f := m.ConfigFile(); f != "" {
			logger.Debug("loaded config", "file", f)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./tocalign.yaml or ~/.tocalign/tocalign.yaml)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "", "log level: debug, info, warn or error (overrides log_level)",
	)

	rootCmd.AddCommand(versionCmd)
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}
