package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mumose/contract-labeling-with-TOC/internal/engine"
)

// Manifest lists the documents of a batch run. Relative paths are
// resolved against the manifest's directory.
type Manifest struct {
	Documents []ManifestEntry `yaml:"documents"`
}

type ManifestEntry struct {
	DocID     string `yaml:"doc_id"`
	Outline   string `yaml:"outline"`
	Detection string `yaml:"detection"`
}

var (
	batchManifest    string
	batchOut         string
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Align every document listed in a manifest",
	Long: `Batch aligns many contracts concurrently. The manifest is YAML:

  documents:
    - doc_id: acme-msa
      outline: acme/toc.html
      detection: acme/ocr.json

With --out each result is written to DIR/<doc_id>.<format>; otherwise all
results are printed. A document that fails keeps its error on its result
and does not stop the batch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := cfgManager.Get()
		if err := cfg.Validate(); err != nil {
			return err
		}
		concurrency := cfg.Batch.Concurrency
		if batchConcurrency > 0 {
			concurrency = batchConcurrency
		}

		manifest, err := LoadManifest(batchManifest)
		if err != nil {
			return err
		}
		docs, err := manifest.Load(filepath.Dir(batchManifest))
		if err != nil {
			return err
		}

		eng, err := newEngine(cfg.EngineParams())
		if err != nil {
			return err
		}
		results, err := eng.RunBatch(cmd.Context(), docs, concurrency)
		if err != nil {
			return err
		}

		failed := 0
		for _, res := range results {
			if res.Error != "" {
				failed++
				logger.Warn("document failed", "doc_id", res.DocID, "error", res.Error)
			}
		}
		logger.Info("batch done", "documents", len(results), "failed", failed, "concurrency", concurrency)

		if batchOut == "" {
			return Output(cmd.OutOrStdout(), results)
		}
		return writeResults(batchOut, results)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchManifest, "manifest", "", "YAML manifest listing the documents")
	batchCmd.Flags().StringVar(&batchOut, "out", "", "directory to write one result file per document")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "documents aligned at once (default: batch.concurrency)")
	_ = batchCmd.MarkFlagRequired("manifest")

	rootCmd.AddCommand(batchCmd)
}

// LoadManifest reads and checks a batch manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Documents) == 0 {
		return nil, fmt.Errorf("manifest %s lists no documents", path)
	}
	seen := make(map[string]bool, len(m.Documents))
	for i := range m.Documents {
		e := &m.Documents[i]
		if e.Outline == "" || e.Detection == "" {
			return nil, fmt.Errorf("manifest entry %d: outline and detection are required", i)
		}
		if e.DocID == "" {
			e.DocID = docIDFromPath(e.Detection)
		}
		if seen[e.DocID] {
			return nil, fmt.Errorf("manifest entry %d: duplicate doc_id %q", i, e.DocID)
		}
		seen[e.DocID] = true
	}
	return &m, nil
}

// Load reads every entry. A file that cannot be read fails the whole
// batch before any alignment starts.
func (m *Manifest) Load(baseDir string) ([]engine.Document, error) {
	docs := make([]engine.Document, 0, len(m.Documents))
	for _, e := range m.Documents {
		doc, err := engine.Load(e.DocID, resolve(baseDir, e.Outline), resolve(baseDir, e.Detection))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.DocID, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func writeResults(dir string, results []*engine.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, res := range results {
		path := filepath.Join(dir, filepath.Base(res.DocID)+"."+string(globalOutputFormat))
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		err = OutputTo(f, globalOutputFormat, res)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}
