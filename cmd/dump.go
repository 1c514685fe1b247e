package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/spectra/internal/dump"
	"github.com/andresmejia3/spectra/internal/feature"
	"github.com/andresmejia3/spectra/internal/frame"
	"github.com/andresmejia3/spectra/internal/pipeline"
	"github.com/andresmejia3/spectra/internal/stats"
	"github.com/andresmejia3/spectra/internal/types"
	"github.com/andresmejia3/spectra/internal/utils"
)

type dumpOptions struct {
	RawDir     string
	OutDir     string
	ChunkSize  int
	Statistics bool
}

var dumpOpts dumpOptions

var dumpCmd = &cobra.Command{
	Use:   "dump <Feature.dat>",
	Short: "Write the SQL import and frame-data scripts for an existing feature file",
	Long:  "Decodes a feature file produced earlier and regenerates {id}_db_import.sql and {id}_frame_data.sql. The analysis id is the name of the directory holding the feature file.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runDump(cmd, args[0], dumpOpts)
	},
}

func init() {
	dumpCmd.Flags().StringVarP(&dumpOpts.RawDir, "raw", "r", "", "Directory of the raw frame files to embed, in natural order")
	dumpCmd.Flags().StringVarP(&dumpOpts.OutDir, "out", "o", "", "Output root (default: the configured result root)")
	dumpCmd.Flags().IntVar(&dumpOpts.ChunkSize, "chunk-size", 0, "Hex blob chunk size in bytes (default from config)")
	dumpCmd.Flags().BoolVar(&dumpOpts.Statistics, "statistics", false, "Also append the batch summary to the statistics file")
	rootCmd.AddCommand(dumpCmd)
}

// rawFiles lists the regular files of dir in natural order.
func rawFiles(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	utils.SortNatural(names)
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

func transposeFile(path string, cols *feature.ColumnSet) *frame.Batch {
	raw, err := rawFiles(dumpOpts.RawDir)
	if err != nil {
		utils.Die("Failed to list raw files", err, "")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return frame.Transpose(cols, pipeline.AnalysisID(abs), raw, slog.Default())
}

func runDump(cmd *cobra.Command, path string, opts dumpOptions) {
	dec, err := newDecoder(false)
	if err != nil {
		utils.Die("Failed to load feature definitions", err, "")
	}
	cols, err := dec.Decode(path)
	if err != nil {
		utils.Die("Failed to decode feature file", err, "")
	}
	batch := transposeFile(path, cols)
	if batch.Len() == 0 {
		fmt.Fprintln(os.Stderr, "⚠️  Feature file has no frames; writing empty scripts.")
	}

	root := opts.OutDir
	if root == "" {
		root = Cfg.Paths.ResultRoot
	}
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = Cfg.Dump.ChunkSize
	}
	w := dump.NewWriter(root, chunk, slog.Default(), Metrics)

	bar := progressbar.NewOptions(batch.Len(),
		progressbar.OptionSetDescription("💾 Writing frame data"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	w.OnFrame = func(done, total int) { bar.Set(done) }

	analysis := types.Analysis{ID: batch.AnalysisID, ResultPath: filepath.Dir(path), Frames: batch.Len()}
	if abs, err := filepath.Abs(analysis.ResultPath); err == nil {
		analysis.ResultPath = abs
	}
	importPath, err := w.WriteImport(cmd.Context(), analysis, batch.Records)
	if err != nil {
		utils.Die("Failed to write import script", err, "")
	}
	framePath, err := w.WriteFrameData(cmd.Context(), batch.AnalysisID, batch.Records)
	if err != nil {
		utils.Die("Failed to write frame data script", err, "")
	}
	bar.Finish()

	if opts.Statistics {
		a := stats.NewAppender(Cfg.Paths.StatisticsFile, slog.Default(), Metrics)
		if err := a.Append(batch.AnalysisID, stats.Compute(batch.Records)); err != nil {
			utils.Die("Failed to append statistics", err, "")
		}
	}

	fmt.Fprintf(os.Stderr, "\n✅ %s\n✅ %s\n", importPath, framePath)
}
