package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/spectra/internal/gateway"
	"github.com/andresmejia3/spectra/internal/pipeline"
	"github.com/andresmejia3/spectra/internal/utils"
)

type processOptions struct {
	InputDir  string
	Algorithm string
	Mode      int
	TrackPath string
	Strict    bool
}

var processOpts processOptions

var processCmd = &cobra.Command{
	Use:         "process",
	Short:       "Run one directory of raw frames through the engine",
	Long:        "Stages every file of the input directory, calls the engine once, then writes the database rows, SQL dumps and statistics for the resulting analysis.",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	Run: func(cmd *cobra.Command, args []string) {
		runProcess(cmd, processOpts)
	},
}

func init() {
	processCmd.Flags().StringVarP(&processOpts.InputDir, "input", "i", "", "Directory of raw frame files")
	processCmd.Flags().StringVarP(&processOpts.Algorithm, "algorithm", "a", "", "Engine algorithm name")
	processCmd.Flags().IntVarP(&processOpts.Mode, "mode", "m", int(gateway.ModeMulti), "Engine mode: 0 single, 1 multi, 2 track")
	processCmd.Flags().StringVarP(&processOpts.TrackPath, "track", "t", "", "Track file (required for mode 2)")
	processCmd.Flags().BoolVar(&processOpts.Strict, "strict", false, "Reject feature files with trailing bytes")

	processCmd.MarkFlagRequired("input")
	processCmd.MarkFlagRequired("algorithm")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, opts processOptions) {
	mode, err := gateway.ParseMode(opts.Mode)
	if err != nil {
		utils.Die("Invalid mode", err, "Use 0 (single), 1 (multi) or 2 (track).")
	}

	uploads, closeUploads, err := pipeline.DirUploads(opts.InputDir)
	if err != nil {
		utils.Die("Failed to read input directory", err, "")
	}
	defer closeUploads()
	if len(uploads) == 0 {
		utils.Die("No input files", fmt.Errorf("%s contains no regular files", opts.InputDir), "")
	}

	req := pipeline.Request{Algorithm: opts.Algorithm, Mode: mode, Files: uploads}
	if opts.TrackPath != "" {
		f, err := os.Open(opts.TrackPath)
		if err != nil {
			utils.Die("Failed to open track file", err, "")
		}
		defer f.Close()
		req.Track = &pipeline.Upload{Name: filepath.Base(opts.TrackPath), Body: f}
	}

	p, unload, err := openPipeline(opts.Strict)
	if err != nil {
		utils.Die("Failed to load the engine", err, "Check engine.library in the configuration and LD_LIBRARY_PATH.")
	}
	defer unload()

	if DB == nil {
		fmt.Fprintln(os.Stderr, "⚠️  Running without a database; only SQL dumps will be written.")
	}
	fmt.Fprintf(os.Stderr, "⚙️  Processing %d frames with %s (%s mode)...\n", len(uploads), opts.Algorithm, mode)

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("🔬 Spectra Processing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(100 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				bar.Add(1)
			}
		}
	}()

	res, err := p.Process(cmd.Context(), req)
	close(done)
	bar.Finish()
	if err != nil {
		utils.Die("Processing failed", err, "")
	}

	fmt.Fprintf(os.Stderr, "✅ Analysis %s: %d frames, %d images\n",
		res.AnalysisID, res.FileNumProcessed, len(res.ResultFiles.OutputImageNames))
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		utils.Die("Failed to write result", err, "")
	}
}
