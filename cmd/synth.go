package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/spectra/internal/feature"
	"github.com/andresmejia3/spectra/internal/utils"
)

type synthOptions struct {
	Out        string
	Frames     int
	Categories int
	Interval   time.Duration
	Seed       int64
}

var synthOpts synthOptions

var synthCmd = &cobra.Command{
	Use:   "synth",
	Short: "Generate a synthetic feature file for testing without the engine",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSynth(synthOpts); err != nil {
			utils.Die("Failed to write synthetic feature file", err, "")
		}
		fmt.Fprintf(os.Stderr, "🧪 Wrote %d frames to %s\n", synthOpts.Frames, synthOpts.Out)
	},
}

func init() {
	synthCmd.Flags().StringVarP(&synthOpts.Out, "out", "o", filepath.Join("data", "result", "synthetic", "Feature.dat"), "Output feature file")
	synthCmd.Flags().IntVarP(&synthOpts.Frames, "frames", "n", 10, "Number of frames")
	synthCmd.Flags().IntVarP(&synthOpts.Categories, "categories", "k", 3, "Confidence categories per frame")
	synthCmd.Flags().DurationVar(&synthOpts.Interval, "interval", 40*time.Millisecond, "Time between frames")
	synthCmd.Flags().Int64Var(&synthOpts.Seed, "seed", 1, "Random seed")
	rootCmd.AddCommand(synthCmd)
}

func runSynth(opts synthOptions) error {
	if opts.Frames < 0 || opts.Categories < 0 {
		return fmt.Errorf("frames and categories must not be negative")
	}
	defs, err := definitions()
	if err != nil {
		return err
	}
	cs := feature.Synthesize(defs, feature.SynthOptions{
		Frames:     opts.Frames,
		Categories: opts.Categories,
		Start:      time.Now(),
		Interval:   opts.Interval,
		Seed:       opts.Seed,
	})

	if err := os.MkdirAll(filepath.Dir(opts.Out), 0o755); err != nil {
		return err
	}
	f, err := os.Create(opts.Out)
	if err != nil {
		return err
	}
	if err := feature.Encode(f, defs, int32(opts.Frames), int32(opts.Categories), cs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
