package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/spectra/internal/stats"
	"github.com/andresmejia3/spectra/internal/utils"
)

var (
	decodeStrict  bool
	decodeSummary bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode <Feature.dat>",
	Short: "Decode a feature file and print its columns as JSON",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dec, err := newDecoder(decodeStrict)
		if err != nil {
			utils.Die("Failed to load feature definitions", err, "")
		}
		cols, err := dec.Decode(args[0])
		if err != nil {
			utils.Die("Failed to decode feature file", err, "Pass --strict=false to tolerate trailing bytes.")
		}
		fmt.Fprintf(os.Stderr, "📄 %d frames, %d columns\n", cols.Frames(), cols.Len())

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		var out any = cols
		if decodeSummary {
			out = stats.Compute(transposeFile(args[0], cols).Records)
		}
		if err := enc.Encode(out); err != nil {
			utils.Die("Failed to write JSON", err, "")
		}
	},
}

func init() {
	decodeCmd.Flags().BoolVar(&decodeStrict, "strict", false, "Reject trailing bytes after the last column")
	decodeCmd.Flags().BoolVarP(&decodeSummary, "summary", "s", false, "Print the batch statistics instead of the columns")
	rootCmd.AddCommand(decodeCmd)
}
