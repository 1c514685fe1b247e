package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/spectra/internal/utils"
)

var listCmd = &cobra.Command{
	Use:         "list",
	Short:       "List all analyses recorded in the database",
	Annotations: map[string]string{dbAnnotation: dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		runList(cmd)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command) {
	analyses, err := DB.ListAnalyses(cmd.Context())
	if err != nil {
		utils.Die("Failed to list analyses", err, "")
	}

	if len(analyses) == 0 {
		fmt.Println("No analyses found in database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tFRAMES\tCREATED\tRESULT PATH")
	fmt.Fprintln(w, "--\t------\t-------\t-----------")

	for _, a := range analyses {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", a.ID, a.Frames, a.CreatedAt.Local().Format("2006-01-02 15:04"), a.ResultPath)
	}
	w.Flush()
}
