package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/spectra/internal/utils"
)

var (
	resetDB       bool
	resetFiles    bool
	resetStats    bool
	resetAnalysis string
)

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset system state (Database, Results, Statistics)",
	Long:        "Clears all data. By default, it resets everything. Use flags to clear specific components, or --analysis to remove a single analysis.",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	Run: func(cmd *cobra.Command, args []string) {
		reader := bufio.NewReader(os.Stdin)

		if resetAnalysis != "" {
			removeAnalysis(cmd, reader, resetAnalysis)
			return
		}

		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles && !resetStats {
			resetDB, resetFiles, resetStats = true, true, true
		}

		if resetDB {
			if DB == nil {
				fmt.Fprintln(os.Stderr, "⚠️  No database connection; skipping database reset.")
			} else if confirm(reader, "⚠️  Are you sure you want to DROP all database tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, "")
				}
			}
		}

		if resetFiles {
			if confirm(reader, "⚠️  Are you sure you want to delete all result images, feature files and SQL dumps?") {
				fmt.Println("🗑️  Clearing Results and Staging...")
				removeDir(Cfg.Paths.ResultRoot)
				removeDir(Cfg.Paths.StagingRoot)
			}
		}

		if resetStats {
			if confirm(reader, "⚠️  Are you sure you want to delete the statistics script?") {
				fmt.Println("🗑️  Clearing Statistics...")
				removeDir(Cfg.Paths.StatisticsFile)
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Clear PostgreSQL database")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear result and staging directories")
	resetCmd.Flags().BoolVar(&resetStats, "statistics", false, "Delete the statistics script")
	resetCmd.Flags().StringVar(&resetAnalysis, "analysis", "", "Remove one analysis (rows and result directory) instead")
	rootCmd.AddCommand(resetCmd)
}

func removeAnalysis(cmd *cobra.Command, reader *bufio.Reader, id string) {
	if err := utils.SafeName(id); err != nil {
		utils.Die("Invalid analysis id", err, "")
	}
	if !confirm(reader, fmt.Sprintf("⚠️  Remove analysis %s?", id)) {
		return
	}
	if DB != nil {
		found, err := DB.DeleteAnalysis(cmd.Context(), id)
		if err != nil {
			utils.Die("Failed to delete analysis", err, "")
		}
		if !found {
			fmt.Fprintf(os.Stderr, "⚠️  Analysis %s is not in the database.\n", id)
		}
	}
	removeDir(filepath.Join(Cfg.Paths.ResultRoot, id))
	fmt.Printf("🗑️  Analysis %s removed.\n", id)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
