package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/spectra/internal/server"
	"github.com/andresmejia3/spectra/internal/utils"
)

var (
	serveAddr   string
	serveStrict bool
)

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Serve the HTTP API in front of the native engine",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	Run: func(cmd *cobra.Command, args []string) {
		addr := Cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		opts := server.Options{
			Regions: regionStore(),
			Logs:    Logs,
			Metrics: Metrics,
			Logger:  slog.Default(),
		}
		p, unload, err := openPipeline(serveStrict)
		if err != nil {
			// The API still answers health and configuration requests.
			slog.Error("engine unavailable, processing routes will answer 503", "error", err)
			opts.Unavailable = err
		} else {
			defer unload()
			opts.Pipeline = p
		}

		fmt.Fprintf(os.Stderr, "🛰️  Spectra listening on %s\n", addr)
		if err := server.New(opts).ListenAndServe(cmd.Context(), addr); err != nil {
			utils.Die("HTTP server stopped", err, "Is another process bound to "+addr+"?")
		}
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "Listen address (default from config, :8080)")
	serveCmd.Flags().BoolVar(&serveStrict, "strict", false, "Reject feature files with trailing bytes")
	rootCmd.AddCommand(serveCmd)
}
