package cmd

import (
	"log/slog"
	"path/filepath"

	"github.com/andresmejia3/spectra/internal/config"
	"github.com/andresmejia3/spectra/internal/dump"
	"github.com/andresmejia3/spectra/internal/feature"
	"github.com/andresmejia3/spectra/internal/gateway"
	"github.com/andresmejia3/spectra/internal/native"
	"github.com/andresmejia3/spectra/internal/pipeline"
	"github.com/andresmejia3/spectra/internal/stats"
)

// definitions returns the configured feature layout, or the built-in one.
func definitions() ([]feature.Definition, error) {
	if Cfg.Features.File == "" {
		return feature.DefaultDefinitions(), nil
	}
	return feature.LoadDefinitions(Cfg.Features.File)
}

func newDecoder(strict bool) (*feature.Decoder, error) {
	defs, err := definitions()
	if err != nil {
		return nil, err
	}
	opts := []feature.Option{feature.WithLogger(slog.Default())}
	if strict {
		opts = append(opts, feature.WithStrict())
	}
	return feature.NewDecoder(defs, opts...), nil
}

// regionStore reads the region from the database when connected.
func regionStore() *config.RegionStore {
	if DB == nil {
		return config.NewRegionStore(nil, Cfg.Region.File, slog.Default())
	}
	return config.NewRegionStore(DB, Cfg.Region.File, slog.Default())
}

// openPipeline loads the engine library and wires the processing pipeline.
// The returned func unloads the library.
func openPipeline(strict bool) (*pipeline.Pipeline, func(), error) {
	lib, err := native.Open(Cfg.Engine.Library)
	if err != nil {
		return nil, func() {}, err
	}
	unload := func() {
		if err := lib.Close(); err != nil {
			slog.Warn("failed to unload engine library", "error", err)
		}
	}

	decoder, err := newDecoder(strict)
	if err != nil {
		unload()
		return nil, func() {}, err
	}

	logger := slog.Default()
	deps := pipeline.Deps{
		Gateway: gateway.New(gateway.NewLibraryEngine(lib), logger, Metrics),
		Decoder: decoder,
		Dumps:   dump.NewWriter(Cfg.Paths.ResultRoot, Cfg.Dump.ChunkSize, logger, Metrics),
		Stats:   stats.NewAppender(Cfg.Paths.StatisticsFile, logger, Metrics),
		Region:  regionStore(),
		Logger:  logger,
		Metrics: Metrics,
	}
	if DB != nil {
		deps.Store = DB
	}

	p := pipeline.New(pipeline.Options{
		ResultRoot:  Cfg.Paths.ResultRoot,
		StagingRoot: Cfg.Paths.StagingRoot,
		ParamPath:   Cfg.Engine.ParamPath,
		ImgType:     Cfg.Engine.ImgType,
		Watchdog:    Cfg.Pipeline.Watchdog,
	}, deps)
	slog.Info("engine loaded", "library", lib.Path(), "result_root", filepath.Clean(Cfg.Paths.ResultRoot))
	return p, unload, nil
}
