// Package pipeline runs one processing request end to end: stage the uploads, call the
// engine, decode and transpose its features, persist them and report the result.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/andresmejia3/spectra/internal/dump"
	"github.com/andresmejia3/spectra/internal/errors"
	"github.com/andresmejia3/spectra/internal/feature"
	"github.com/andresmejia3/spectra/internal/frame"
	"github.com/andresmejia3/spectra/internal/gateway"
	"github.com/andresmejia3/spectra/internal/metrics"
	"github.com/andresmejia3/spectra/internal/stats"
	"github.com/andresmejia3/spectra/internal/types"
	"github.com/andresmejia3/spectra/internal/utils"
)

// FeatureFile is the name the engine gives its feature output.
const FeatureFile = "Feature.dat"

// ImageDir is the staging subdirectory the engine reads frames from.
const ImageDir = "IMG0"

// ErrNotFound is returned for missing result files.
var ErrNotFound = errors.New("result file not found")

// ErrWatchdog means the engine did not answer within the configured watchdog.
var ErrWatchdog = errors.New("engine did not answer in time")

// FrameStore receives decoded frames. *store.Store implements it.
type FrameStore interface {
	InsertFrames(ctx context.Context, analysis types.Analysis, records []frame.Record) error
}

// RegionSource supplies the crop region. *config.RegionStore implements it.
type RegionSource interface {
	Get(ctx context.Context) (types.Region, error)
}

// Options configure a Pipeline.
type Options struct {
	ResultRoot  string
	StagingRoot string
	ParamPath   string
	ImgType     int
	// Watchdog bounds how long Process waits for the engine. Zero waits forever.
	Watchdog time.Duration
}

// Pipeline wires the gateway, decoder, persistence and statistics together.
type Pipeline struct {
	opts    Options
	gateway *gateway.Gateway
	decoder *feature.Decoder
	dumps   *dump.Writer
	stats   *stats.Appender
	store   FrameStore
	region  RegionSource
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Deps are the collaborators of a Pipeline. Store, Region, Stats and Metrics may be nil.
type Deps struct {
	Gateway *gateway.Gateway
	Decoder *feature.Decoder
	Dumps   *dump.Writer
	Stats   *stats.Appender
	Store   FrameStore
	Region  RegionSource
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// New creates a pipeline.
func New(opts Options, d Deps) *Pipeline {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		opts:    opts,
		gateway: d.Gateway,
		decoder: d.Decoder,
		dumps:   d.Dumps,
		stats:   d.Stats,
		store:   d.Store,
		region:  d.Region,
		logger:  logger.With("component", "pipeline"),
		metrics: d.Metrics,
	}
}

// ResultRoot is where the engine writes its output directories.
func (p *Pipeline) ResultRoot() string { return p.opts.ResultRoot }

// Upload is one named input stream.
type Upload struct {
	Name string
	Body io.Reader
}

// Request is one multi-frame processing request.
type Request struct {
	Algorithm string
	Mode      gateway.Mode
	Files     []Upload
	Track     *Upload
}

// Process stages req, runs the engine and persists the decoded frames.
// The staging directory is removed on every exit path.
func (p *Pipeline) Process(ctx context.Context, req Request) (*types.ProcessResult, error) {
	if req.Algorithm == "" {
		return nil, fmt.Errorf("algorithm is required: %w", errors.ErrInvalidArgument)
	}
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("at least one file is required: %w", errors.ErrInvalidArgument)
	}
	if req.Mode == gateway.ModeTrack && req.Track == nil {
		return nil, fmt.Errorf("mode %s requires a track file: %w", req.Mode, errors.ErrInvalidArgument)
	}

	st, err := p.stage(req)
	if err != nil {
		return nil, err
	}
	var pending <-chan struct{}
	defer func() {
		if pending != nil {
			// The engine may still be reading the staged frames.
			go func() {
				<-pending
				st.cleanup(p.logger)
			}()
			return
		}
		st.cleanup(p.logger)
	}()

	in, err := p.input(ctx, req, st)
	if err != nil {
		return nil, err
	}

	res, running, err := p.call(ctx, in)
	pending = running
	if err != nil {
		return nil, err
	}

	batch, err := p.decode(res.FeaturePath, st.rawPaths)
	if err != nil {
		return nil, err
	}
	analysis := types.Analysis{
		ID:         batch.AnalysisID,
		ResultPath: res.OutImgDir,
		Message:    res.Message,
		Frames:     batch.Len(),
	}
	var dumps types.Dumps
	if batch.Len() == 0 {
		p.logger.Warn("feature file has no frames; nothing persisted", "analysis_id", batch.AnalysisID)
	} else {
		dumps, err = p.persist(ctx, analysis, batch.Records)
		if err != nil {
			return nil, err
		}
		if p.stats != nil {
			p.stats.AppendBestEffort(batch.AnalysisID, batch.Records)
		}
	}

	files, err := ListOutputs(res.OutImgDir, st.names)
	if err != nil {
		return nil, errors.Wrap(err, "Pipeline", "Process", "list output images")
	}
	msg := res.Message
	if msg == "" {
		msg = "processing succeeded"
	}
	p.logger.Info("request complete",
		"analysis_id", batch.AnalysisID, "frames", batch.Len(), "images", len(files.OutputImageNames))
	return &types.ProcessResult{
		Success:          true,
		ResultPath:       res.OutImgDir,
		ResultFiles:      files,
		Message:          msg,
		FileNumProcessed: res.FileNum,
		AnalysisID:       batch.AnalysisID,
		Dumps:            dumps,
	}, nil
}

// staging is one request's private upload directory.
type staging struct {
	dir       string
	imgDir    string
	trackPath string
	rawPaths  []string
	names     []string
}

func (s *staging) cleanup(logger *slog.Logger) {
	if err := os.RemoveAll(s.dir); err != nil {
		logger.Error("failed to remove staging directory", "path", s.dir, "error", err)
		return
	}
	logger.Debug("staging directory removed", "path", s.dir)
}

func (p *Pipeline) stage(req Request) (_ *staging, err error) {
	for _, f := range req.Files {
		if err := utils.SafeName(f.Name); err != nil {
			return nil, fmt.Errorf("%v: %w", err, errors.ErrInvalidArgument)
		}
	}
	if req.Track != nil {
		if err := utils.SafeName(req.Track.Name); err != nil {
			return nil, fmt.Errorf("track: %v: %w", err, errors.ErrInvalidArgument)
		}
	}

	dir, err := filepath.Abs(filepath.Join(p.opts.StagingRoot, "upload-"+uuid.NewString()))
	if err != nil {
		return nil, errors.Wrap(err, "Pipeline", "stage", "resolve staging directory")
	}
	st := &staging{dir: dir, imgDir: filepath.Join(dir, ImageDir)}
	if err := os.MkdirAll(st.imgDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "Pipeline", "stage", "create staging directory")
	}
	defer func() {
		if err != nil {
			st.cleanup(p.logger)
		}
	}()

	for _, f := range req.Files {
		path := filepath.Join(st.imgDir, f.Name)
		n, err := writeFile(path, f.Body)
		if err != nil {
			return nil, errors.Wrap(err, "Pipeline", "stage", "save "+f.Name)
		}
		if n == 0 {
			p.logger.Warn("skipping empty upload", "name", f.Name)
			os.Remove(path)
			continue
		}
		st.rawPaths = append(st.rawPaths, path)
		st.names = append(st.names, f.Name)
	}
	if len(st.rawPaths) == 0 {
		return nil, fmt.Errorf("every uploaded file was empty: %w", errors.ErrInvalidArgument)
	}

	if req.Mode == gateway.ModeTrack {
		st.trackPath = filepath.Join(dir, req.Track.Name)
		if _, err := writeFile(st.trackPath, req.Track.Body); err != nil {
			return nil, errors.Wrap(err, "Pipeline", "stage", "save track file")
		}
	}
	p.logger.Info("uploads staged", "path", dir, "files", len(st.rawPaths))
	return st, nil
}

func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func (p *Pipeline) input(ctx context.Context, req Request, st *staging) (gateway.Input, error) {
	outDir, err := filepath.Abs(p.opts.ResultRoot)
	if err != nil {
		return gateway.Input{}, errors.Wrap(err, "Pipeline", "input", "resolve result root")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return gateway.Input{}, errors.Wrap(err, "Pipeline", "input", "create result root")
	}
	paramPath, err := filepath.Abs(p.opts.ParamPath)
	if err != nil {
		return gateway.Input{}, errors.Wrap(err, "Pipeline", "input", "resolve parameter path")
	}
	if _, err := os.Stat(paramPath); err != nil {
		p.logger.Warn("model parameter file not found; the engine may fail", "path", paramPath)
	}

	in := gateway.Input{
		AlgorithmName: req.Algorithm,
		Mode:          req.Mode,
		FileNum:       len(st.rawPaths),
		OutputDir:     outDir,
		ParamPath:     paramPath,
		TrackPath:     st.trackPath,
		InImgDir:      st.imgDir,
		ImgType:       p.opts.ImgType,
	}

	if p.region != nil {
		r, err := p.region.Get(ctx)
		switch {
		case err == nil:
			in.Crop = &gateway.Crop{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
		case errors.Is(err, errors.ErrConfigNotFound):
			p.logger.Warn("no region configured, engine runs uncropped")
		default:
			return gateway.Input{}, errors.Wrap(err, "Pipeline", "input", "load region")
		}
	}
	return in, nil
}

// call runs the engine. With a watchdog the wait is bounded; the returned channel is
// non-nil when the call was abandoned and closes once the engine returns.
func (p *Pipeline) call(ctx context.Context, in gateway.Input) (gateway.Result, <-chan struct{}, error) {
	if p.opts.Watchdog <= 0 {
		res, err := p.gateway.Run(ctx, in)
		return res, nil, err
	}

	type outcome struct {
		res gateway.Result
		err error
	}
	done := make(chan struct{})
	out := make(chan outcome, 1)
	go func() {
		defer close(done)
		res, err := p.gateway.Run(ctx, in)
		out <- outcome{res, err}
	}()

	timer := time.NewTimer(p.opts.Watchdog)
	defer timer.Stop()
	select {
	case o := <-out:
		return o.res, nil, o.err
	case <-timer.C:
		p.logger.Error("engine watchdog expired; abandoning the call", "after", p.opts.Watchdog)
		return gateway.Result{}, done, errors.WrapTransient(ErrWatchdog, "Pipeline", "Process", "wait for engine")
	}
}

func (p *Pipeline) decode(featurePath string, rawPaths []string) (*frame.Batch, error) {
	cols, err := p.decoder.Decode(featurePath)
	if err != nil {
		p.metrics.RecordDecode(0, err)
		return nil, errors.WrapInvalid(err, "Pipeline", "Process", "decode feature file")
	}
	p.metrics.RecordDecode(cols.Frames(), nil)
	analysisID := AnalysisID(featurePath)
	return frame.Transpose(cols, analysisID, rawPaths, p.logger), nil
}

// AnalysisID is the name of the directory holding the feature file.
func AnalysisID(featurePath string) string {
	return filepath.Base(filepath.Dir(featurePath))
}

// persist writes the batch to the database and both dumps concurrently.
func (p *Pipeline) persist(ctx context.Context, analysis types.Analysis, records []frame.Record) (types.Dumps, error) {
	var dumps types.Dumps
	g, gctx := errgroup.WithContext(ctx)

	if p.store != nil {
		g.Go(func() error {
			err := p.store.InsertFrames(gctx, analysis, records)
			p.metrics.RecordBatch("db", err)
			return err
		})
	}
	if p.dumps != nil {
		g.Go(func() error {
			path, err := p.dumps.WriteImport(gctx, analysis, records)
			dumps.Import = path
			return err
		})
		g.Go(func() error {
			path, err := p.dumps.WriteFrameData(gctx, analysis.ID, records)
			dumps.FrameData = path
			return err
		})
	}
	if err := g.Wait(); err != nil {
		p.logger.Error("persistence failed", "analysis_id", analysis.ID, "error", err)
		return types.Dumps{}, errors.Wrap(err, "Pipeline", "Process", "persist frames")
	}
	return dumps, nil
}
