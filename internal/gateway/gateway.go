// Package gateway serializes calls into the recognition engine and scopes the
// lifetime of the engine-owned output.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/andresmejia3/spectra/internal/errors"
	"github.com/andresmejia3/spectra/internal/metrics"
	"github.com/andresmejia3/spectra/internal/native"
)

// Output is the engine-owned result of one call. Fields are readable until Release.
type Output interface {
	FeaturePath() string
	OutImgDir() string
	Message() string
	FileNum() int32
	Release()
}

// Engine performs one blocking engine call. The returned Output must be released
// whatever the status.
type Engine interface {
	Process(req native.Request) (Output, int32)
}

type libraryEngine struct {
	lib *native.Library
}

func (e libraryEngine) Process(req native.Request) (Output, int32) {
	return e.lib.Process(req)
}

// NewLibraryEngine adapts a loaded engine library.
func NewLibraryEngine(lib *native.Library) Engine {
	return libraryEngine{lib: lib}
}

var (
	// ErrReleased is returned by View accessors once the output has been released.
	ErrReleased = errors.New("engine output already released")
	// ErrIncompleteOutput means the engine reported success without both output paths.
	ErrIncompleteOutput = errors.New("engine reported success without output paths")
)

// ProcessError is a non-zero engine status.
type ProcessError struct {
	Status  int32
	Message string
}

func (e *ProcessError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("engine failed with status %d", e.Status)
	}
	return fmt.Sprintf("engine failed with status %d: %s", e.Status, e.Message)
}

// View is a bounded-lifetime handle on the engine output. It is valid only inside
// the Invoke callback.
type View struct {
	mu       sync.Mutex
	out      Output
	released bool
}

func (v *View) read(get func(Output) string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.released {
		return "", ErrReleased
	}
	return get(v.out), nil
}

// FeaturePath is the Feature.dat path the engine wrote.
func (v *View) FeaturePath() (string, error) { return v.read(Output.FeaturePath) }

// OutImgDir is the engine's image output directory.
func (v *View) OutImgDir() (string, error) { return v.read(Output.OutImgDir) }

// Message is the engine's status text.
func (v *View) Message() (string, error) { return v.read(Output.Message) }

// FileNum is the number of frames the engine produced.
func (v *View) FileNum() (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.released {
		return 0, ErrReleased
	}
	return int(v.out.FileNum()), nil
}

// release frees the output once; later calls do nothing.
func (v *View) release() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.released {
		return
	}
	v.released = true
	v.out.Release()
}

// Gateway admits one engine call at a time.
type Gateway struct {
	engine  Engine
	slot    chan struct{}
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a gateway around engine. m may be nil.
func New(engine Engine, logger *slog.Logger, m *metrics.Metrics) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		engine:  engine,
		slot:    make(chan struct{}, 1),
		logger:  logger.With("component", "gateway"),
		metrics: m,
	}
}

func (g *Gateway) acquire(ctx context.Context) error {
	g.metrics.NativeQueued(1)
	defer g.metrics.NativeQueued(-1)
	select {
	case g.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Gateway", "Invoke", "wait for engine")
	}
}

// Invoke runs one engine call and hands the output to fn. The output is released
// exactly once after fn returns, on engine failure, and when fn panics.
// Waiting for the engine honours ctx; the call itself cannot be interrupted.
func (g *Gateway) Invoke(ctx context.Context, in Input, fn func(*View) error) error {
	if err := in.Validate(); err != nil {
		return errors.WrapInvalid(err, "Gateway", "Invoke", "validate input")
	}
	if err := g.acquire(ctx); err != nil {
		return err
	}
	defer func() { <-g.slot }()

	g.logger.Info("calling engine",
		"algorithm", in.AlgorithmName, "mode", in.Mode.String(), "files", in.FileNum, "in_dir", in.InImgDir)

	start := time.Now()
	out, status := g.engine.Process(in.request())
	elapsed := time.Since(start)

	view := &View{out: out}
	defer view.release()

	if status != 0 {
		msg, _ := view.Message()
		g.metrics.RecordNativeCall("failed", elapsed)
		g.logger.Error("engine call failed", "status", status, "message", msg, "elapsed", elapsed)
		return &ProcessError{Status: status, Message: msg}
	}

	featurePath, _ := view.FeaturePath()
	outDir, _ := view.OutImgDir()
	if featurePath == "" || outDir == "" {
		g.metrics.RecordNativeCall("incomplete", elapsed)
		g.logger.Error("engine returned incomplete output", "feature_path", featurePath, "out_dir", outDir)
		return ErrIncompleteOutput
	}

	g.metrics.RecordNativeCall("ok", elapsed)
	g.logger.Info("engine call succeeded", "feature_path", featurePath, "out_dir", outDir, "elapsed", elapsed)
	if fn == nil {
		return nil
	}
	return fn(view)
}

// Result is a copy of the engine output that outlives the call.
type Result struct {
	FeaturePath string
	OutImgDir   string
	Message     string
	FileNum     int
}

// Run invokes the engine and copies every output field before release.
func (g *Gateway) Run(ctx context.Context, in Input) (Result, error) {
	var res Result
	err := g.Invoke(ctx, in, func(v *View) error {
		var err error
		if res.FeaturePath, err = v.FeaturePath(); err != nil {
			return err
		}
		if res.OutImgDir, err = v.OutImgDir(); err != nil {
			return err
		}
		if res.Message, err = v.Message(); err != nil {
			return err
		}
		res.FileNum, err = v.FileNum()
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}
