package gateway

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/spectra/internal/errors"
	"github.com/andresmejia3/spectra/internal/native"
)

// mockOutput mimics engine-owned memory: reads after Release are a test failure.
type mockOutput struct {
	t           *testing.T
	featurePath string
	outDir      string
	message     string
	fileNum     int32
	releases    atomic.Int32
}

func (o *mockOutput) check() {
	if o.releases.Load() > 0 {
		o.t.Errorf("output field read after release")
	}
}

func (o *mockOutput) FeaturePath() string { o.check(); return o.featurePath }
func (o *mockOutput) OutImgDir() string   { o.check(); return o.outDir }
func (o *mockOutput) Message() string     { o.check(); return o.message }
func (o *mockOutput) FileNum() int32      { o.check(); return o.fileNum }
func (o *mockOutput) Release()            { o.releases.Add(1) }

type mockEngine struct {
	out      *mockOutput
	fresh    func() *mockOutput
	status   int32
	delay    time.Duration
	lastReq  native.Request
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
}

func (e *mockEngine) Process(req native.Request) (Output, int32) {
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		m := e.maxSeen.Load()
		if n <= m || e.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	e.calls.Add(1)
	e.lastReq = req
	time.Sleep(e.delay)
	if e.fresh != nil {
		return e.fresh(), e.status
	}
	return e.out, e.status
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validInput() Input {
	return Input{
		AlgorithmName: "XJY",
		Mode:          ModeMulti,
		FileNum:       3,
		Crop:          &Crop{X: 1, Y: 2, Width: 30, Height: 40},
		OutputDir:     "/tmp/result",
		ParamPath:     "/opt/Parameter/tfImg.pb",
		InImgDir:      "/tmp/upload/IMG0",
		ImgType:       1,
	}
}

func okOutput(t *testing.T) *mockOutput {
	return &mockOutput{t: t, featurePath: "/tmp/result/run/Feature.dat", outDir: "/tmp/result/run/img", message: "done", fileNum: 3}
}

func TestRunCopiesAndReleases(t *testing.T) {
	out := okOutput(t)
	eng := &mockEngine{out: out}
	g := New(eng, quietLogger(), nil)

	res, err := g.Run(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, Result{FeaturePath: out.featurePath, OutImgDir: out.outDir, Message: "done", FileNum: 3}, res)
	assert.Equal(t, int32(1), out.releases.Load())

	assert.Equal(t, native.CropBox{X: 1, Y: 2, Width: 30, Height: 40}, eng.lastReq.Crop)
	assert.Equal(t, int32(ModeMulti), eng.lastReq.Mode)
	assert.Equal(t, int32(3), eng.lastReq.FileNum)
	assert.Empty(t, eng.lastReq.TrackPath)
}

func TestViewRejectsAccessAfterRelease(t *testing.T) {
	out := okOutput(t)
	g := New(&mockEngine{out: out}, quietLogger(), nil)

	var leaked *View
	err := g.Invoke(context.Background(), validInput(), func(v *View) error {
		leaked = v
		p, err := v.FeaturePath()
		require.NoError(t, err)
		assert.Equal(t, out.featurePath, p)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, leaked)

	_, err = leaked.FeaturePath()
	assert.ErrorIs(t, err, ErrReleased)
	_, err = leaked.OutImgDir()
	assert.ErrorIs(t, err, ErrReleased)
	_, err = leaked.Message()
	assert.ErrorIs(t, err, ErrReleased)
	_, err = leaked.FileNum()
	assert.ErrorIs(t, err, ErrReleased)

	leaked.release()
	assert.Equal(t, int32(1), out.releases.Load(), "release must happen exactly once")
}

func TestReleaseOnEveryExitPath(t *testing.T) {
	callbackErr := errors.New("callback failed")

	tests := []struct {
		name     string
		status   int32
		output   func(*testing.T) *mockOutput
		callback func(*View) error
		panics   bool
		check    func(t *testing.T, err error)
	}{
		{
			name:   "engine failure",
			status: -3,
			output: func(t *testing.T) *mockOutput {
				return &mockOutput{t: t, message: "bad parameter file"}
			},
			check: func(t *testing.T, err error) {
				var pe *ProcessError
				require.True(t, errors.As(err, &pe))
				assert.Equal(t, int32(-3), pe.Status)
				assert.Equal(t, "bad parameter file", pe.Message)
			},
		},
		{
			name:   "incomplete output",
			output: func(t *testing.T) *mockOutput { return &mockOutput{t: t, featurePath: "/x/Feature.dat"} },
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrIncompleteOutput)
			},
		},
		{
			name:     "callback error",
			output:   okOutput,
			callback: func(*View) error { return callbackErr },
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, callbackErr)
			},
		},
		{
			name:     "callback panic",
			output:   okOutput,
			callback: func(*View) error { panic("extraction blew up") },
			panics:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.output(t)
			g := New(&mockEngine{out: out, status: tt.status}, quietLogger(), nil)
			cb := tt.callback
			if cb == nil {
				cb = func(*View) error { return nil }
			}

			if tt.panics {
				assert.PanicsWithValue(t, "extraction blew up", func() {
					_ = g.Invoke(context.Background(), validInput(), cb)
				})
			} else {
				err := g.Invoke(context.Background(), validInput(), cb)
				require.Error(t, err)
				tt.check(t, err)
			}
			assert.Equal(t, int32(1), out.releases.Load())

			// The slot must be free again.
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			require.NoError(t, g.acquire(ctx))
			<-g.slot
		})
	}
}

func TestInvokeSerializesCalls(t *testing.T) {
	eng := &mockEngine{delay: 5 * time.Millisecond, fresh: func() *mockOutput { return okOutput(t) }}
	g := New(eng, quietLogger(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Invoke(context.Background(), validInput(), nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(8), eng.calls.Load())
	assert.Equal(t, int32(1), eng.maxSeen.Load())
}

func TestInvokeHonoursContextWhileWaiting(t *testing.T) {
	g := New(&mockEngine{out: okOutput(t)}, quietLogger(), nil)
	g.slot <- struct{}{} // occupy the engine

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := g.Invoke(ctx, validInput(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, errors.IsTransient(err))
}

func TestInputValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
	}{
		{"no algorithm", func(in *Input) { in.AlgorithmName = "" }},
		{"no files", func(in *Input) { in.FileNum = 0 }},
		{"no input dir", func(in *Input) { in.InImgDir = "" }},
		{"track without file", func(in *Input) { in.Mode = ModeTrack }},
		{"unknown mode", func(in *Input) { in.Mode = 7 }},
		{"negative crop", func(in *Input) { in.Crop = &Crop{X: -1} }},
		{"file count overflows int32", func(in *Input) { in.FileNum = math.MaxInt32 + 1 }},
		{"image type overflows int32", func(in *Input) { in.ImgType = math.MaxInt32 + 1 }},
		{"id underflows int32", func(in *Input) { in.ID = math.MinInt32 - 1 }},
		{"crop width overflows int32", func(in *Input) { in.Crop = &Crop{Width: math.MaxInt32 + 1} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			assert.ErrorIs(t, in.Validate(), errors.ErrInvalidArgument)

			eng := &mockEngine{out: okOutput(t)}
			err := New(eng, quietLogger(), nil).Invoke(context.Background(), in, nil)
			assert.True(t, errors.IsInvalid(err))
			assert.Equal(t, int32(0), eng.calls.Load(), "engine must not be called")
		})
	}

	in := validInput()
	in.Mode = ModeTrack
	in.TrackPath = "/tmp/track.txt"
	in.Crop = nil
	assert.NoError(t, in.Validate())
}
