package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/spectra/internal/dump"
	"github.com/andresmejia3/spectra/internal/errors"
	"github.com/andresmejia3/spectra/internal/feature"
	"github.com/andresmejia3/spectra/internal/gateway"
	"github.com/andresmejia3/spectra/internal/logtail"
	"github.com/andresmejia3/spectra/internal/metrics"
	"github.com/andresmejia3/spectra/internal/native"
	"github.com/andresmejia3/spectra/internal/pipeline"
	"github.com/andresmejia3/spectra/internal/types"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type stubOutput struct {
	featurePath, outDir, message string
	fileNum                      int32
}

func (o *stubOutput) FeaturePath() string { return o.featurePath }
func (o *stubOutput) OutImgDir() string   { return o.outDir }
func (o *stubOutput) Message() string     { return o.message }
func (o *stubOutput) FileNum() int32      { return o.fileNum }
func (o *stubOutput) Release()            {}

// stubEngine writes a two-category feature file and one png per staged frame.
type stubEngine struct {
	status atomic.Int32
	mu     sync.Mutex
	last   native.Request
}

func (e *stubEngine) Process(req native.Request) (gateway.Output, int32) {
	e.mu.Lock()
	e.last = req
	e.mu.Unlock()
	if status := e.status.Load(); status != 0 {
		return &stubOutput{message: "engine exploded"}, status
	}
	entries, _ := os.ReadDir(req.InImgDir)
	dir := filepath.Join(req.OutputDir, "run-42")
	os.MkdirAll(dir, 0o755)

	defs := feature.DefaultDefinitions()
	cs := feature.Synthesize(defs, feature.SynthOptions{Frames: len(entries), Categories: 2, Start: time.Now(), Interval: time.Second})
	var buf bytes.Buffer
	feature.Encode(&buf, defs, int32(len(entries)), 2, cs)
	os.WriteFile(filepath.Join(dir, pipeline.FeatureFile), buf.Bytes(), 0o644)
	for _, entry := range entries {
		png := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())) + "_1.png"
		os.WriteFile(filepath.Join(dir, png), []byte("\x89PNG"), 0o644)
	}
	return &stubOutput{
		featurePath: filepath.Join(dir, pipeline.FeatureFile),
		outDir:      dir,
		message:     "ok",
		fileNum:     int32(len(entries)),
	}, 0
}

type memRegions struct {
	mu     sync.Mutex
	region *types.Region
}

func (m *memRegions) Get(context.Context) (types.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.region == nil {
		return types.Region{}, fmt.Errorf("no region: %w", errors.ErrConfigNotFound)
	}
	return *m.region, nil
}

func (m *memRegions) Save(_ context.Context, r types.Region) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.region = &r
	return nil
}

type testEnv struct {
	root    string
	engine  *stubEngine
	regions *memRegions
	logs    *logtail.Broadcaster
	metrics *metrics.Metrics
	srv     *httptest.Server
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	env := &testEnv{
		root:    root,
		engine:  &stubEngine{},
		regions: &memRegions{},
		logs:    logtail.NewBroadcaster(16, nil),
		metrics: metrics.New(),
	}
	logger := quietLogger()
	p := pipeline.New(pipeline.Options{
		ResultRoot:  filepath.Join(root, "result"),
		StagingRoot: filepath.Join(root, "staging"),
		ParamPath:   filepath.Join(root, "tfImg.pb"),
		ImgType:     1,
	}, pipeline.Deps{
		Gateway: gateway.New(env.engine, logger, env.metrics),
		Decoder: feature.NewDecoder(feature.DefaultDefinitions(), feature.WithLogger(logger)),
		Dumps:   dump.NewWriter(filepath.Join(root, "result"), 0, logger, env.metrics),
		Region:  env.regions,
		Logger:  logger,
		Metrics: env.metrics,
	})
	s := New(Options{Pipeline: p, Regions: env.regions, Logs: env.logs, Metrics: env.metrics, Logger: logger})
	env.srv = httptest.NewServer(s.Handler())
	t.Cleanup(env.srv.Close)
	return env
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, names := range files {
		for _, name := range names {
			fw, err := mw.CreateFormFile(field, name)
			require.NoError(t, err)
			fmt.Fprintf(fw, "raw-%s", name)
		}
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func decodeError(t *testing.T, resp *http.Response) types.ErrorResult {
	t.Helper()
	var e types.ErrorResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	return e
}

func TestInferMultiFrame(t *testing.T) {
	env := newEnv(t)
	body, ctype := multipartBody(t, map[string]string{"algorithm": "GJDeal"},
		map[string][]string{"files": {"a_2.dat", "a_10.dat"}})

	resp, err := http.Post(env.srv.URL+"/api/infer_multi_frame", ctype, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res types.ProcessResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.True(t, res.Success)
	assert.Equal(t, "run-42", res.AnalysisID)
	assert.Equal(t, 2, res.FileNumProcessed)
	assert.Equal(t, []string{"a_2_1.png", "a_10_1.png"}, res.ResultFiles.OutputImageNames)
	assert.Equal(t, []string{"a_2.dat", "a_10.dat"}, res.ResultFiles.OriginalNames)
	assert.FileExists(t, res.Dumps.FrameData)
	env.engine.mu.Lock()
	assert.Equal(t, int32(gateway.ModeMulti), env.engine.last.Mode)
	env.engine.mu.Unlock()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	// Feature data and images for the same run
	fresp, err := http.Get(env.srv.URL + "/api/get_feature_data?resultPath=" + url.QueryEscape(res.ResultPath))
	require.NoError(t, err)
	defer fresp.Body.Close()
	require.Equal(t, http.StatusOK, fresp.StatusCode)
	var fd struct {
		Success  bool                         `json:"success"`
		Features map[string][]json.RawMessage `json:"features"`
	}
	require.NoError(t, json.NewDecoder(fresp.Body).Decode(&fd))
	assert.True(t, fd.Success)
	assert.Len(t, fd.Features["confidences"], 4)
	assert.Len(t, fd.Features["apAvgRad"], 2)

	iresp, err := http.Get(env.srv.URL + "/api/get_image?folder=run-42&file=a_2_1.png")
	require.NoError(t, err)
	defer iresp.Body.Close()
	assert.Equal(t, http.StatusOK, iresp.StatusCode)
	data, _ := io.ReadAll(iresp.Body)
	assert.Equal(t, "\x89PNG", string(data))
}

func TestInferMultiFrameErrors(t *testing.T) {
	env := newEnv(t)

	tests := []struct {
		name   string
		fields map[string]string
		files  map[string][]string
		status int
		errStr string
	}{
		{"no files", map[string]string{"algorithm": "a"}, nil, http.StatusBadRequest, "Bad Request"},
		{"no algorithm", nil, map[string][]string{"files": {"a.dat"}}, http.StatusBadRequest, "Bad Request"},
		{"bad mode", map[string]string{"algorithm": "a", "mode": "7"}, map[string][]string{"files": {"a.dat"}}, http.StatusBadRequest, "Bad Request"},
		{"track required", map[string]string{"algorithm": "a", "mode": "2"}, map[string][]string{"files": {"a.dat"}}, http.StatusBadRequest, "Bad Request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ctype := multipartBody(t, tt.fields, tt.files)
			resp, err := http.Post(env.srv.URL+"/api/infer_multi_frame", ctype, body)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			e := decodeError(t, resp)
			assert.Equal(t, tt.errStr, e.Error)
			assert.Equal(t, "/api/infer_multi_frame", e.Path)
		})
	}

	t.Run("not multipart", func(t *testing.T) {
		resp, err := http.Post(env.srv.URL+"/api/infer_multi_frame", "application/json", strings.NewReader("{}"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("engine failure", func(t *testing.T) {
		env.engine.status.Store(5)
		defer env.engine.status.Store(0)
		body, ctype := multipartBody(t, map[string]string{"algorithm": "a"}, map[string][]string{"files": {"a.dat"}})
		resp, err := http.Post(env.srv.URL+"/api/infer_multi_frame", ctype, body)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		e := decodeError(t, resp)
		assert.Equal(t, "Core Processing Error", e.Error)
		assert.Contains(t, e.Message, "engine exploded")
	})
}

func TestResultLookupsRejectTraversal(t *testing.T) {
	env := newEnv(t)
	for _, path := range []string{
		"/api/get_image?folder=run-42&file=../../etc/passwd",
		"/api/get_image?folder=/etc&file=passwd",
		"/api/get_feature_data?resultPath=",
	} {
		resp, err := http.Get(env.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}

	resp, err := http.Get(env.srv.URL + "/api/get_feature_data?resultPath=missing-run")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConfigRoundTrip(t *testing.T) {
	env := newEnv(t)

	resp, err := http.Get(env.srv.URL + "/api/config")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	payload := `{"region":{"x":10,"y":20,"width":300,"height":200},"algorithm":{"lr":0.25}}`
	resp, err = http.Post(env.srv.URL+"/api/config", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(env.srv.URL + "/api/config")
	require.NoError(t, err)
	defer resp.Body.Close()
	var got ConfigBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, types.Region{X: 10, Y: 20, Width: 300, Height: 200, LR: 0.25}, got.region())

	for _, bad := range []string{`{"region":{"x":-1}}`, `not json`, `{"unknown":1}`} {
		resp, err := http.Post(env.srv.URL+"/api/config", "application/json", strings.NewReader(bad))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, bad)
	}
}

func TestUnavailableEngine(t *testing.T) {
	s := New(Options{Unavailable: errors.New("libengine.so: cannot open shared object file"), Logger: quietLogger()})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/infer_multi_frame", "multipart/form-data", strings.NewReader(""))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, decodeError(t, resp).Message, "cannot open shared object")

	hresp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer hresp.Body.Close()
	var health map[string]string
	require.NoError(t, json.NewDecoder(hresp.Body).Decode(&health))
	assert.Equal(t, "unavailable", health["engine"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newEnv(t)
	resp, err := http.Get(env.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		mresp, err := http.Get(env.srv.URL + "/metrics")
		if err != nil {
			return false
		}
		defer mresp.Body.Close()
		data, _ := io.ReadAll(mresp.Body)
		return strings.Contains(string(data), `route="GET /healthz"`)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestLogStream(t *testing.T) {
	env := newEnv(t)
	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/logs"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.logs.Stats().Subscribers == 1 },
		2*time.Second, 10*time.Millisecond)
	env.logs.Publish("level=INFO msg=hello")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "level=INFO msg=hello", string(msg))

	conn.Close()
	require.Eventually(t, func() bool { return env.logs.Stats().Subscribers == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&gateway.ProcessError{Status: 1}, http.StatusInternalServerError},
		{errors.WrapTransient(pipeline.ErrWatchdog, "P", "Process", "wait"), http.StatusGatewayTimeout},
		{fmt.Errorf("x: %w", pipeline.ErrNotFound), http.StatusNotFound},
		{&feature.FormatError{Field: "numFrames", Frame: -1, Err: io.ErrUnexpectedEOF}, http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", errors.ErrInvalidArgument), http.StatusBadRequest},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}
