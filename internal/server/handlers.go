package server

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/andresmejia3/spectra/internal/config"
	"github.com/andresmejia3/spectra/internal/errors"
	"github.com/andresmejia3/spectra/internal/feature"
	"github.com/andresmejia3/spectra/internal/gateway"
	"github.com/andresmejia3/spectra/internal/pipeline"
	"github.com/andresmejia3/spectra/internal/types"
)

const multipartMemory = 32 << 20

// FeatureDataResponse is the body of GET /api/get_feature_data.
type FeatureDataResponse struct {
	Success  bool               `json:"success"`
	Message  string             `json:"message"`
	Features *feature.ColumnSet `json:"features"`
}

// ConfigBody is the JSON shape of the region configuration.
type ConfigBody struct {
	Region struct {
		X      int `json:"x"`
		Y      int `json:"y"`
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"region"`
	Algorithm struct {
		LR float64 `json:"lr"`
	} `json:"algorithm"`
}

func configBody(r types.Region) ConfigBody {
	var b ConfigBody
	b.Region.X, b.Region.Y, b.Region.Width, b.Region.Height = r.X, r.Y, r.Width, r.Height
	b.Algorithm.LR = r.LR
	return b
}

func (b ConfigBody) region() types.Region {
	return types.Region{X: b.Region.X, Y: b.Region.Y, Width: b.Region.Width, Height: b.Region.Height, LR: b.Algorithm.LR}
}

func (s *Server) unavailable(w http.ResponseWriter, r *http.Request) bool {
	if s.opts.Pipeline != nil {
		return false
	}
	s.writeError(w, r, http.StatusServiceUnavailable, s.opts.Unavailable)
	return true
}

func (s *Server) handleInferMultiFrame(w http.ResponseWriter, r *http.Request) {
	if s.unavailable(w, r) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.fail(w, r, errors.WrapInvalid(err, "Server", "InferMultiFrame", "parse multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	mode := gateway.ModeMulti
	if v := r.FormValue("mode"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.fail(w, r, fmt.Errorf("mode %q is not a number: %w", v, errors.ErrInvalidArgument))
			return
		}
		if mode, err = gateway.ParseMode(n); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	req := pipeline.Request{Algorithm: r.FormValue("algorithm"), Mode: mode}
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	open := func(fh *multipart.FileHeader) (pipeline.Upload, error) {
		f, err := fh.Open()
		if err != nil {
			return pipeline.Upload{}, errors.WrapInvalid(err, "Server", "InferMultiFrame", "open "+fh.Filename)
		}
		opened = append(opened, f)
		return pipeline.Upload{Name: fh.Filename, Body: f}, nil
	}

	for _, fh := range r.MultipartForm.File["files"] {
		up, err := open(fh)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		req.Files = append(req.Files, up)
	}
	if tracks := r.MultipartForm.File["track"]; len(tracks) > 0 {
		up, err := open(tracks[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		req.Track = &up
	}

	s.logger.Info("multi-frame request", "files", len(req.Files), "algorithm", req.Algorithm, "mode", mode.String())
	res, err := s.opts.Pipeline.Process(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFeatureData(w http.ResponseWriter, r *http.Request) {
	if s.unavailable(w, r) {
		return
	}
	cols, err := s.opts.Pipeline.FeatureData(r.URL.Query().Get("resultPath"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	msg := "feature data extracted"
	if cols.Frames() == 0 {
		msg = "feature file processed but contains no frames"
	}
	writeJSON(w, http.StatusOK, FeatureDataResponse{Success: true, Message: msg, Features: cols})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if s.unavailable(w, r) {
		return
	}
	q := r.URL.Query()
	path, err := s.opts.Pipeline.ImagePath(q.Get("folder"), q.Get("file"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.opts.Regions == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, errors.New("region configuration is not available"))
		return
	}
	region, err := s.opts.Regions.Get(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, configBody(region))
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	if s.opts.Regions == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, errors.New("region configuration is not available"))
		return
	}
	var body ConfigBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.fail(w, r, errors.WrapInvalid(err, "Server", "SaveConfig", "decode body"))
		return
	}
	region := body.region()
	if err := config.ValidateRegion(region); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.opts.Regions.Save(r.Context(), region); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok", "engine": "ready"}
	if s.opts.Pipeline == nil {
		body["engine"] = "unavailable"
		body["reason"] = s.opts.Unavailable.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

const (
	logWriteWait = 10 * time.Second
	logPingEvery = 30 * time.Second
)

// handleLogs streams log lines to a websocket until either side goes away.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.opts.Logs == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, errors.New("log tail is not enabled"))
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub, err := s.opts.Logs.Subscribe()
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(logWriteWait))
		return
	}
	defer s.opts.Logs.Unsubscribe(sub)

	// Clients never send data; reading only detects the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(logPingEvery)
	defer ping.Stop()
	for {
		select {
		case line, ok := <-sub.Lines:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(logWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(logWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(logWriteWait)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
