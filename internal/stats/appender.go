package stats

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/spectra/internal/dump"
	"github.com/andresmejia3/spectra/internal/errors"
	"github.com/andresmejia3/spectra/internal/frame"
	"github.com/andresmejia3/spectra/internal/metrics"
)

// Table receives one row per analysed batch.
const Table = "analysis_statistics"

const preamble = "-- spectra analysis statistics\nBEGIN TRANSACTION;\n"

// appendMu serializes every append to a statistics file in this process.
var appendMu sync.Mutex

var now = time.Now

// Appender appends summary rows to a long-lived statistics script.
type Appender struct {
	path    string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewAppender creates an appender for the file at path. m may be nil.
func NewAppender(path string, logger *slog.Logger, m *metrics.Metrics) *Appender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Appender{path: path, logger: logger.With("component", "stats"), metrics: m}
}

// Path returns the statistics file.
func (a *Appender) Path() string { return a.path }

// Append writes one INSERT row for analysisID. The file is created if needed and is
// never truncated; the preamble is written only while the file is empty.
func (a *Appender) Append(analysisID string, s Summary) error {
	appendMu.Lock()
	defer appendMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return errors.Wrap(err, "Appender", "Append", "create statistics directory")
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "Appender", "Append", "open statistics file")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "Appender", "Append", "stat statistics file")
	}

	var b strings.Builder
	if info.Size() == 0 {
		b.WriteString(preamble)
	}
	b.WriteString(Statement(analysisID, s, now()))
	b.WriteByte('\n')

	if _, err := f.WriteString(b.String()); err != nil {
		return errors.Wrap(err, "Appender", "Append", "write statistics row")
	}
	return f.Close()
}

// AppendBestEffort computes and appends the summary of records. Errors and panics
// are logged and counted, never returned.
func (a *Appender) AppendBestEffort(analysisID string, records []frame.Record) {
	defer func() {
		if r := recover(); r != nil {
			a.metrics.RecordStatisticsFailure()
			a.logger.Error("statistics aggregation panicked", "analysis_id", analysisID, "panic", r)
		}
	}()

	s := Compute(records)
	if err := a.Append(analysisID, s); err != nil {
		a.metrics.RecordStatisticsFailure()
		a.logger.Error("statistics append failed", "analysis_id", analysisID, "path", a.path, "error", err)
		return
	}
	a.logger.Info("statistics appended", "analysis_id", analysisID, "frames", s.FrameCount, "path", a.path)
}

// Statement renders the statistics INSERT for one batch.
func Statement(analysisID string, s Summary, at time.Time) string {
	return fmt.Sprintf(
		"INSERT INTO %s (analysis_id, created_at, frame_count, elapsed_seconds, delta_lgt, delta_lat, "+
			"mean_xjy_area, mean_mean_region, mean_ap_avg_rad, median_ap_avg_rad, variance_ap_avg_rad) "+
			"VALUES (%s, %s, %d, %d, %s, %s, %s, %s, %s, %s, %s);",
		Table,
		dump.Literal(analysisID),
		dump.Literal(at.UTC()),
		s.FrameCount,
		s.ElapsedSeconds,
		dump.Literal(s.DeltaLgt),
		dump.Literal(s.DeltaLat),
		optional(s.MeanArea),
		optional(s.MeanRegion),
		optional(s.MeanAvgRad),
		optional(s.MedianAvgRad),
		optional(s.VarianceAvgRad),
	)
}

func optional(v *float64) string {
	if v == nil {
		return "NULL"
	}
	return dump.Literal(*v)
}
