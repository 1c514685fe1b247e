package frame

import (
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/andresmejia3/spectra/internal/feature"
)

var now = time.Now

// Transpose converts the columnar feature set into one Record per frame.
//
// The frame count comes from the first per-frame column and the number of categories
// is re-derived as len(confidences)/frames. Raw paths are paired with frames by
// position only; a count mismatch is logged and processing continues.
func Transpose(cols *feature.ColumnSet, analysisID string, rawPaths []string, logger *slog.Logger) *Batch {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "frame-transposer", "analysis_id", analysisID)

	batch := &Batch{AnalysisID: analysisID, RawPaths: rawPaths}
	numFrames := cols.Frames()
	if numFrames == 0 {
		logger.Warn("feature set has no frames, nothing to transpose")
		return batch
	}

	if len(rawPaths) != numFrames {
		logger.Error("raw file count does not match decoded frame count",
			"raw_files", len(rawPaths), "frames", numFrames)
	}

	conf := cols.Confidences()
	categoryNum := len(conf) / numFrames
	if len(conf)%numFrames != 0 {
		logger.Warn("confidences length is not a multiple of the frame count",
			"confidences", len(conf), "frames", numFrames, "categories", categoryNum)
	}

	// Resolve each field's column once instead of per frame.
	columns := make([][]feature.Value, len(Fields))
	for i, f := range Fields {
		columns[i], _ = cols.Get(f.Name)
	}

	created := now().UTC()
	batch.Records = make([]Record, numFrames)
	for i := 0; i < numFrames; i++ {
		r := &batch.Records[i]
		r.AnalysisID = analysisID
		r.FrameIndex = i
		r.CreatedAt = created
		r.Confidences = confidenceString(conf, i, categoryNum)

		for j, f := range Fields {
			if i < len(columns[j]) {
				f.Set(r, columns[j][i])
			}
		}
		r.Timestamp = Timestamp(r)
		if i < len(rawPaths) {
			r.RawPath = rawPaths[i]
		}
	}
	return batch
}

// confidenceString joins confidences[i*c:(i+1)*c] with commas.
func confidenceString(conf []feature.Value, i, c int) string {
	if c <= 0 {
		return ""
	}
	start, end := i*c, (i+1)*c
	if end > len(conf) {
		return ""
	}
	parts := make([]string, 0, c)
	for _, v := range conf[start:end] {
		parts = append(parts, v.String())
	}
	return strings.Join(parts, ",")
}

// Timestamp rebuilds the frame instant from its date and time fields. It returns
// nil unless year, month, day, hour, min, sec and msec are all present.
func Timestamp(r *Record) *time.Time {
	if r.Year == nil || r.Month == nil || r.Day == nil ||
		r.Hour == nil || r.Min == nil || r.Sec == nil || r.Msec == nil {
		return nil
	}
	t := time.Date(int(*r.Year), time.Month(*r.Month), int(*r.Day),
		int(*r.Hour), int(*r.Min), int(*r.Sec), 0, time.UTC)
	t = t.Add(time.Duration(math.Round(float64(*r.Msec) * float64(time.Millisecond))))
	return &t
}
