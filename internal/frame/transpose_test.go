package frame

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/spectra/internal/feature"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func f32s(vs ...float32) []feature.Value {
	out := make([]feature.Value, len(vs))
	for i, v := range vs {
		out[i] = feature.F32(v)
	}
	return out
}

func i16s(vs ...int16) []feature.Value {
	out := make([]feature.Value, len(vs))
	for i, v := range vs {
		out[i] = feature.I16(v)
	}
	return out
}

func TestTransposeConfidences(t *testing.T) {
	tests := []struct {
		name   string
		frames int
		conf   []float32
		want   []string
	}{
		{"two categories", 3, []float32{0.1, 0.9, 0.25, 0.75, 1, 0}, []string{"0.1,0.9", "0.25,0.75", "1,0"}},
		{"one category", 2, []float32{0.5, 0.125}, []string{"0.5", "0.125"}},
		{"no confidences", 2, nil, []string{"", ""}},
		{"three categories", 1, []float32{0.2, 0.3, 0.5}, []string{"0.2,0.3,0.5"}},
		{"shortest float32 form", 1, []float32{1e-05, 0.99999}, []string{"1e-05,0.99999"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := feature.NewColumnSet()
			if tt.conf != nil {
				cs.Put(feature.ConfidencesColumn, feature.KindF32, f32s(tt.conf...))
			}
			area := make([]feature.Value, tt.frames)
			for i := range area {
				area[i] = feature.I32(int32(i))
			}
			cs.Put("xjy_area", feature.KindI32, area)

			batch := Transpose(cs, "run-1", make([]string, tt.frames), quietLogger())
			require.Len(t, batch.Records, tt.frames)
			for i, r := range batch.Records {
				assert.Equal(t, tt.want[i], r.Confidences, "frame %d", i)
				assert.Equal(t, i, r.FrameIndex)
				assert.Equal(t, "run-1", r.AnalysisID)
			}
		})
	}
}

func TestTimestamp(t *testing.T) {
	cs := feature.NewColumnSet()
	cs.Put("year", feature.KindI16, i16s(2025, 2025))
	cs.Put("month", feature.KindI16, i16s(10, 10))
	cs.Put("day", feature.KindI16, i16s(30, 30))
	cs.Put("hour", feature.KindI16, i16s(19, 19))
	cs.Put("min", feature.KindI16, i16s(40, 40))
	// Second frame lacks sec.
	cs.Put("sec", feature.KindI16, i16s(38))
	cs.Put("msec", feature.KindF32, f32s(500.0, 250.0))

	batch := Transpose(cs, "ts", []string{"a", "b"}, quietLogger())
	require.Len(t, batch.Records, 2)

	got := batch.Records[0].Timestamp
	require.NotNil(t, got)
	assert.Equal(t, "2025-10-30T19:40:38.500Z", got.Format("2006-01-02T15:04:05.000Z07:00"))
	assert.True(t, got.Equal(time.Date(2025, 10, 30, 19, 40, 38, 500_000_000, time.UTC)))
	assert.Equal(t, time.UTC, got.Location())

	assert.Nil(t, batch.Records[1].Timestamp)
	assert.Nil(t, batch.Records[1].Sec)
}

func TestTimestampFractionalMillis(t *testing.T) {
	year, month, day, hour, min, sec := int16(2024), int16(2), int16(29), int16(23), int16(59), int16(59)
	msec := float32(999.5)
	r := &Record{Year: &year, Month: &month, Day: &day, Hour: &hour, Min: &min, Sec: &sec, Msec: &msec}

	ts := Timestamp(r)
	require.NotNil(t, ts)
	assert.Equal(t, time.Date(2024, 2, 29, 23, 59, 59, 999_500_000, time.UTC), *ts)
}

func TestTransposeCoercesAndPairs(t *testing.T) {
	cs := feature.NewColumnSet()
	cs.Put("variance", feature.KindF32, f32s(1.5, 2.5, 3.5))
	// Declared float in the file but stored as int32 on the record.
	cs.Put("xjy_area", feature.KindF32, f32s(10.9, 20.1, -3.7))
	// Shorter than the reference column.
	cs.Put("lgt", feature.KindF32, f32s(116.4))

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	batch := Transpose(cs, "pair", []string{"/tmp/a.dat", "/tmp/b.dat"}, logger)

	require.Len(t, batch.Records, 3)
	assert.True(t, batch.Mismatched())
	assert.Contains(t, logs.String(), "level=ERROR")
	assert.Contains(t, logs.String(), "raw file count does not match")

	assert.Equal(t, "/tmp/a.dat", batch.Records[0].RawPath)
	assert.Equal(t, "/tmp/b.dat", batch.Records[1].RawPath)
	assert.Empty(t, batch.Records[2].RawPath)

	require.NotNil(t, batch.Records[0].XjyArea)
	assert.Equal(t, int32(10), *batch.Records[0].XjyArea)
	assert.Equal(t, int32(-3), *batch.Records[2].XjyArea)

	require.NotNil(t, batch.Records[0].Lgt)
	assert.Nil(t, batch.Records[1].Lgt)
	assert.Nil(t, batch.Records[0].Alt, "absent column stays nil")
}

func TestTransposeEmpty(t *testing.T) {
	cs := feature.NewColumnSet()
	cs.Put("variance", feature.KindF32, nil)
	batch := Transpose(cs, "empty", nil, quietLogger())
	assert.Equal(t, 0, batch.Len())
	assert.False(t, batch.Mismatched())
}

func TestFieldsCoverDefaultDefinitions(t *testing.T) {
	defs := feature.DefaultDefinitions()
	require.Len(t, Fields, len(defs))
	for i, d := range defs {
		assert.Equal(t, d.Name, Fields[i].Name)
		assert.Equal(t, d.Kind, Fields[i].Kind, d.Name)
	}

	seen := map[string]bool{}
	for _, c := range Columns() {
		assert.False(t, seen[c], "duplicate column %s", c)
		assert.Equal(t, strings.ToLower(c), c)
		seen[c] = true
	}
}

func TestFieldValue(t *testing.T) {
	r := &Record{}
	for _, f := range Fields {
		assert.Nil(t, f.Value(r), f.Name)
	}
	Fields[0].Set(r, feature.F32(4.25))
	assert.Equal(t, float32(4.25), Fields[0].Value(r))
}
