package feature

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/spectra/internal/errors"
)

var testDefs = []Definition{
	{Name: "a", Kind: KindF32},
	{Name: "b", Kind: KindI32},
	{Name: "c", Kind: KindI16},
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleColumns() *ColumnSet {
	cs := NewColumnSet()
	cs.Put(ConfidencesColumn, KindF32, []Value{F32(0.1), F32(0.9), F32(0.25), F32(0.75), F32(1), F32(0)})
	cs.Put("a", KindF32, []Value{F32(1.5), F32(-2.25), F32(3.125)})
	cs.Put("b", KindI32, []Value{I32(7), I32(-8), I32(1 << 30)})
	cs.Put("c", KindI16, []Value{I16(2025), I16(-1), I16(32767)})
	return cs
}

func encodeSample(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, testDefs, 3, 2, sampleColumns()))
	return buf.Bytes()
}

func TestDecodeRoundTrip(t *testing.T) {
	data := encodeSample(t)
	// 12 header + 24 confidences + 12 + 12 + 6
	require.Len(t, data, 66)

	cs, err := NewDecoder(testDefs, WithStrict(), WithLogger(quietLogger())).DecodeReader(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, []string{ConfidencesColumn, "a", "b", "c"}, cs.Names())
	assert.Equal(t, 3, cs.Frames())

	want := sampleColumns()
	for _, name := range want.Names() {
		got, ok := cs.Get(name)
		require.True(t, ok, name)
		exp, _ := want.Get(name)
		assert.Equal(t, exp, got, name)
	}
}

func TestDecodeHeaderIsLittleEndian(t *testing.T) {
	data := encodeSample(t)
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(data[0:4]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(data[4:8]))
}

func TestDecodeNoFrames(t *testing.T) {
	for _, n := range []int32{0, -4} {
		var buf bytes.Buffer
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, n))
		// Garbage after the header must not be read.
		buf.Write([]byte{0xde, 0xad})

		cs, err := NewDecoder(testDefs, WithLogger(quietLogger())).DecodeReader(&buf)
		require.NoError(t, err)
		assert.False(t, cs.Has(ConfidencesColumn))
		assert.Equal(t, []string{"a", "b", "c"}, cs.Names())
		for _, name := range cs.Names() {
			v, _ := cs.Get(name)
			assert.Empty(t, v, name)
		}
		assert.Equal(t, 0, cs.Frames())
	}
}

func TestDecodeWithoutCategories(t *testing.T) {
	cs := sampleColumns()
	noConf := NewColumnSet()
	for _, name := range []string{"a", "b", "c"} {
		c, _ := cs.Column(name)
		noConf.Put(c.Name, c.Kind, c.Values)
	}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, testDefs, 3, 0, noConf))

	got, err := NewDecoder(testDefs, WithStrict(), WithLogger(quietLogger())).DecodeReader(&buf)
	require.NoError(t, err)
	assert.False(t, got.Has(ConfidencesColumn))
	assert.Equal(t, 3, got.Frames())
}

func TestDecodeTruncated(t *testing.T) {
	data := encodeSample(t)

	tests := []struct {
		name   string
		length int
		field  string
		frame  int
	}{
		{"empty file", 0, "numFrames", -1},
		{"inside numFrames", 2, "numFrames", -1},
		{"inside categoryNum", 6, "categoryNum", -1},
		{"inside categoryType", 10, "categoryType", -1},
		{"inside confidences", 20, ConfidencesColumn, 2},
		{"inside float column", 40, "a", 1},
		{"at int column start", 48, "b", 0},
		{"inside int column", 50, "b", 0},
		{"last short missing", 64, "c", 2},
		{"last short half", 65, "c", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(testDefs, WithLogger(quietLogger())).DecodeReader(bytes.NewReader(data[:tt.length]))
			require.Error(t, err)

			var fe *FormatError
			require.True(t, errors.As(err, &fe), "expected FormatError, got %T", err)
			assert.Equal(t, tt.field, fe.Field)
			assert.Equal(t, tt.frame, fe.Frame)
			assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
			assert.ErrorIs(t, err, errors.ErrInvalidData)
		})
	}
}

func TestDecodeTrailingBytes(t *testing.T) {
	data := append(encodeSample(t), 0x00)

	_, err := NewDecoder(testDefs, WithLogger(quietLogger())).DecodeReader(bytes.NewReader(data))
	assert.NoError(t, err, "lenient mode ignores trailing bytes")

	_, err = NewDecoder(testDefs, WithStrict(), WithLogger(quietLogger())).DecodeReader(bytes.NewReader(data))
	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "eof", fe.Field)
	assert.ErrorIs(t, err, ErrTrailingBytes)
}

func TestDecodeFullyConsumes(t *testing.T) {
	data := encodeSample(t)
	r := bytes.NewReader(data)
	_, err := NewDecoder(testDefs, WithLogger(quietLogger())).DecodeReader(io.LimitReader(r, int64(len(data))))
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestDecodeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Feature.dat")
	require.NoError(t, os.WriteFile(path, encodeSample(t), 0o644))

	cs, err := NewDecoder(testDefs, WithLogger(quietLogger())).Decode(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cs.Frames())

	_, err = NewDecoder(testDefs, WithLogger(quietLogger())).Decode(filepath.Join(t.TempDir(), "missing.dat"))
	assert.Error(t, err)
}

func TestDecodeDefaultDefinitions(t *testing.T) {
	defs := DefaultDefinitions()
	require.Len(t, defs, 38)

	cs := NewColumnSet()
	cs.Put(ConfidencesColumn, KindF32, []Value{F32(0.5), F32(0.5)})
	for i, d := range defs {
		var v Value
		switch d.Kind {
		case KindF32:
			v = F32(float32(i) + 0.5)
		case KindI32:
			v = I32(int32(i) * 100)
		case KindI16:
			v = I16(int16(i))
		}
		cs.Put(d.Name, d.Kind, []Value{v})
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, defs, 1, 2, cs))

	got, err := NewDecoder(defs, WithStrict(), WithLogger(quietLogger())).DecodeReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, cs.Names(), got.Names())
	msec, _ := got.Get("msec")
	assert.Equal(t, KindF32, msec[0].Kind())
	year, _ := got.Get("year")
	assert.Equal(t, KindI16, year[0].Kind())
}

func TestColumnSetMarshalJSON(t *testing.T) {
	cs := NewColumnSet()
	cs.Put("z", KindI32, []Value{I32(1), I32(2)})
	cs.Put("a", KindF32, []Value{F32(0.5)})
	cs.Put("e", KindI16, nil)

	data, err := cs.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"z":[1,2],"a":[0.5],"e":[]}`, string(data))
}

func TestSynthesizeRoundTrip(t *testing.T) {
	defs := DefaultDefinitions()
	start := time.Date(2025, 10, 30, 19, 40, 38, 500_000_000, time.UTC)
	cs := Synthesize(defs, SynthOptions{Frames: 4, Categories: 3, Start: start, Interval: time.Second, Seed: 7})

	var buf bytes.Buffer
	if err := Encode(&buf, defs, 4, 3, cs); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := NewDecoder(defs, WithStrict()).DecodeReader(&buf)
	if err != nil {
		t.Fatalf("DecodeReader failed: %v", err)
	}
	if got.Frames() != 4 || len(got.Confidences()) != 12 {
		t.Fatalf("Expected 4 frames and 12 confidences, got %d and %d", got.Frames(), len(got.Confidences()))
	}
	sec, _ := got.Get("sec")
	if sec[3].Int16() != 41 {
		t.Errorf("Expected sec 41 on frame 3, got %d", sec[3].Int16())
	}
	msec, _ := got.Get("msec")
	if msec[0].Float32() != 500 {
		t.Errorf("Expected msec 500, got %v", msec[0].Float32())
	}
}
