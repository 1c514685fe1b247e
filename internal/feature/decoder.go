// Package feature decodes the Feature.dat file written by the recognition engine.
//
// Layout, little-endian throughout:
//
//	int32   numFrames
//	int32   categoryNum
//	int32   categoryType            (reserved, discarded)
//	float32 confidences[numFrames*categoryNum]   (only when categoryNum > 0)
//	for each configured definition:
//	    T   values[numFrames]       (T is float32, int32 or int16)
//
// When numFrames <= 0 nothing after the first int32 is read.
package feature

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/andresmejia3/spectra/internal/errors"
)

// FormatError reports a truncated or malformed Feature.dat. Field names the logical
// field being read; Frame is the element index within that field, or -1 for scalars.
type FormatError struct {
	Field string
	Frame int
	Err   error
}

func (e *FormatError) Error() string {
	if e.Frame >= 0 {
		return fmt.Sprintf("feature file: reading %s[%d]: %v", e.Field, e.Frame, e.Err)
	}
	return fmt.Sprintf("feature file: reading %s: %v", e.Field, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, errors.ErrInvalidData) match any format error.
func (e *FormatError) Is(target error) bool { return target == errors.ErrInvalidData }

// ErrTrailingBytes is reported in strict mode when data follows the last column.
var ErrTrailingBytes = errors.New("unexpected trailing bytes")

// maxPrealloc caps slice preallocation so a corrupt header cannot force a huge allocation
// before the short read is detected.
const maxPrealloc = 1 << 16

// Decoder parses Feature.dat files against a fixed definition list.
type Decoder struct {
	defs   []Definition
	strict bool
	logger *slog.Logger
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithStrict makes the decoder reject files with bytes after the last column.
func WithStrict() Option {
	return func(d *Decoder) { d.strict = true }
}

// WithLogger sets the logger used for decode diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Decoder) { d.logger = l }
}

// NewDecoder creates a decoder for the given ordered definitions.
func NewDecoder(defs []Definition, opts ...Option) *Decoder {
	d := &Decoder{defs: defs, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "feature-decoder")
	return d
}

// Definitions returns the decoder's ordered definitions.
func (d *Decoder) Definitions() []Definition { return d.defs }

// Decode opens and parses the file at path.
func (d *Decoder) Decode(path string) (*ColumnSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "Decoder", "Decode", "open feature file")
	}
	defer f.Close()

	cs, err := d.DecodeReader(f)
	if err != nil {
		d.logger.Error("feature file decode failed", "path", path, "error", err)
		return nil, err
	}
	d.logger.Info("feature file decoded", "path", path, "columns", cs.Len(), "frames", cs.Frames())
	return cs, nil
}

// DecodeReader parses a Feature.dat stream.
func (d *Decoder) DecodeReader(r io.Reader) (*ColumnSet, error) {
	br := bufio.NewReader(r)
	var scratch [4]byte
	cs := NewColumnSet()

	numFrames, err := readInt32(br, scratch[:], "numFrames", -1)
	if err != nil {
		return nil, err
	}
	if numFrames <= 0 {
		d.logger.Warn("feature file has no frames", "numFrames", numFrames)
		for _, def := range d.defs {
			cs.Put(def.Name, def.Kind, []Value{})
		}
		return cs, nil
	}

	categoryNum, err := readInt32(br, scratch[:], "categoryNum", -1)
	if err != nil {
		return nil, err
	}
	if _, err := readInt32(br, scratch[:], "categoryType", -1); err != nil {
		return nil, err
	}

	if categoryNum > 0 {
		total := int64(numFrames) * int64(categoryNum)
		if total > math.MaxInt32 {
			return nil, &FormatError{Field: ConfidencesColumn, Frame: -1,
				Err: fmt.Errorf("%d frames x %d categories overflows", numFrames, categoryNum)}
		}
		conf, err := readColumn(br, scratch[:], ConfidencesColumn, KindF32, int(total))
		if err != nil {
			return nil, err
		}
		cs.Put(ConfidencesColumn, KindF32, conf)
	}

	for _, def := range d.defs {
		values, err := readColumn(br, scratch[:], def.Name, def.Kind, int(numFrames))
		if err != nil {
			return nil, err
		}
		cs.Put(def.Name, def.Kind, values)
	}

	if d.strict {
		if _, err := br.ReadByte(); err == nil {
			return nil, &FormatError{Field: "eof", Frame: -1, Err: ErrTrailingBytes}
		} else if err != io.EOF {
			return nil, &FormatError{Field: "eof", Frame: -1, Err: err}
		}
	}
	return cs, nil
}

func readInt32(r io.Reader, buf []byte, field string, frame int) (int32, error) {
	if _, err := io.ReadFull(r, buf[:4]); err != nil {
		return 0, &FormatError{Field: field, Frame: frame, Err: shortRead(err)}
	}
	return int32(binary.LittleEndian.Uint32(buf[:4])), nil
}

func readColumn(r io.Reader, buf []byte, field string, kind Kind, n int) ([]Value, error) {
	values := make([]Value, 0, min(n, maxPrealloc))
	size := kind.Size()
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, buf[:size]); err != nil {
			return nil, &FormatError{Field: field, Frame: i, Err: shortRead(err)}
		}
		switch kind {
		case KindF32:
			values = append(values, F32(math.Float32frombits(binary.LittleEndian.Uint32(buf[:4]))))
		case KindI32:
			values = append(values, I32(int32(binary.LittleEndian.Uint32(buf[:4]))))
		case KindI16:
			values = append(values, I16(int16(binary.LittleEndian.Uint16(buf[:2]))))
		default:
			return nil, &FormatError{Field: field, Frame: -1, Err: fmt.Errorf("unsupported kind %d", kind)}
		}
	}
	return values, nil
}

// shortRead normalises a clean EOF at a field boundary to io.ErrUnexpectedEOF:
// any missing bytes inside the declared layout are a truncation.
func shortRead(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
