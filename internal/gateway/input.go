package gateway

import (
	"fmt"
	"math"

	"github.com/andresmejia3/spectra/internal/errors"
	"github.com/andresmejia3/spectra/internal/native"
)

// Mode selects the engine's processing path.
type Mode int32

const (
	ModeSingle Mode = 0
	ModeMulti  Mode = 1
	// ModeTrack processes frames along a supplied track file.
	ModeTrack Mode = 2
)

func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeMulti:
		return "multi"
	case ModeTrack:
		return "track"
	default:
		return fmt.Sprintf("mode(%d)", int32(m))
	}
}

// ParseMode accepts the numeric wire value.
func ParseMode(v int) (Mode, error) {
	m := Mode(v)
	switch m {
	case ModeSingle, ModeMulti, ModeTrack:
		return m, nil
	}
	return 0, fmt.Errorf("unknown mode %d: %w", v, errors.ErrInvalidArgument)
}

// Crop is a region of interest in image pixels.
type Crop struct {
	X, Y, Width, Height int
}

// Input describes one engine call. It is not modified by the gateway.
type Input struct {
	AlgorithmName string
	Mode          Mode
	FileNum       int
	Crop          *Crop

	OutputDir string
	ParamPath string
	TrackPath string
	InImgDir  string

	ImgType int
	ID      int
}

// Validate rejects inputs the engine would misbehave on.
func (in Input) Validate() error {
	switch {
	case in.AlgorithmName == "":
		return fmt.Errorf("algorithm name is required: %w", errors.ErrInvalidArgument)
	case in.FileNum <= 0:
		return fmt.Errorf("file count must be positive, got %d: %w", in.FileNum, errors.ErrInvalidArgument)
	case in.InImgDir == "":
		return fmt.Errorf("input image directory is required: %w", errors.ErrInvalidArgument)
	case in.Mode == ModeTrack && in.TrackPath == "":
		return fmt.Errorf("mode %s requires a track file: %w", in.Mode, errors.ErrInvalidArgument)
	}
	if _, err := ParseMode(int(in.Mode)); err != nil {
		return err
	}
	if c := in.Crop; c != nil && (c.X < 0 || c.Y < 0 || c.Width < 0 || c.Height < 0) {
		return fmt.Errorf("crop region %+v has negative values: %w", *c, errors.ErrInvalidArgument)
	}
	return in.checkRange()
}

type int32Field struct {
	name string
	v    int
}

// checkRange rejects values that would wrap when narrowed to the engine's int32 fields.
func (in Input) checkRange() error {
	fields := []int32Field{{"file count", in.FileNum}, {"image type", in.ImgType}, {"id", in.ID}}
	if c := in.Crop; c != nil {
		fields = append(fields,
			int32Field{"crop x", c.X}, int32Field{"crop y", c.Y},
			int32Field{"crop width", c.Width}, int32Field{"crop height", c.Height})
	}
	for _, f := range fields {
		if f.v < math.MinInt32 || f.v > math.MaxInt32 {
			return fmt.Errorf("%s %d does not fit in int32: %w", f.name, f.v, errors.ErrInvalidArgument)
		}
	}
	return nil
}
