// Package frame turns decoded feature columns into per-frame records.
package frame

import "time"

// Record is one analysed frame. Feature fields are nil when the engine did not
// produce a value for that frame.
type Record struct {
	AnalysisID string
	FrameIndex int
	CreatedAt  time.Time
	// Timestamp is reconstructed from year..msec and is always UTC.
	Timestamp   *time.Time
	Confidences string

	Variance    *float32
	MeanRegion  *float32
	SCR         *float32
	Contrast    *float32
	Entropy     *float32
	Homogeneity *float32
	Smoothness  *float32
	Skewness    *float32
	Kurtosis    *float32
	AspectRatio *float32
	LongAxis    *float32
	ShortAxis   *float32

	XjyArea                *int32
	PeakCellIntensity      *float32
	XjyBackgroundIntensity *float32

	TLXs    *int32
	TLYs    *int32
	Widths  *int32
	Heights *int32

	PeakPosX       *int32
	PeakPosY       *int32
	PixelVelocityX *float32
	PixelVelocityY *float32

	ApMaxRad                *float32
	ApTotalRad              *float32
	ApAvgRad                *float32
	BrightnessTemperature   *float32
	BrightnessTemperatureBG *float32

	Lgt *float32
	Lat *float32
	Alt *float32

	Year  *int16
	Month *int16
	Day   *int16
	Hour  *int16
	Min   *int16
	Sec   *int16
	Msec  *float32

	// RawPath is the uploaded source file paired with this frame by position.
	RawPath string
}

// Batch is the ordered record list of one analysis plus the raw paths it was built from.
type Batch struct {
	AnalysisID string
	Records    []Record
	RawPaths   []string
}

// Len is the number of frames in the batch.
func (b *Batch) Len() int { return len(b.Records) }

// Mismatched reports whether the raw path count differs from the frame count.
func (b *Batch) Mismatched() bool { return len(b.RawPaths) != len(b.Records) }
