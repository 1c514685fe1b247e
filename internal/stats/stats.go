// Package stats summarises an analysed batch and appends the summary to a shared
// SQL script.
package stats

import (
	"slices"

	"github.com/andresmejia3/spectra/internal/frame"
)

// Mean computes the average of a slice.
func Mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

// Median returns the middle value, averaging the two middle values for even lengths.
// x is not modified.
func Median(x []float64) float64 {
	n := len(x)
	if n == 0 {
		return 0
	}
	s := slices.Clone(x)
	slices.Sort(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// Variance computes the population variance in two passes.
func Variance(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	mean := Mean(x)
	sum := 0.0
	for _, v := range x {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(x))
}

// Summary is the statistics row for one batch. Pointer fields are nil when no frame
// carried the underlying value.
type Summary struct {
	FrameCount     int
	ElapsedSeconds int64
	DeltaLgt       float64
	DeltaLat       float64
	MeanArea       *float64
	MeanRegion     *float64
	MeanAvgRad     *float64
	MedianAvgRad   *float64
	VarianceAvgRad *float64
}

// Compute summarises records in frame order. Nil values are skipped.
func Compute(records []frame.Record) Summary {
	s := Summary{FrameCount: len(records)}
	if len(records) == 0 {
		return s
	}

	first, last := &records[0], &records[len(records)-1]
	if first.Timestamp != nil && last.Timestamp != nil {
		s.ElapsedSeconds = int64(last.Timestamp.Sub(*first.Timestamp).Seconds())
	}
	if first.Lgt != nil && last.Lgt != nil {
		s.DeltaLgt = float64(*last.Lgt) - float64(*first.Lgt)
	}
	if first.Lat != nil && last.Lat != nil {
		s.DeltaLat = float64(*last.Lat) - float64(*first.Lat)
	}

	var area, region, avgRad []float64
	for i := range records {
		r := &records[i]
		if r.XjyArea != nil {
			area = append(area, float64(*r.XjyArea))
		}
		if r.MeanRegion != nil {
			region = append(region, float64(*r.MeanRegion))
		}
		if r.ApAvgRad != nil {
			avgRad = append(avgRad, float64(*r.ApAvgRad))
		}
	}

	s.MeanArea = meanOf(area)
	s.MeanRegion = meanOf(region)
	if len(avgRad) > 0 {
		mean, median, variance := Mean(avgRad), Median(avgRad), Variance(avgRad)
		s.MeanAvgRad, s.MedianAvgRad, s.VarianceAvgRad = &mean, &median, &variance
	}
	return s
}

func meanOf(x []float64) *float64 {
	if len(x) == 0 {
		return nil
	}
	m := Mean(x)
	return &m
}
