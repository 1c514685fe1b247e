package feature

import (
	"math/rand"
	"time"
)

// SynthOptions shape a synthetic column set.
type SynthOptions struct {
	Frames     int
	Categories int
	// Start is the timestamp of frame 0; Interval separates consecutive frames.
	Start    time.Time
	Interval time.Duration
	Seed     int64
}

// Synthesize builds a column set that satisfies every invariant of defs: one value per
// frame for each column and Frames*Categories confidences summing to 1 per frame.
// Columns named year, month, day, hour, min, sec and msec carry the frame timestamp.
func Synthesize(defs []Definition, o SynthOptions) *ColumnSet {
	rng := rand.New(rand.NewSource(o.Seed))
	cs := NewColumnSet()
	if o.Frames <= 0 {
		for _, d := range defs {
			cs.Put(d.Name, d.Kind, []Value{})
		}
		return cs
	}

	if o.Categories > 0 {
		conf := make([]Value, 0, o.Frames*o.Categories)
		for i := 0; i < o.Frames; i++ {
			weights := make([]float32, o.Categories)
			var sum float32
			for c := range weights {
				weights[c] = rng.Float32() + 0.01
				sum += weights[c]
			}
			for _, w := range weights {
				conf = append(conf, F32(w/sum))
			}
		}
		cs.Put(ConfidencesColumn, KindF32, conf)
	}

	for _, d := range defs {
		values := make([]Value, o.Frames)
		for i := range values {
			ts := o.Start.UTC().Add(time.Duration(i) * o.Interval)
			values[i] = synthValue(d, ts, i, rng)
		}
		cs.Put(d.Name, d.Kind, values)
	}
	return cs
}

func synthValue(d Definition, ts time.Time, i int, rng *rand.Rand) Value {
	switch d.Name {
	case "year":
		return coerce(d.Kind, float64(ts.Year()))
	case "month":
		return coerce(d.Kind, float64(ts.Month()))
	case "day":
		return coerce(d.Kind, float64(ts.Day()))
	case "hour":
		return coerce(d.Kind, float64(ts.Hour()))
	case "min":
		return coerce(d.Kind, float64(ts.Minute()))
	case "sec":
		return coerce(d.Kind, float64(ts.Second()))
	case "msec":
		return coerce(d.Kind, float64(ts.Nanosecond()/int(time.Millisecond)))
	}
	switch d.Kind {
	case KindI32:
		return I32(int32(rng.Intn(1000) + i))
	case KindI16:
		return I16(int16(rng.Intn(100)))
	default:
		return F32(rng.Float32() * 100)
	}
}

func coerce(k Kind, v float64) Value {
	switch k {
	case KindI32:
		return I32(int32(v))
	case KindI16:
		return I16(int16(v))
	default:
		return F32(float32(v))
	}
}
