package frame

import (
	"github.com/andresmejia3/spectra/internal/feature"
)

// Field binds a Feature.dat column to a Record field and its SQL column.
type Field struct {
	Name   string // feature column name in Feature.dat
	Column string // SQL column name
	Kind   feature.Kind
	f32    func(*Record) **float32
	i32    func(*Record) **int32
	i16    func(*Record) **int16
}

func f32Field(name, column string, ref func(*Record) **float32) Field {
	return Field{Name: name, Column: column, Kind: feature.KindF32, f32: ref}
}

func i32Field(name, column string, ref func(*Record) **int32) Field {
	return Field{Name: name, Column: column, Kind: feature.KindI32, i32: ref}
}

func i16Field(name, column string, ref func(*Record) **int16) Field {
	return Field{Name: name, Column: column, Kind: feature.KindI16, i16: ref}
}

// Fields lists every typed feature field of Record in storage order.
var Fields = []Field{
	f32Field("variance", "variance", func(r *Record) **float32 { return &r.Variance }),
	f32Field("mean_region", "mean_region", func(r *Record) **float32 { return &r.MeanRegion }),
	f32Field("SCR", "scr", func(r *Record) **float32 { return &r.SCR }),
	f32Field("contrast", "contrast", func(r *Record) **float32 { return &r.Contrast }),
	f32Field("entropy", "entropy", func(r *Record) **float32 { return &r.Entropy }),
	f32Field("homogeneity", "homogeneity", func(r *Record) **float32 { return &r.Homogeneity }),
	f32Field("smoothness", "smoothness", func(r *Record) **float32 { return &r.Smoothness }),
	f32Field("skewness", "skewness", func(r *Record) **float32 { return &r.Skewness }),
	f32Field("kurtosis", "kurtosis", func(r *Record) **float32 { return &r.Kurtosis }),
	f32Field("aspectRatio", "aspect_ratio", func(r *Record) **float32 { return &r.AspectRatio }),
	f32Field("longAxis", "long_axis", func(r *Record) **float32 { return &r.LongAxis }),
	f32Field("shortAxis", "short_axis", func(r *Record) **float32 { return &r.ShortAxis }),
	i32Field("xjy_area", "xjy_area", func(r *Record) **int32 { return &r.XjyArea }),
	f32Field("peak_cell_intensity", "peak_cell_intensity", func(r *Record) **float32 { return &r.PeakCellIntensity }),
	f32Field("xjy_background_intensity", "xjy_background_intensity", func(r *Record) **float32 { return &r.XjyBackgroundIntensity }),
	i32Field("tl_xs", "tl_xs", func(r *Record) **int32 { return &r.TLXs }),
	i32Field("tl_ys", "tl_ys", func(r *Record) **int32 { return &r.TLYs }),
	i32Field("widths", "widths", func(r *Record) **int32 { return &r.Widths }),
	i32Field("heights", "heights", func(r *Record) **int32 { return &r.Heights }),
	i32Field("peakPosX", "peak_pos_x", func(r *Record) **int32 { return &r.PeakPosX }),
	i32Field("peakPosY", "peak_pos_y", func(r *Record) **int32 { return &r.PeakPosY }),
	f32Field("pixelVelocityX", "pixel_velocity_x", func(r *Record) **float32 { return &r.PixelVelocityX }),
	f32Field("pixelVelocityY", "pixel_velocity_y", func(r *Record) **float32 { return &r.PixelVelocityY }),
	f32Field("apMaxRad", "ap_max_rad", func(r *Record) **float32 { return &r.ApMaxRad }),
	f32Field("apTotalRad", "ap_total_rad", func(r *Record) **float32 { return &r.ApTotalRad }),
	f32Field("apAvgRad", "ap_avg_rad", func(r *Record) **float32 { return &r.ApAvgRad }),
	f32Field("brightnessTemperature", "brightness_temperature", func(r *Record) **float32 { return &r.BrightnessTemperature }),
	f32Field("brightnessTemperatureBG", "brightness_temperature_bg", func(r *Record) **float32 { return &r.BrightnessTemperatureBG }),
	f32Field("lgt", "lgt", func(r *Record) **float32 { return &r.Lgt }),
	f32Field("lat", "lat", func(r *Record) **float32 { return &r.Lat }),
	f32Field("alt", "alt", func(r *Record) **float32 { return &r.Alt }),
	i16Field("year", "year", func(r *Record) **int16 { return &r.Year }),
	i16Field("month", "month", func(r *Record) **int16 { return &r.Month }),
	i16Field("day", "day", func(r *Record) **int16 { return &r.Day }),
	i16Field("hour", "hour", func(r *Record) **int16 { return &r.Hour }),
	i16Field("min", "min", func(r *Record) **int16 { return &r.Min }),
	i16Field("sec", "sec", func(r *Record) **int16 { return &r.Sec }),
	f32Field("msec", "msec", func(r *Record) **float32 { return &r.Msec }),
}

// Set stores v into the record field, coerced to the field's type.
// SQLType is the PostgreSQL column type for the field.
func (f Field) SQLType() string {
	switch f.Kind {
	case feature.KindI32:
		return "INTEGER"
	case feature.KindI16:
		return "SMALLINT"
	default:
		return "REAL"
	}
}

func (f Field) Set(r *Record, v feature.Value) {
	switch f.Kind {
	case feature.KindF32:
		x := v.Float32()
		*f.f32(r) = &x
	case feature.KindI32:
		x := v.Int32()
		*f.i32(r) = &x
	case feature.KindI16:
		x := v.Int16()
		*f.i16(r) = &x
	}
}

// Value returns the field as float32, int32 or int16, or nil when unset.
func (f Field) Value(r *Record) any {
	switch f.Kind {
	case feature.KindF32:
		if p := *f.f32(r); p != nil {
			return *p
		}
	case feature.KindI32:
		if p := *f.i32(r); p != nil {
			return *p
		}
	case feature.KindI16:
		if p := *f.i16(r); p != nil {
			return *p
		}
	}
	return nil
}

// Columns returns the SQL column names of Fields in order.
func Columns() []string {
	cols := make([]string, len(Fields))
	for i, f := range Fields {
		cols[i] = f.Column
	}
	return cols
}
