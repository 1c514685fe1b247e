package feature

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Encode writes cs in the Feature.dat layout for the given definitions. categoryNum is
// written to the header; confidences must then hold numFrames*categoryNum values.
// It is the inverse of DecodeReader and backs the synth command and the decoder tests.
func Encode(w io.Writer, defs []Definition, numFrames, categoryNum int32, cs *ColumnSet) error {
	bw := bufio.NewWriter(w)
	var buf [4]byte

	putInt32 := func(v int32) error {
		binary.LittleEndian.PutUint32(buf[:], uint32(v))
		_, err := bw.Write(buf[:4])
		return err
	}

	if err := putInt32(numFrames); err != nil {
		return err
	}
	if numFrames <= 0 {
		return bw.Flush()
	}
	if err := putInt32(categoryNum); err != nil {
		return err
	}
	// categoryType is reserved.
	if err := putInt32(0); err != nil {
		return err
	}

	if categoryNum > 0 {
		conf := cs.Confidences()
		if want := int(numFrames) * int(categoryNum); len(conf) != want {
			return fmt.Errorf("confidences: have %d values, want %d", len(conf), want)
		}
		if err := writeValues(bw, buf[:], KindF32, conf); err != nil {
			return err
		}
	}

	for _, def := range defs {
		values, ok := cs.Get(def.Name)
		if !ok || len(values) != int(numFrames) {
			return fmt.Errorf("column %q: have %d values, want %d", def.Name, len(values), numFrames)
		}
		if err := writeValues(bw, buf[:], def.Kind, values); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeValues(w io.Writer, buf []byte, kind Kind, values []Value) error {
	for _, v := range values {
		switch kind {
		case KindF32:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v.Float32()))
		case KindI32:
			binary.LittleEndian.PutUint32(buf, uint32(v.Int32()))
		case KindI16:
			binary.LittleEndian.PutUint16(buf, uint16(v.Int16()))
		}
		if _, err := w.Write(buf[:kind.Size()]); err != nil {
			return err
		}
	}
	return nil
}
