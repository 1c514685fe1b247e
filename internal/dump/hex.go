package dump

import (
	"io"
)

// DefaultChunkSize is the read size used when streaming raw files into a dump.
const DefaultChunkSize = 32 * 1024

const hexDigits = "0123456789ABCDEF"

// HexBlob copies r to w as uppercase hexadecimal, two characters per byte.
// At most chunkSize bytes and their 2*chunkSize expansion are held at once.
// It returns the number of source bytes consumed.
func HexBlob(w io.Writer, r io.Reader, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return hexCopy(w, r, make([]byte, chunkSize), make([]byte, 2*chunkSize))
}

// hexCopy is HexBlob with caller-owned buffers; len(dst) must be 2*len(src).
func hexCopy(w io.Writer, r io.Reader, src, dst []byte) (int64, error) {
	var total int64
	for {
		n, err := r.Read(src)
		if n > 0 {
			for i, b := range src[:n] {
				dst[2*i] = hexDigits[b>>4]
				dst[2*i+1] = hexDigits[b&0x0f]
			}
			if _, werr := w.Write(dst[:2*n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
