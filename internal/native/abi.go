// Package native binds the recognition engine's shared library.
//
// The structs below mirror the engine's C declarations field for field. They are
// allocated in C memory for each call so the engine never sees Go-managed memory.
//
//	struct CropBox       { int x, y, width, height; };
//	struct InputPathSet  { char *outputDir, *par_path, *trackPath, *inImgDir; };   // caller-owned
//	struct InputData     { InputPathSet inputPathSet; const char *algorithmName;
//	                       int fileNum, mode, imgType, id; CropBox crop; };
//	struct OutputPathSet { char *feature_path, *outImgDir; };                      // engine-owned
//	struct OutputData    { OutputPathSet outputPathSet; char *message; int fileNum; };
//
//	int  processImageWrapper(const InputData*, OutputData*);
//	void freeOutputData(OutputData*);
package native

import (
	"fmt"
	"unsafe"

	"github.com/andresmejia3/spectra/internal/errors"
)

// Exported symbol names resolved from the engine library.
const (
	ProcessSymbol = "processImageWrapper"
	FreeSymbol    = "freeOutputData"
)

// CropBox is the region of interest applied by the engine.
type CropBox struct {
	X      int32
	Y      int32
	Width  int32
	Height int32
}

// InputPathSet holds caller-owned C strings. A nil pointer passes NULL.
type InputPathSet struct {
	OutputDir unsafe.Pointer
	ParPath   unsafe.Pointer
	TrackPath unsafe.Pointer
	InImgDir  unsafe.Pointer
}

// InputData is the request block handed to processImageWrapper.
type InputData struct {
	PathSet       InputPathSet
	AlgorithmName unsafe.Pointer
	FileNum       int32
	Mode          int32
	ImgType       int32
	ID            int32
	Crop          CropBox
}

// OutputPathSet holds engine-owned C strings.
type OutputPathSet struct {
	FeaturePath unsafe.Pointer
	OutImgDir   unsafe.Pointer
}

// OutputData is filled by processImageWrapper and released by freeOutputData.
type OutputData struct {
	PathSet OutputPathSet
	Message unsafe.Pointer
	FileNum int32
}

// Request is the Go-side view of InputData. Empty strings are passed as NULL.
type Request struct {
	OutputDir     string
	ParamPath     string
	TrackPath     string
	InImgDir      string
	AlgorithmName string
	FileNum       int32
	Mode          int32
	ImgType       int32
	ID            int32
	Crop          CropBox
}

// LinkError reports that the engine library or one of its symbols could not be loaded.
// It is raised once by Open and makes the binding unusable.
type LinkError struct {
	Library string
	Symbol  string
	Err     error
}

func (e *LinkError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("native: resolve %s in %s: %v", e.Symbol, e.Library, e.Err)
	}
	return fmt.Sprintf("native: load %s: %v", e.Library, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// ErrNoCgo is the LinkError cause on builds without cgo.
var ErrNoCgo = errors.New("built without cgo support")
