//go:build cgo

package native

/*
#cgo linux LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdint.h>
#include <stdlib.h>

typedef int32_t (*process_fn)(const void *in, void *out);
typedef void (*free_fn)(void *out);

static int32_t call_process(void *fn, const void *in, void *out) {
	return ((process_fn)fn)(in, out);
}

static void call_free(void *fn, void *out) {
	((free_fn)fn)(out);
}
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/andresmejia3/spectra/internal/errors"
)

// Library is a loaded engine library.
type Library struct {
	path    string
	handle  unsafe.Pointer
	process unsafe.Pointer
	free    unsafe.Pointer
	once    sync.Once
}

// Open loads the engine library and resolves both entry points.
func Open(path string) (*Library, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	C.dlerror()
	handle := C.dlopen(cpath, C.RTLD_NOW|C.RTLD_LOCAL)
	if handle == nil {
		return nil, &LinkError{Library: path, Err: dlError()}
	}

	lib := &Library{path: path, handle: handle}
	for _, sym := range []struct {
		name string
		dst  *unsafe.Pointer
	}{
		{ProcessSymbol, &lib.process},
		{FreeSymbol, &lib.free},
	} {
		cname := C.CString(sym.name)
		C.dlerror()
		p := C.dlsym(handle, cname)
		C.free(unsafe.Pointer(cname))
		if p == nil {
			err := dlError()
			C.dlclose(handle)
			return nil, &LinkError{Library: path, Symbol: sym.name, Err: err}
		}
		*sym.dst = p
	}
	return lib, nil
}

func dlError() error {
	if msg := C.dlerror(); msg != nil {
		return errors.New(C.GoString(msg))
	}
	return errors.New("unknown dynamic linker error")
}

// Path returns the file the library was loaded from.
func (l *Library) Path() string { return l.path }

// Close unloads the library. Outputs still held must be released first.
func (l *Library) Close() error {
	var err error
	l.once.Do(func() {
		if C.dlclose(l.handle) != 0 {
			err = dlError()
		}
	})
	return err
}

// Process calls processImageWrapper. The returned Output is engine-owned and must be
// released exactly once, whatever the status.
func (l *Library) Process(req Request) (*Output, int32) {
	in := (*InputData)(C.calloc(1, C.size_t(unsafe.Sizeof(InputData{}))))
	defer C.free(unsafe.Pointer(in))

	var owned []unsafe.Pointer
	defer func() {
		for _, p := range owned {
			C.free(p)
		}
	}()
	cstr := func(s string) unsafe.Pointer {
		if s == "" {
			return nil
		}
		p := unsafe.Pointer(C.CString(s))
		owned = append(owned, p)
		return p
	}

	in.PathSet = InputPathSet{
		OutputDir: cstr(req.OutputDir),
		ParPath:   cstr(req.ParamPath),
		TrackPath: cstr(req.TrackPath),
		InImgDir:  cstr(req.InImgDir),
	}
	in.AlgorithmName = cstr(req.AlgorithmName)
	in.FileNum = req.FileNum
	in.Mode = req.Mode
	in.ImgType = req.ImgType
	in.ID = req.ID
	in.Crop = req.Crop

	out := (*OutputData)(C.calloc(1, C.size_t(unsafe.Sizeof(OutputData{}))))
	status := C.call_process(l.process, unsafe.Pointer(in), unsafe.Pointer(out))
	return &Output{lib: l, data: out}, int32(status)
}

// Output is the engine-owned result of one Process call.
type Output struct {
	lib  *Library
	data *OutputData
}

func goString(p unsafe.Pointer) string {
	if p == nil {
		return ""
	}
	return C.GoString((*C.char)(p))
}

// FeaturePath is the Feature.dat written by the engine.
func (o *Output) FeaturePath() string { return goString(o.data.PathSet.FeaturePath) }

// OutImgDir is the directory holding the rendered images.
func (o *Output) OutImgDir() string { return goString(o.data.PathSet.OutImgDir) }

// Message is the engine's status text.
func (o *Output) Message() string { return goString(o.data.Message) }

// FileNum is the number of frames the engine produced.
func (o *Output) FileNum() int32 { return o.data.FileNum }

// Release hands the strings back to freeOutputData and frees the descriptor.
// Later calls are no-ops.
func (o *Output) Release() {
	if o.data == nil {
		return
	}
	C.call_free(o.lib.free, unsafe.Pointer(o.data))
	C.free(unsafe.Pointer(o.data))
	o.data = nil
}
