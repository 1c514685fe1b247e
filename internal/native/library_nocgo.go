//go:build !cgo

package native

// Library is unavailable without cgo; Open always fails with a LinkError.
type Library struct{}

// Open reports ErrNoCgo.
func Open(path string) (*Library, error) {
	return nil, &LinkError{Library: path, Err: ErrNoCgo}
}

// Path returns an empty string.
func (l *Library) Path() string { return "" }

// Close does nothing.
func (l *Library) Close() error { return nil }

// Process is never reachable since Open cannot succeed.
func (l *Library) Process(req Request) (*Output, int32) {
	return &Output{}, -1
}

// Output is empty without cgo.
type Output struct{}

func (o *Output) FeaturePath() string { return "" }
func (o *Output) OutImgDir() string   { return "" }
func (o *Output) Message() string     { return "" }
func (o *Output) FileNum() int32      { return 0 }
func (o *Output) Release()            {}
