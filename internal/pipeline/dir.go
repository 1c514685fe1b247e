package pipeline

import (
	"os"
	"path/filepath"

	"github.com/andresmejia3/spectra/internal/errors"
	"github.com/andresmejia3/spectra/internal/utils"
)

// DirUploads opens every regular file in dir, in natural name order, as uploads.
// The returned func closes them.
func DirUploads(dir string) ([]Upload, func(), error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, func() {}, errors.Wrap(err, "Pipeline", "DirUploads", "read input directory")
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	utils.SortNatural(names)

	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	uploads := make([]Upload, 0, len(names))
	for _, name := range names {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			closeAll()
			return nil, func() {}, errors.Wrap(err, "Pipeline", "DirUploads", "open "+name)
		}
		files = append(files, f)
		uploads = append(uploads, Upload{Name: name, Body: f})
	}
	return uploads, closeAll, nil
}
