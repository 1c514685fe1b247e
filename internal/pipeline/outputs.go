package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/spectra/internal/errors"
	"github.com/andresmejia3/spectra/internal/feature"
	"github.com/andresmejia3/spectra/internal/types"
	"github.com/andresmejia3/spectra/internal/utils"
)

const roiPrefix = "roi_"

// ListOutputs lists the .png images in outDir in natural order. Images with a roi_
// companion report it as an interest image. Each output image is mapped back to the
// upload whose stem matches the image name before its last "_", falling back to the
// first upload.
func ListOutputs(outDir string, originals []string) (types.ResultFiles, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return types.ResultFiles{}, err
	}

	var pngs []string
	present := make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(name), ".png") {
			continue
		}
		pngs = append(pngs, name)
		present[name] = true
	}
	utils.SortNatural(pngs)

	files := types.ResultFiles{
		OriginalNames:      []string{},
		InterestImageNames: []string{},
		OutputImageNames:   []string{},
	}
	for _, name := range pngs {
		if strings.HasPrefix(strings.ToLower(name), roiPrefix) {
			continue
		}
		files.OutputImageNames = append(files.OutputImageNames, name)
		if present[roiPrefix+name] {
			files.InterestImageNames = append(files.InterestImageNames, roiPrefix+name)
		}
		files.OriginalNames = append(files.OriginalNames, originalFor(name, originals))
	}
	return files, nil
}

func originalFor(png string, originals []string) string {
	if len(originals) == 0 {
		return ""
	}
	base := png
	if i := strings.LastIndex(png, "_"); i >= 0 {
		base = png[:i]
	}
	for _, o := range originals {
		if utils.Stem(o) == base {
			return base + ".dat"
		}
	}
	return utils.Stem(originals[0]) + ".dat"
}

// ResultDir resolves a result path reported to a client back to a directory below
// the result root. Relative paths keep only their last element.
func (p *Pipeline) ResultDir(resultPath string) (string, error) {
	if strings.TrimSpace(resultPath) == "" {
		return "", fmt.Errorf("result path is required: %w", errors.ErrInvalidArgument)
	}
	root, err := filepath.Abs(p.opts.ResultRoot)
	if err != nil {
		return "", errors.Wrap(err, "Pipeline", "ResultDir", "resolve result root")
	}
	var dir string
	if filepath.IsAbs(resultPath) {
		dir = filepath.Clean(resultPath)
	} else {
		base := filepath.Base(filepath.Clean(resultPath))
		if base == "." || base == ".." || base == string(filepath.Separator) {
			return "", fmt.Errorf("invalid result path %q: %w", resultPath, errors.ErrInvalidArgument)
		}
		dir = filepath.Join(root, base)
	}
	if !within(root, dir) {
		return "", fmt.Errorf("result path %q is outside the result root: %w", resultPath, errors.ErrInvalidArgument)
	}
	return dir, nil
}

// FeatureData decodes the feature file of a result directory.
func (p *Pipeline) FeatureData(resultPath string) (*feature.ColumnSet, error) {
	dir, err := p.ResultDir(resultPath)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, FeatureFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("feature file %s: %w", path, ErrNotFound)
	}
	cols, err := p.decoder.Decode(path)
	if err != nil {
		p.metrics.RecordDecode(0, err)
		return nil, err
	}
	p.metrics.RecordDecode(cols.Frames(), nil)
	return cols, nil
}

// ImagePath resolves file inside the result folder, rejecting anything that would
// leave the result root.
func (p *Pipeline) ImagePath(folder, file string) (string, error) {
	if err := utils.SafeName(file); err != nil {
		return "", fmt.Errorf("%v: %w", err, errors.ErrInvalidArgument)
	}
	dir, err := p.ResultDir(folder)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, file)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("image %s: %w", path, ErrNotFound)
	}
	return path, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
