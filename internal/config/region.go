package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/andresmejia3/spectra/internal/errors"
	"github.com/andresmejia3/spectra/internal/types"
)

// RegionRepository persists the region of interest. *store.Store implements it.
type RegionRepository interface {
	LoadRegion(ctx context.Context) (types.Region, bool, error)
	SaveRegion(ctx context.Context, r types.Region) error
}

// regionFile is the on-disk layout of the region fallback file.
type regionFile struct {
	Region struct {
		X      int `yaml:"x"`
		Y      int `yaml:"y"`
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
	} `yaml:"region"`
	Algorithm struct {
		LR float64 `yaml:"lr"`
	} `yaml:"algorithm"`
}

// RegionStore serves the region of interest from the database row when present and
// from the YAML file otherwise. Saves go to both.
type RegionStore struct {
	mu     sync.Mutex
	repo   RegionRepository
	file   string
	logger *slog.Logger
}

// NewRegionStore creates a region store. repo may be nil to use the file alone.
func NewRegionStore(repo RegionRepository, file string, logger *slog.Logger) *RegionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegionStore{repo: repo, file: file, logger: logger.With("component", "region")}
}

// Get returns the current region.
func (s *RegionStore) Get(ctx context.Context) (types.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo != nil {
		r, found, err := s.repo.LoadRegion(ctx)
		if err != nil {
			return types.Region{}, err
		}
		if found {
			s.logger.Debug("region loaded from database")
			return r, nil
		}
	}
	s.logger.Debug("no stored region, reading file", "path", s.file)
	return s.readFile()
}

// Save validates r, writes it to the database and then rewrites the file.
func (s *RegionStore) Save(ctx context.Context, r types.Region) error {
	if err := ValidateRegion(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.SaveRegion(ctx, r); err != nil {
			return err
		}
	}
	if err := s.writeFile(r); err != nil {
		return err
	}
	s.logger.Info("region saved", "x", r.X, "y", r.Y, "width", r.Width, "height", r.Height, "lr", r.LR)
	return nil
}

// ValidateRegion rejects negative coordinates and sizes.
func ValidateRegion(r types.Region) error {
	if r.X < 0 || r.Y < 0 || r.Width < 0 || r.Height < 0 {
		return fmt.Errorf("%w: region must not be negative: %+v", errors.ErrInvalidArgument, r)
	}
	return nil
}

func (s *RegionStore) readFile() (types.Region, error) {
	data, err := os.ReadFile(s.file)
	if err != nil {
		if os.IsNotExist(err) {
			return types.Region{}, fmt.Errorf("%w: region file %s", errors.ErrConfigNotFound, s.file)
		}
		return types.Region{}, errors.Wrap(err, "RegionStore", "Get", "read region file")
	}
	var rf regionFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return types.Region{}, errors.WrapInvalid(err, "RegionStore", "Get", "decode region file")
	}
	return types.Region{
		X:      rf.Region.X,
		Y:      rf.Region.Y,
		Width:  rf.Region.Width,
		Height: rf.Region.Height,
		LR:     rf.Algorithm.LR,
	}, nil
}

func (s *RegionStore) writeFile(r types.Region) error {
	var rf regionFile
	rf.Region.X, rf.Region.Y = r.X, r.Y
	rf.Region.Width, rf.Region.Height = r.Width, r.Height
	rf.Algorithm.LR = r.LR

	data, err := yaml.Marshal(&rf)
	if err != nil {
		return errors.Wrap(err, "RegionStore", "Save", "encode region file")
	}
	if err := os.MkdirAll(filepath.Dir(s.file), 0o755); err != nil {
		return errors.Wrap(err, "RegionStore", "Save", "create region directory")
	}
	tmp := s.file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "RegionStore", "Save", "write region file")
	}
	return errors.Wrap(os.Rename(tmp, s.file), "RegionStore", "Save", "replace region file")
}
