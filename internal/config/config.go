// Package config loads the spectra runtime configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then SPECTRA_*
// environment variables. Command-line flags are applied last by the caller.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andresmejia3/spectra/internal/dump"
	"github.com/andresmejia3/spectra/internal/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SPECTRA"

// DefaultDatabaseURL is used when neither the config nor POSTGRES_* name a database.
const DefaultDatabaseURL = "postgres://localhost:5432/spectra"

// Config is the complete runtime configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Paths    PathsConfig    `yaml:"paths"`
	Engine   EngineConfig   `yaml:"engine"`
	Features FeaturesConfig `yaml:"features"`
	Dump     DumpConfig     `yaml:"dump"`
	Region   RegionConfig   `yaml:"region"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// PathsConfig names the directories the pipeline reads and writes.
type PathsConfig struct {
	ResultRoot     string `yaml:"result_root"`
	StagingRoot    string `yaml:"staging_root"`
	StatisticsFile string `yaml:"statistics_file"`
}

// EngineConfig locates the native processing library and its parameters.
type EngineConfig struct {
	Library   string `yaml:"library"`
	ParamPath string `yaml:"param_path"`
	ImgType   int    `yaml:"img_type"`
}

// FeaturesConfig optionally replaces the built-in feature definitions.
type FeaturesConfig struct {
	File string `yaml:"file"`
}

type DumpConfig struct {
	ChunkSize int `yaml:"chunk_size"`
}

// RegionConfig is the file fallback for the region of interest.
type RegionConfig struct {
	File string `yaml:"file"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig holds the PostgreSQL connection string. Empty means resolve from
// POSTGRES_* variables.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// PipelineConfig bounds how long a request waits for the engine. Zero waits forever.
type PipelineConfig struct {
	Watchdog time.Duration `yaml:"watchdog"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Paths: PathsConfig{
			ResultRoot:     "data/result",
			StagingRoot:    "data/staging",
			StatisticsFile: "data/statistics.sql",
		},
		Engine: EngineConfig{
			Library:   "libimgprocess.so",
			ParamPath: filepath.Join("Parameter", "tfImg.pb"),
			ImgType:   1,
		},
		Dump:   DumpConfig{ChunkSize: dump.DefaultChunkSize},
		Region: RegionConfig{File: "data/region.yaml"},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds a configuration from defaults, the file at path (skipped when path is
// empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "Config", "Load", "read config file")
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse merges YAML data into cfg. Keys absent from data keep their current value.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.WrapInvalid(err, "Config", "Parse", "decode yaml")
	}
	return nil
}

// ApplyEnv overrides fields from SPECTRA_<SECTION>_<KEY> variables, for example
// SPECTRA_SERVER_ADDR or SPECTRA_PIPELINE_WATCHDOG.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(EnvPrefix + "_" + key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v := getenv(EnvPrefix + "_" + key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.WrapInvalid(err, "Config", "ApplyEnv", EnvPrefix+"_"+key)
		}
		*dst = n
		return nil
	}

	str("SERVER_ADDR", &c.Server.Addr)
	str("PATHS_RESULT_ROOT", &c.Paths.ResultRoot)
	str("PATHS_STAGING_ROOT", &c.Paths.StagingRoot)
	str("PATHS_STATISTICS_FILE", &c.Paths.StatisticsFile)
	str("ENGINE_LIBRARY", &c.Engine.Library)
	str("ENGINE_PARAM_PATH", &c.Engine.ParamPath)
	str("FEATURES_FILE", &c.Features.File)
	str("REGION_FILE", &c.Region.File)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("DATABASE_URL", &c.Database.URL)

	if err := integer("ENGINE_IMG_TYPE", &c.Engine.ImgType); err != nil {
		return err
	}
	if err := integer("DUMP_CHUNK_SIZE", &c.Dump.ChunkSize); err != nil {
		return err
	}
	if v := getenv(EnvPrefix + "_PIPELINE_WATCHDOG"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.WrapInvalid(err, "Config", "ApplyEnv", EnvPrefix+"_PIPELINE_WATCHDOG")
		}
		c.Pipeline.Watchdog = d
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...)
	}
	switch {
	case c.Paths.ResultRoot == "":
		return invalid("paths.result_root is required")
	case c.Paths.StagingRoot == "":
		return invalid("paths.staging_root is required")
	case c.Paths.StatisticsFile == "":
		return invalid("paths.statistics_file is required")
	case c.Dump.ChunkSize <= 0:
		return invalid("dump.chunk_size must be positive, got %d", c.Dump.ChunkSize)
	case c.Pipeline.Watchdog < 0:
		return invalid("pipeline.watchdog must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return invalid("log.format must be text or json, got %q", c.Log.Format)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return invalid("%v", err)
	}
	return nil
}

// DatabaseURL returns the configured connection string, or one assembled from
// POSTGRES_HOST, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_DB and POSTGRES_PORT.
func (c *Config) DatabaseURL(getenv func(string) string) string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	host := getenv("POSTGRES_HOST")
	if host == "" {
		return DefaultDatabaseURL
	}
	port := getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		getenv("POSTGRES_USER"), getenv("POSTGRES_PASSWORD"), host, port, getenv("POSTGRES_DB"))
}
