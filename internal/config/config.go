package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/schema"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/sdmx"
)

const (
	// EnvConfigPath overrides the default config file location.
	EnvConfigPath = "DATAFLOW_SYNC_CONFIG"
	// DefaultPath is used when neither a flag nor EnvConfigPath is set.
	DefaultPath = "config.yaml"

	defaultTimeout = 60 * time.Second
)

// Config is the runtime configuration, loaded once and passed into each component.
type Config struct {
	// Dir is the directory relative paths were resolved against.
	Dir      string   `yaml:"-"`
	Paths    Paths    `yaml:"PATHS"`
	API      API      `yaml:"API"`
	Diff     Diff     `yaml:"DIFF"`
	Schedule Schedule `yaml:"SCHEDULE"`
}

// Paths locates every managed file. Relative entries resolve against Config.Dir.
type Paths struct {
	DataChangesFile string `yaml:"DATA_CHANGES_FILE"`
	OldFile         string `yaml:"OLD_FILE"`
	NewFile         string `yaml:"NEW_FILE"`
	ResultFile      string `yaml:"RESULT_FILE"`
	ArchiveFolder   string `yaml:"ARCHIVE_FOLDER"`
	OutputFolder    string `yaml:"OUTPUT_FOLDER"`
	LogFolder       string `yaml:"LOG_FOLDER"`
}

// API holds the registry endpoints. Templates use {agency_id}, {dataflow_id} and {version}.
type API struct {
	DataflowInfo   string        `yaml:"DATAFLOW_INFO"`
	DataQuery      string        `yaml:"DATA_QUERY"`
	StructureQuery string        `yaml:"STRUCTURE_QUERY"`
	Timeout        time.Duration `yaml:"TIMEOUT"`
	RateLimitRPS   float64       `yaml:"RATE_LIMIT_RPS"`
	CAPath         string        `yaml:"CA_PATH"`
	UserAgent      string        `yaml:"USER_AGENT"`
}

// Diff controls change detection. Empty JoinKeys means every column except TrackedFields.
type Diff struct {
	JoinKeys      []string `yaml:"JOIN_KEYS"`
	TrackedFields []string `yaml:"TRACKED_FIELDS"`
	SortKeys      []string `yaml:"SORT_KEYS"`
}

// Schedule configures the long-running scheduler.
type Schedule struct {
	Cron string `yaml:"CRON"`
}

// ResolvePath picks the config path from the flag value, then the environment, then the default.
func ResolvePath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads, defaults, overrides from the environment, resolves and validates the config at path.
//
// A .env file next to the config is loaded first; it never overrides variables already set.
func Load(path string) (Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}
	dir := filepath.Dir(abs)
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	b, err := os.ReadFile(abs)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return Config{}, err
	}
	cfg.Dir = dir
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML and applies defaults. Unknown keys are rejected.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config YAML: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Paths.ResultFile == "" {
		c.Paths.ResultFile = c.Paths.DataChangesFile
	}
	if c.Paths.DataChangesFile == "" {
		c.Paths.DataChangesFile = c.Paths.ResultFile
	}
	if c.Paths.OutputFolder == "" {
		c.Paths.OutputFolder = "output"
	}
	if c.Paths.LogFolder == "" {
		c.Paths.LogFolder = "logs"
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = defaultTimeout
	}
	if len(c.Diff.TrackedFields) == 0 {
		c.Diff.TrackedFields = []string{sdmx.ColVersion, sdmx.ColIsFinal}
	}
	if len(c.Diff.SortKeys) == 0 {
		c.Diff.SortKeys = []string{sdmx.ColDataflowID, sdmx.ColAgencyID, sdmx.ColNameEN, sdmx.ColRefID}
	}
}

func (c *Config) applyEnv() error {
	timeout, err := envDuration("REQUEST_TIMEOUT", c.API.Timeout)
	if err != nil {
		return err
	}
	rps, err := envFloat("RATE_LIMIT_RPS", c.API.RateLimitRPS)
	if err != nil {
		return err
	}
	c.API.Timeout = timeout
	c.API.RateLimitRPS = rps
	c.API.DataflowInfo = envString("DATAFLOW_INFO_URL", c.API.DataflowInfo)
	c.Schedule.Cron = envString("SCHEDULE_CRON", c.Schedule.Cron)
	return nil
}

func (c *Config) resolvePaths() {
	for _, p := range []*string{
		&c.Paths.DataChangesFile,
		&c.Paths.OldFile,
		&c.Paths.NewFile,
		&c.Paths.ResultFile,
		&c.Paths.ArchiveFolder,
		&c.Paths.OutputFolder,
		&c.Paths.LogFolder,
	} {
		*p = c.resolve(*p)
	}
}

func (c *Config) resolve(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// Validate checks required keys and cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	for _, f := range []struct{ key, val string }{
		{"PATHS.OLD_FILE", c.Paths.OldFile},
		{"PATHS.NEW_FILE", c.Paths.NewFile},
		{"PATHS.RESULT_FILE", c.Paths.ResultFile},
		{"PATHS.ARCHIVE_FOLDER", c.Paths.ArchiveFolder},
		{"API.DATAFLOW_INFO", c.API.DataflowInfo},
		{"API.DATA_QUERY", c.API.DataQuery},
		{"API.STRUCTURE_QUERY", c.API.StructureQuery},
	} {
		if strings.TrimSpace(f.val) == "" {
			errs = append(errs, fmt.Errorf("%s is required", f.key))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if filepath.Clean(c.Paths.OldFile) == filepath.Clean(c.Paths.NewFile) {
		errs = append(errs, fmt.Errorf("PATHS.OLD_FILE and PATHS.NEW_FILE must differ"))
	}
	if schema.FormatForPath(c.Paths.OldFile) != schema.FormatForPath(c.Paths.NewFile) {
		errs = append(errs, fmt.Errorf("PATHS.OLD_FILE and PATHS.NEW_FILE must use the same file format"))
	}
	for _, ph := range []string{"{agency_id}", "{dataflow_id}"} {
		if !strings.Contains(c.API.DataQuery, ph) {
			errs = append(errs, fmt.Errorf("API.DATA_QUERY must contain %s", ph))
		}
		if !strings.Contains(c.API.StructureQuery, ph) {
			errs = append(errs, fmt.Errorf("API.STRUCTURE_QUERY must contain %s", ph))
		}
	}
	if c.API.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("API.RATE_LIMIT_RPS must be >= 0"))
	}
	return errors.Join(errs...)
}
