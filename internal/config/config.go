package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pulseboard/sentinel/internal/logger"
	"github.com/pulseboard/sentinel/internal/sanitize"
	"github.com/pulseboard/sentinel/internal/scanner"
	"github.com/pulseboard/sentinel/internal/threat"
	"github.com/pulseboard/sentinel/internal/types"
)

var cfgLog = logger.New("config")

// validate is the shared validator instance; field names in its errors
// are the yaml keys.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Config represents the sentinel configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Sanitizer sanitize.Policy `yaml:"sanitizer"`
	Audit     AuditConfig     `yaml:"audit"`
}

// ServerConfig holds server settings
type ServerConfig struct {
	Port           int            `yaml:"port" validate:"min=1,max=65535"`
	LogLevel       types.LogLevel `yaml:"log_level"`
	NoColor        bool           `yaml:"no_color"`
	MaxUploadBytes int64          `yaml:"max_upload_bytes" validate:"min=1024,max=1073741824"`
}

// EngineConfig holds scanner bounds and risk scoring
type EngineConfig struct {
	// MaxRiskScore is the exclusive upper bound for a safe verdict.
	MaxRiskScore int `yaml:"max_risk_score" validate:"min=1,max=100"`
	// Weights maps severity names (low, medium, high, critical) to score
	// contributions. Missing severities keep their defaults.
	Weights           map[string]int `yaml:"weights" validate:"dive,min=0,max=100"`
	EntropyThreshold  float64        `yaml:"entropy_threshold" validate:"gt=0,lte=8"`
	ContentScanPrefix int            `yaml:"content_scan_prefix" validate:"min=16,max=67108864"`
	EntropySampleSize int            `yaml:"entropy_sample_size" validate:"min=16,max=1048576"`
	DecodeDepth       int            `yaml:"decode_depth" validate:"min=0,max=8"`
	SizeTolerance     int64          `yaml:"size_tolerance" validate:"min=0"`
	MaxArchiveEntries int            `yaml:"max_archive_entries" validate:"min=1,max=100000"`
	MaxFilenameLen    int            `yaml:"max_filename_len" validate:"min=1,max=4096"`
}

// Limits converts the engine section to scanner bounds.
func (e EngineConfig) Limits() scanner.Limits {
	l := scanner.DefaultLimits()
	l.ContentScanPrefix = e.ContentScanPrefix
	l.EntropySampleSize = e.EntropySampleSize
	l.EntropyThreshold = e.EntropyThreshold
	l.DecodeDepth = e.DecodeDepth
	l.SizeTolerance = e.SizeTolerance
	l.MaxArchiveEntries = e.MaxArchiveEntries
	l.MaxFilenameLen = e.MaxFilenameLen
	return l
}

// Risk converts the engine section to aggregator settings.
func (e EngineConfig) Risk() (threat.RiskConfig, error) {
	rc := threat.DefaultRiskConfig()
	rc.MaxScore = e.MaxRiskScore
	for name, w := range e.Weights {
		sev, err := threat.ParseSeverity(name)
		if err != nil || !sev.Valid() {
			return rc, fmt.Errorf("engine.weights: unknown severity %q", name)
		}
		rc.Weights[sev] = w
	}
	return rc, nil
}

// CatalogConfig holds rule catalog settings
type CatalogConfig struct {
	UserDir        string `yaml:"user_dir"`        // default: ~/.sentinel/catalog.d
	DisableBuiltin bool   `yaml:"disable_builtin"` // disable the embedded catalog
	Watch          bool   `yaml:"watch"`           // reload when user_dir changes
}

// AuditConfig holds audit log settings
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days" validate:"min=0,max=36500"` // 0 = forever
}

// DefaultConfigPath returns the default config file path (~/.sentinel/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".sentinel", "config.yaml")
}

// defaultDBPath returns the default audit database path under ~/.sentinel/.
func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./sentinel-audit.db"
	}
	return filepath.Join(home, ".sentinel", "audit.db")
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	l := scanner.DefaultLimits()
	return &Config{
		Server: ServerConfig{
			Port:           9190,
			LogLevel:       types.LogLevelInfo,
			MaxUploadBytes: 10 << 20,
		},
		Engine: EngineConfig{
			MaxRiskScore:      threat.DefaultMaxScore,
			EntropyThreshold:  l.EntropyThreshold,
			ContentScanPrefix: l.ContentScanPrefix,
			EntropySampleSize: l.EntropySampleSize,
			DecodeDepth:       l.DecodeDepth,
			SizeTolerance:     l.SizeTolerance,
			MaxArchiveEntries: l.MaxArchiveEntries,
			MaxFilenameLen:    l.MaxFilenameLen,
		},
		Catalog: CatalogConfig{
			UserDir: "", // empty means ~/.sentinel/catalog.d
			Watch:   true,
		},
		Sanitizer: sanitize.DefaultPolicy(),
		Audit: AuditConfig{
			Enabled:       true,
			DBPath:        defaultDBPath(),
			RetentionDays: 30,
		},
	}
}

// Validate checks all Config fields and returns a multi-error report.
// Call this AFTER CLI overrides have been applied, not during Load().
func (c *Config) Validate() error {
	var errs []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, describe(fe))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if !c.Server.LogLevel.Valid() {
		errs = append(errs, fmt.Sprintf("server.log_level: unknown log level %q (valid: trace, debug, info, warn, error)", c.Server.LogLevel))
	}

	names := make([]string, 0, len(c.Engine.Weights))
	for name := range c.Engine.Weights {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if sev, err := threat.ParseSeverity(name); err != nil || !sev.Valid() {
			errs = append(errs, fmt.Sprintf("engine.weights: unknown severity %q (valid: low, medium, high, critical)", name))
		}
	}

	if err := c.Sanitizer.Validate(); err != nil {
		errs = append(errs, "sanitizer: "+err.Error())
	}

	if c.Audit.Enabled && strings.TrimSpace(c.Audit.DBPath) == "" {
		errs = append(errs, "audit.db_path: must be set when audit is enabled")
	}

	if len(errs) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("config validation failed:\n")
	for i, e := range errs {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e)
	}
	return errors.New(sb.String())
}

// describe renders a validator error with the yaml path of the field.
func describe(fe validator.FieldError) string {
	path := fe.Namespace()
	if i := strings.IndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}
	switch fe.Tag() {
	case "min", "gte":
		return fmt.Sprintf("%s: must be >= %s (got %v)", path, fe.Param(), fe.Value())
	case "max", "lte":
		return fmt.Sprintf("%s: must be <= %s (got %v)", path, fe.Param(), fe.Value())
	case "gt":
		return fmt.Sprintf("%s: must be > %s (got %v)", path, fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s: failed %q check (got %v)", path, fe.Tag(), fe.Value())
}

// isUnknownFieldError returns true if the error is from yaml.Decoder.KnownFields(true)
// detecting an unrecognized key (e.g. typo like "servr:").
func isUnknownFieldError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found in type")
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults.
// Note: Load does NOT call Validate(). Callers should apply CLI overrides
// first, then call cfg.Validate() themselves.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	// Strict decode first to warn about typos like "servr:"
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if isUnknownFieldError(err) {
			cfgLog.Warn("config has unknown fields (ignored): %v", err)
			cfg = DefaultConfig()
			if err2 := yaml.Unmarshal(data, cfg); err2 != nil {
				return nil, fmt.Errorf("config parse error: %w", err2)
			}
		} else if err.Error() != "EOF" {
			return nil, fmt.Errorf("config parse error: %w", err)
		}
	}
	return cfg, nil
}
