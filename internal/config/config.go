package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var presetsYAML []byte

// DefaultPreset is used when FACE_MATCH_PRESET is unset or unknown.
const DefaultPreset = "balanced"

type Config struct {
	Database   DatabaseConfig
	Embedding  EmbeddingConfig
	Matching   MatchingConfig
	Cache      CacheConfig
	Attendance AttendanceConfig
	Web        WebConfig
	Log        LogConfig
	Presets    PresetsConfig
}

type DatabaseConfig struct {
	Driver       string // postgres, mariadb or memory (default postgres)
	URL          string // PostgreSQL URL or MariaDB DSN
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type EmbeddingConfig struct {
	Provider string        // http or local (default http)
	URL      string        // defaults to http://localhost:8000
	Dim      int           // defaults to 128
	Timeout  time.Duration // per-request deadline for the provider (default 10s)
}

// MatchingConfig holds the consensus operating point.
type MatchingConfig struct {
	Preset              string  `yaml:"-"`
	EuclideanThreshold  float64 `yaml:"euclidean_threshold"`
	CosineThreshold     float64 `yaml:"cosine_threshold"`
	ManhattanThreshold  float64 `yaml:"manhattan_threshold"`
	DotProductThreshold float64 `yaml:"dot_product_threshold"`
	PrimaryMetric       string  `yaml:"primary_metric"`
	UseMultipleMetrics  bool    `yaml:"use_multiple_metrics"`
	MinAgreeingMetrics  int     `yaml:"min_agreeing_metrics"`
	// VerifyMinConfidence is the confidence a check-in match must reach
	// on top of the consensus vote.
	VerifyMinConfidence float64 `yaml:"-"`
}

type CacheConfig struct {
	TTL time.Duration // FACE_CACHE_TIMEOUT in seconds (default 3600)
}

type AttendanceConfig struct {
	Timezone string // IANA zone used to derive the attendance date and time of day
	// FallbackLateHour marks a record late after this hour when no session
	// definition is active for the requested session. 0 disables it.
	FallbackLateHour int
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins string
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

type PresetsConfig struct {
	Presets map[string]MatchingConfig `yaml:"presets"`
}

// Names returns the preset names in alphabetical order.
func (p PresetsConfig) Names() []string {
	names := make([]string, 0, len(p.Presets))
	for name := range p.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Location resolves the configured attendance time zone.
func (c AttendanceConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid ATTENDANCE_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ignoreInvalid logs a malformed environment value and returns the value
// used in its place.
func ignoreInvalid[T any](key, value string, defaultVal T) T {
	slog.Warn("ignoring invalid environment value", "key", key, "value", value, "using", defaultVal)
	return defaultVal
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return ignoreInvalid(key, s, defaultVal)
}

// envFloat reads a non-negative float. Returns the default value if the env
// var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return ignoreInvalid(key, s, defaultVal)
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return ignoreInvalid(key, s, defaultVal)
}

// envDuration accepts Go duration strings ("10s", "1m") and bare integers
// as seconds.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return ignoreInvalid(key, s, defaultVal)
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var presets PresetsConfig
	if err := yaml.Unmarshal(presetsYAML, &presets); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded presets.yaml: " + err.Error())
	}

	return &Config{
		Database: DatabaseConfig{
			Driver:       strings.ToLower(envString("DATABASE_DRIVER", "postgres")),
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Embedding: EmbeddingConfig{
			Provider: strings.ToLower(envString("EMBEDDING_PROVIDER", "http")),
			URL:      envString("EMBEDDING_URL", "http://localhost:8000"),
			Dim:      envInt("EMBEDDING_DIM", 128),
			Timeout:  envDuration("EMBEDDING_TIMEOUT", 10*time.Second),
		},
		Matching: loadMatching(presets),
		Cache: CacheConfig{
			TTL: envDuration("FACE_CACHE_TIMEOUT", time.Hour),
		},
		Attendance: AttendanceConfig{
			Timezone:         os.Getenv("ATTENDANCE_TIMEZONE"),
			FallbackLateHour: envHour("ATTENDANCE_FALLBACK_LATE_HOUR"),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8085),
			AllowedOrigins: os.Getenv("WEB_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(envString("LOG_LEVEL", "info")),
			Format: strings.ToLower(envString("LOG_FORMAT", "text")),
		},
		Presets: presets,
	}
}

// loadMatching starts from the selected preset and applies per-field overrides.
func loadMatching(presets PresetsConfig) MatchingConfig {
	name := strings.ToLower(envString("FACE_MATCH_PRESET", DefaultPreset))
	base, ok := presets.Presets[name]
	if !ok {
		slog.Warn("unknown matching preset", "key", "FACE_MATCH_PRESET", "value", name, "using", DefaultPreset)
		name = DefaultPreset
		base = presets.Presets[DefaultPreset]
	}

	m := MatchingConfig{
		Preset:              name,
		EuclideanThreshold:  envFloat("FACE_EUCLIDEAN_THRESHOLD", base.EuclideanThreshold),
		CosineThreshold:     envFloat("FACE_COSINE_THRESHOLD", base.CosineThreshold),
		ManhattanThreshold:  envFloat("FACE_MANHATTAN_THRESHOLD", base.ManhattanThreshold),
		DotProductThreshold: envFloat("FACE_DOT_PRODUCT_THRESHOLD", base.DotProductThreshold),
		PrimaryMetric:       strings.ToLower(envString("FACE_PRIMARY_METRIC", base.PrimaryMetric)),
		UseMultipleMetrics:  envBool("FACE_USE_MULTIPLE_METRICS", base.UseMultipleMetrics),
		MinAgreeingMetrics:  envInt("FACE_MIN_AGREEING_METRICS", base.MinAgreeingMetrics),
		VerifyMinConfidence: envFloat("FACE_VERIFY_MIN_CONFIDENCE", 0.8),
	}
	if m.PrimaryMetric == "" {
		m.PrimaryMetric = "cosine"
	}
	return m
}

// envHour reads an hour of day in 1..23; anything else disables the rule.
func envHour(key string) int {
	h := envInt(key, 0)
	if h > 23 {
		return ignoreInvalid(key, strconv.Itoa(h), 0)
	}
	return h
}

// Preset returns a named preset with the verification confidence copied
// from the active matching configuration.
func (c *Config) Preset(name string) (MatchingConfig, bool) {
	p, ok := c.Presets.Presets[strings.ToLower(name)]
	if !ok {
		return MatchingConfig{}, false
	}
	p.Preset = strings.ToLower(name)
	p.VerifyMinConfidence = c.Matching.VerifyMinConfidence
	return p, true
}
