// Package config loads the daemon configuration from a YAML file and
// merges command-line overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opencar/watchdogd/pkg/profiler"
)

// ErrInvalidCapacity indicates a cache capacity or ranking bound was
// configured as zero or negative.
var ErrInvalidCapacity = errors.New("config: capacities must be positive")

// Duration wraps time.Duration so YAML values can use the human form
// ("30s", "1h") instead of nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: parsing duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the daemon configuration.
type Config struct {
	// Profiler capacities and retention.
	TopNStatsPerCategory     int      `yaml:"top_n_stats_per_category"`
	TopNStatsPerSubcategory  int      `yaml:"top_n_stats_per_subcategory"`
	MaxUserSwitchEvents      int      `yaml:"max_user_switch_events"`
	PeriodicCacheSize        int      `yaml:"periodic_cache_size"`
	SystemEventCacheDuration Duration `yaml:"system_event_cache_duration"`

	// Collection scheduling.
	BoottimeInterval Duration `yaml:"boottime_interval"`
	BoottimeWindow   Duration `yaml:"boottime_window"`
	PeriodicInterval Duration `yaml:"periodic_interval"`

	// Data sources and dump sinks.
	ProcRoot      string `yaml:"proc_root"`
	TextDumpPath  string `yaml:"text_dump_path"`
	ProtoDumpPath string `yaml:"proto_dump_path"`
}

// Default returns the configuration used when no file or override is
// given.
func Default() Config {
	return Config{
		TopNStatsPerCategory:     profiler.DefaultTopNStatsPerCategory,
		TopNStatsPerSubcategory:  profiler.DefaultTopNStatsPerSubcategory,
		MaxUserSwitchEvents:      profiler.DefaultMaxUserSwitchEvents,
		PeriodicCacheSize:        profiler.DefaultPeriodicCacheSize,
		SystemEventCacheDuration: Duration(profiler.DefaultSystemEventCacheDuration),
		BoottimeInterval:         Duration(time.Second),
		BoottimeWindow:           Duration(30 * time.Second),
		PeriodicInterval:         Duration(time.Minute),
		ProcRoot:                 "/proc",
		TextDumpPath:             "watchdogd-dump.txt",
		ProtoDumpPath:            "watchdogd-dump.pb",
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the profiler cannot honor. An explicit
// zero capacity is a configuration failure, not a request for defaults.
func (c Config) Validate() error {
	if c.TopNStatsPerCategory <= 0 || c.TopNStatsPerSubcategory <= 0 ||
		c.MaxUserSwitchEvents <= 0 || c.PeriodicCacheSize <= 0 {
		return ErrInvalidCapacity
	}
	if c.SystemEventCacheDuration <= 0 {
		return errors.New("config: system_event_cache_duration must be positive")
	}
	if c.BoottimeInterval <= 0 || c.PeriodicInterval <= 0 {
		return errors.New("config: collection intervals must be positive")
	}
	if c.ProcRoot == "" {
		return errors.New("config: proc_root must not be empty")
	}
	return nil
}

// ProfilerConfig maps the daemon configuration onto the profiler's.
func (c Config) ProfilerConfig() profiler.Config {
	return profiler.Config{
		TopNStatsPerCategory:     c.TopNStatsPerCategory,
		TopNStatsPerSubcategory:  c.TopNStatsPerSubcategory,
		MaxUserSwitchEvents:      c.MaxUserSwitchEvents,
		PeriodicCacheSize:        c.PeriodicCacheSize,
		SystemEventCacheDuration: c.SystemEventCacheDuration.Std(),
	}
}
