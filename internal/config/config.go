// Package config loads meshrf settings from an optional file and MESHRF_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/meshrf/coverage"
	"github.com/signalsfoundry/meshrf/internal/logging"
	"github.com/signalsfoundry/meshrf/internal/observability"
	"github.com/signalsfoundry/meshrf/propagation"
	"github.com/signalsfoundry/meshrf/terrain"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix is prepended to every environment override, so coverage.stride
// is read from MESHRF_COVERAGE_STRIDE.
const EnvPrefix = "MESHRF"

type Config struct {
	Log      LogConfig                   `mapstructure:"log"`
	Tracing  observability.TracingConfig `mapstructure:"tracing"`
	Metrics  MetricsConfig               `mapstructure:"metrics"`
	Server   ServerConfig                `mapstructure:"server"`
	Coverage CoverageConfig              `mapstructure:"coverage"`
	Link     LinkConfig                  `mapstructure:"link"`
	Terrain  TerrainConfig               `mapstructure:"terrain"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Logging returns the logging.Config for c.
func (c LogConfig) Logging() logging.Config {
	return logging.Config{Level: c.Level, Format: c.Format}
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RequestTimeout bounds one ComputeCoverage call. Zero means no bound.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxSendBytes   int           `mapstructure:"max_send_bytes"`
}

type CoverageConfig struct {
	Stride   int    `mapstructure:"stride"`
	Workers  int    `mapstructure:"workers"`
	Profiler string `mapstructure:"profiler"`
	Model    string `mapstructure:"model"`
}

// LinkConfig holds the link budget applied when a request leaves a field
// unset.
type LinkConfig struct {
	FrequencyMHz     float64 `mapstructure:"frequency_mhz"`
	TxHeightM        float64 `mapstructure:"tx_height_m"`
	RxHeightM        float64 `mapstructure:"rx_height_m"`
	TxPowerDBm       float64 `mapstructure:"tx_power_dbm"`
	TxGainDBi        float64 `mapstructure:"tx_gain_dbi"`
	RxGainDBi        float64 `mapstructure:"rx_gain_dbi"`
	TxLossDB         float64 `mapstructure:"tx_loss_db"`
	RxLossDB         float64 `mapstructure:"rx_loss_db"`
	RxSensitivityDBm float64 `mapstructure:"rx_sensitivity_dbm"`
	MaxDistanceM     float64 `mapstructure:"max_distance_m"`
	Permittivity     float64 `mapstructure:"permittivity"`
	Conductivity     float64 `mapstructure:"conductivity"`
	Climate          int     `mapstructure:"climate"`
}

// Request builds a coverage request for a transmitter at (txX, txY) on a grid
// with the given cell size. Cable losses come off the transmit power.
func (l LinkConfig) Request(txX, txY int, gsdM float64) coverage.Request {
	return coverage.Request{
		TxX:                   txX,
		TxY:                   txY,
		TxHeightM:             l.TxHeightM,
		RxHeightM:             l.RxHeightM,
		FrequencyMHz:          l.FrequencyMHz,
		TxPowerDBm:            l.TxPowerDBm - l.TxLossDB - l.RxLossDB,
		TxGainDBi:             l.TxGainDBi,
		RxGainDBi:             l.RxGainDBi,
		RxSensitivityDBm:      l.RxSensitivityDBm,
		MaxDistancePx:         coverage.MetersToPixels(l.MaxDistanceM, gsdM),
		GroundSampleDistanceM: gsdM,
		Permittivity:          l.Permittivity,
		Conductivity:          l.Conductivity,
		Climate:               propagation.Climate(l.Climate),
	}
}

type TerrainConfig struct {
	Dir       string `mapstructure:"dir"`
	CacheSize int    `mapstructure:"cache_size"`
	// GroundSampleDistanceM is the cell size assumed for grids that do not
	// carry their own.
	GroundSampleDistanceM float64 `mapstructure:"ground_sample_distance_m"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log:     LogConfig{Level: "info", Format: "text"},
		Tracing: observability.DefaultTracingConfig(),
		Metrics: MetricsConfig{Enabled: true, Addr: ":9090"},
		Server: ServerConfig{
			Addr:            ":50061",
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  2 * time.Minute,
			MaxSendBytes:    256 << 20,
		},
		Coverage: CoverageConfig{
			Stride:   coverage.DefaultStride,
			Profiler: "linear",
			Model:    "bullington",
		},
		Link: LinkConfig{
			FrequencyMHz:     915,
			TxHeightM:        10,
			RxHeightM:        2,
			TxPowerDBm:       20,
			TxGainDBi:        2.15,
			RxGainDBi:        2.15,
			RxSensitivityDBm: -120,
			MaxDistanceM:     5000,
			Permittivity:     propagation.DefaultPermittivity,
			Conductivity:     propagation.DefaultConductivity,
			Climate:          int(propagation.DefaultClimate),
		},
		Terrain: TerrainConfig{
			Dir:                   ".",
			CacheSize:             terrain.DefaultCacheSize,
			GroundSampleDistanceM: 30,
		},
	}
}

// Load reads path (any format viper understands; empty to skip the file),
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every leaf of d with v so that AutomaticEnv can see
// keys no config file mentions.
func setDefaults(v *viper.Viper, d Config) {
	var m map[string]any
	// Decoding a struct into a map cannot fail.
	_ = mapstructure.Decode(d, &m)
	setDefaultTree(v, "", m)
}

func setDefaultTree(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			setDefaultTree(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.Coverage.Stride < 1:
		return fmt.Errorf("%w: coverage.stride %d must be at least 1", ErrInvalid, c.Coverage.Stride)
	case c.Coverage.Workers < 0:
		return fmt.Errorf("%w: coverage.workers %d is negative", ErrInvalid, c.Coverage.Workers)
	case c.Terrain.CacheSize < 1:
		return fmt.Errorf("%w: terrain.cache_size %d must be at least 1", ErrInvalid, c.Terrain.CacheSize)
	case !(c.Terrain.GroundSampleDistanceM > 0):
		return fmt.Errorf("%w: terrain.ground_sample_distance_m must be positive", ErrInvalid)
	case !(c.Link.FrequencyMHz > 0):
		return fmt.Errorf("%w: link.frequency_mhz must be positive", ErrInvalid)
	case c.Link.MaxDistanceM < 0:
		return fmt.Errorf("%w: link.max_distance_m is negative", ErrInvalid)
	case !propagation.Climate(c.Link.Climate).Valid():
		return fmt.Errorf("%w: link.climate %d not in 1..7", ErrInvalid, c.Link.Climate)
	case c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1:
		return fmt.Errorf("%w: tracing.sample_ratio %v not in [0,1]", ErrInvalid, c.Tracing.SampleRatio)
	}
	if _, err := propagation.ByName(c.Coverage.Model); err != nil {
		return fmt.Errorf("%w: coverage.model: %v", ErrInvalid, err)
	}
	if _, err := terrain.ProfilerByName(c.Coverage.Profiler); err != nil {
		return fmt.Errorf("%w: coverage.profiler: %v", ErrInvalid, err)
	}
	switch strings.ToLower(c.Tracing.Exporter) {
	case "", "stdout", "otlp", "otlpgrpc":
	default:
		return fmt.Errorf("%w: tracing.exporter %q", ErrInvalid, c.Tracing.Exporter)
	}
	return nil
}
