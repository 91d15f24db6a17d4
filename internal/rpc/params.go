package rpc

import (
	"fmt"
	"math"
	"strings"

	"github.com/mitchellh/mapstructure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/meshrf/coverage"
	"github.com/signalsfoundry/meshrf/internal/config"
)

// computeParams is the decoded ComputeCoverage message. Pointer fields are
// optional and fall back to the server's link defaults.
type computeParams struct {
	Grid string   `mapstructure:"grid"`
	TxX  *float64 `mapstructure:"tx_x"`
	TxY  *float64 `mapstructure:"tx_y"`

	TxHeightM        *float64 `mapstructure:"tx_height_m"`
	RxHeightM        *float64 `mapstructure:"rx_height_m"`
	FrequencyMHz     *float64 `mapstructure:"frequency_mhz"`
	TxPowerDBm       *float64 `mapstructure:"tx_power_dbm"`
	TxGainDBi        *float64 `mapstructure:"tx_gain_dbi"`
	RxGainDBi        *float64 `mapstructure:"rx_gain_dbi"`
	TxLossDB         *float64 `mapstructure:"tx_loss_db"`
	RxLossDB         *float64 `mapstructure:"rx_loss_db"`
	RxSensitivityDBm *float64 `mapstructure:"rx_sensitivity_dbm"`
	Permittivity     *float64 `mapstructure:"permittivity"`
	Conductivity     *float64 `mapstructure:"conductivity"`
	Climate          *float64 `mapstructure:"climate"`

	MaxDistancePx         *float64 `mapstructure:"max_distance_px"`
	MaxDistanceM          *float64 `mapstructure:"max_distance_m"`
	GroundSampleDistanceM *float64 `mapstructure:"ground_sample_distance_m"`

	Model    string   `mapstructure:"model"`
	Profiler string   `mapstructure:"profiler"`
	Stride   *float64 `mapstructure:"stride"`
}

// job is a fully resolved ComputeCoverage call.
type job struct {
	grid     string
	req      coverage.Request
	model    string
	profiler string
	stride   int
}

func decodeParams(in *structpb.Struct) (computeParams, error) {
	var p computeParams
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      &p,
	})
	if err != nil {
		return p, err
	}
	if err := dec.Decode(in.AsMap()); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return p, nil
}

// resolveJob applies p over the server defaults.
func resolveJob(p computeParams, link config.LinkConfig, cov config.CoverageConfig, defaultGSD float64) (job, error) {
	if strings.TrimSpace(p.Grid) == "" {
		return job{}, fmt.Errorf("%w: grid is required", ErrInvalidArgument)
	}
	if p.TxX == nil || p.TxY == nil {
		return job{}, fmt.Errorf("%w: tx_x and tx_y are required", ErrInvalidArgument)
	}
	txX, err := integral("tx_x", *p.TxX)
	if err != nil {
		return job{}, err
	}
	txY, err := integral("tx_y", *p.TxY)
	if err != nil {
		return job{}, err
	}

	override := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	override(&link.TxHeightM, p.TxHeightM)
	override(&link.RxHeightM, p.RxHeightM)
	override(&link.FrequencyMHz, p.FrequencyMHz)
	override(&link.TxPowerDBm, p.TxPowerDBm)
	override(&link.TxGainDBi, p.TxGainDBi)
	override(&link.RxGainDBi, p.RxGainDBi)
	override(&link.TxLossDB, p.TxLossDB)
	override(&link.RxLossDB, p.RxLossDB)
	override(&link.RxSensitivityDBm, p.RxSensitivityDBm)
	override(&link.Permittivity, p.Permittivity)
	override(&link.Conductivity, p.Conductivity)
	override(&link.MaxDistanceM, p.MaxDistanceM)
	if p.Climate != nil {
		c, err := integral("climate", *p.Climate)
		if err != nil {
			return job{}, err
		}
		link.Climate = c
	}

	gsd := defaultGSD
	override(&gsd, p.GroundSampleDistanceM)

	req := link.Request(txX, txY, gsd)
	if p.MaxDistancePx != nil {
		if p.MaxDistanceM != nil {
			return job{}, fmt.Errorf("%w: max_distance_px and max_distance_m are exclusive", ErrInvalidArgument)
		}
		if req.MaxDistancePx, err = integral("max_distance_px", *p.MaxDistancePx); err != nil {
			return job{}, err
		}
	}
	if err := req.Validate(); err != nil {
		return job{}, err
	}

	j := job{
		grid:     p.Grid,
		req:      req,
		model:    cov.Model,
		profiler: cov.Profiler,
		stride:   cov.Stride,
	}
	if p.Model != "" {
		j.model = p.Model
	}
	if p.Profiler != "" {
		j.profiler = p.Profiler
	}
	if p.Stride != nil {
		if j.stride, err = integral("stride", *p.Stride); err != nil {
			return job{}, err
		}
		if j.stride < 1 {
			return job{}, fmt.Errorf("%w: stride %d must be at least 1", ErrInvalidArgument, j.stride)
		}
	}
	return j, nil
}

func integral(name string, v float64) (int, error) {
	if v != math.Trunc(v) || math.IsInf(v, 0) || math.Abs(v) > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidArgument, name, v)
	}
	return int(v), nil
}
