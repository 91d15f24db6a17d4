package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/meshrf/coverage"
	"github.com/signalsfoundry/meshrf/internal/config"
	"github.com/signalsfoundry/meshrf/propagation"
	"github.com/signalsfoundry/meshrf/terrain"
)

func resolve(t *testing.T, fields map[string]any) (job, error) {
	t.Helper()
	in, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	p, err := decodeParams(in)
	if err != nil {
		return job{}, err
	}
	cfg := config.Default()
	return resolveJob(p, cfg.Link, cfg.Coverage, cfg.Terrain.GroundSampleDistanceM)
}

func TestResolveJobDefaults(t *testing.T) {
	j, err := resolve(t, map[string]any{"grid": "g", "tx_x": 3, "tx_y": 7})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if j.grid != "g" || j.req.TxX != 3 || j.req.TxY != 7 {
		t.Fatalf("job = %+v", j)
	}
	if j.model != "bullington" || j.profiler != "linear" || j.stride != coverage.DefaultStride {
		t.Fatalf("coverage defaults = %q %q %d", j.model, j.profiler, j.stride)
	}
	if j.req.MaxDistancePx != 166 {
		t.Fatalf("max distance = %d px, want 166", j.req.MaxDistancePx)
	}
	if j.req.FrequencyMHz != 915 || j.req.Climate != propagation.DefaultClimate {
		t.Fatalf("link defaults = %+v", j.req)
	}
}

func TestResolveJobOverrides(t *testing.T) {
	j, err := resolve(t, map[string]any{
		"grid":                     "g",
		"tx_x":                     0,
		"tx_y":                     0,
		"tx_power_dbm":             27,
		"tx_loss_db":               2,
		"rx_loss_db":               1,
		"max_distance_m":           900,
		"ground_sample_distance_m": 90,
		"climate":                  2,
		"model":                    "hata:urban",
		"profiler":                 "bresenham",
		"stride":                   2,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if j.req.TxPowerDBm != 24 {
		t.Fatalf("tx power = %v, want 24 after cable losses", j.req.TxPowerDBm)
	}
	if j.req.MaxDistancePx != 10 || j.req.GroundSampleDistanceM != 90 {
		t.Fatalf("distance = %d px at %v m", j.req.MaxDistancePx, j.req.GroundSampleDistanceM)
	}
	if j.req.Climate != propagation.Climate(2) || j.model != "hata:urban" || j.profiler != "bresenham" || j.stride != 2 {
		t.Fatalf("job = %+v", j)
	}

	j, err = resolve(t, map[string]any{"grid": "g", "tx_x": 0, "tx_y": 0, "max_distance_px": 12})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if j.req.MaxDistancePx != 12 {
		t.Fatalf("max distance = %d px, want 12", j.req.MaxDistancePx)
	}
}

func TestResolveJobRejects(t *testing.T) {
	cases := map[string]map[string]any{
		"both distances": {"grid": "g", "tx_x": 0, "tx_y": 0, "max_distance_px": 3, "max_distance_m": 90},
		"string tx":      {"grid": "g", "tx_x": "1", "tx_y": 0},
		"huge tx":        {"grid": "g", "tx_x": 1e12, "tx_y": 0},
		"bad climate":    {"grid": "g", "tx_x": 0, "tx_y": 0, "climate": 8},
		"bad gsd":        {"grid": "g", "tx_x": 0, "tx_y": 0, "ground_sample_distance_m": -1},
	}
	for name, fields := range cases {
		_, err := resolve(t, fields)
		if !errors.Is(err, ErrInvalidArgument) && !errors.Is(err, coverage.ErrInvalidRequest) {
			t.Fatalf("%s: err = %v, want invalid argument", name, err)
		}
	}
}

func TestToStatusError(t *testing.T) {
	_, hataErr := propagation.ByName("hata:lunar")
	cases := []struct {
		err  error
		code codes.Code
	}{
		{fmt.Errorf("load: %w", terrain.ErrGridNotFound), codes.NotFound},
		{fmt.Errorf("x: %w", coverage.ErrInvalidRequest), codes.InvalidArgument},
		{propagation.ErrUnknownModel, codes.InvalidArgument},
		{hataErr, codes.InvalidArgument},
		{terrain.ErrUnknownProfiler, codes.InvalidArgument},
		{terrain.ErrShape, codes.InvalidArgument},
		{context.Canceled, codes.Canceled},
		{fmt.Errorf("compute: %w", context.DeadlineExceeded), codes.DeadlineExceeded},
		{errors.New("disk on fire"), codes.Internal},
		{status.Error(codes.Unavailable, "busy"), codes.Unavailable},
	}
	for _, tc := range cases {
		if got := status.Code(ToStatusError(tc.err)); got != tc.code {
			t.Fatalf("ToStatusError(%v) = %v, want %v", tc.err, got, tc.code)
		}
	}
	if ToStatusError(nil) != nil {
		t.Fatalf("ToStatusError(nil) != nil")
	}
}
