package rpc

import (
	"context"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/signalsfoundry/meshrf/coverage"
	"github.com/signalsfoundry/meshrf/internal/config"
	"github.com/signalsfoundry/meshrf/internal/export"
	"github.com/signalsfoundry/meshrf/internal/logging"
	"github.com/signalsfoundry/meshrf/internal/observability"
	"github.com/signalsfoundry/meshrf/propagation"
	"github.com/signalsfoundry/meshrf/terrain"
)

// Response header keys carrying raster metadata next to the raw values.
const (
	HeaderWidth          = "x-meshrf-width"
	HeaderHeight         = "x-meshrf-height"
	HeaderStride         = "x-meshrf-stride"
	HeaderComputed       = "x-meshrf-computed"
	HeaderCovered        = "x-meshrf-covered"
	HeaderMinDBm         = "x-meshrf-min-dbm"
	HeaderMaxDBm         = "x-meshrf-max-dbm"
	HeaderMeanDBm        = "x-meshrf-mean-dbm"
	HeaderCoveredAreaKm2 = "x-meshrf-covered-area-km2"
)

// GridSource provides elevation grids by name. *terrain.Store satisfies it.
type GridSource interface {
	Get(name string) (*terrain.Grid, error)
	Names() []string
	Cached() int
}

// Service implements CoverageServer on top of a GridSource.
type Service struct {
	grids    GridSource
	link     config.LinkConfig
	coverage config.CoverageConfig
	gsd      float64
	timeout  time.Duration
	metrics  *observability.CoverageCollector
	log      logging.Logger
}

var _ CoverageServer = (*Service)(nil)

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithCoverageCollector records raster and cache metrics on c.
func WithCoverageCollector(c *observability.CoverageCollector) ServiceOption {
	return func(s *Service) { s.metrics = c }
}

// WithRequestTimeout bounds every ComputeCoverage call.
func WithRequestTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.timeout = d }
}

// NewService builds a Service whose request defaults come from cfg.
func NewService(grids GridSource, cfg config.Config, log logging.Logger, opts ...ServiceOption) *Service {
	if log == nil {
		log = logging.Noop()
	}
	s := &Service{
		grids:    grids,
		link:     cfg.Link,
		coverage: cfg.Coverage,
		gsd:      cfg.Terrain.GroundSampleDistanceM,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ComputeCoverage runs one raster. The body is the little-endian float32
// raster; dimensions and the summary are sent as response headers.
func (s *Service) ComputeCoverage(ctx context.Context, in *structpb.Struct) (*wrapperspb.BytesValue, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	log := logging.FromContext(ctx, s.log)

	params, err := decodeParams(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	j, err := resolveJob(params, s.link, s.coverage, s.gsd)
	if err != nil {
		return nil, ToStatusError(err)
	}

	model, err := propagation.ByName(j.model)
	if err != nil {
		return nil, ToStatusError(err)
	}
	profiler, err := terrain.ProfilerByName(j.profiler)
	if err != nil {
		return nil, ToStatusError(err)
	}

	grid, err := s.grids.Get(j.grid)
	s.metrics.SetGridCacheEntries(s.grids.Cached())
	if err != nil {
		return nil, ToStatusError(err)
	}
	// A grid that knows its cell size overrides the server default.
	if params.GroundSampleDistanceM == nil && grid.GroundSampleDistanceM > 0 && grid.GroundSampleDistanceM != s.gsd {
		if j, err = resolveJob(params, s.link, s.coverage, grid.GroundSampleDistanceM); err != nil {
			return nil, ToStatusError(err)
		}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	opts := []coverage.Option{
		coverage.WithStride(j.stride),
		coverage.WithWorkers(s.coverage.Workers),
		coverage.WithProfiler(profiler),
	}
	if s.metrics != nil {
		opts = append(opts, coverage.WithMetricsRecorder(s.metrics))
	}
	raster, err := coverage.NewGenerator(model, log, opts...).Compute(ctx, grid, j.req)
	if err != nil {
		log.Warn(ctx, "coverage aborted", logging.String("grid", j.grid), logging.Err(err))
		return nil, ToStatusError(err)
	}

	sum := raster.Summarize()
	header := metadata.Pairs(
		HeaderWidth, strconv.Itoa(raster.Width),
		HeaderHeight, strconv.Itoa(raster.Height),
		HeaderStride, strconv.Itoa(raster.Stride),
		HeaderComputed, strconv.Itoa(sum.Computed),
		HeaderCovered, strconv.Itoa(sum.Covered),
		HeaderMinDBm, formatFloat(sum.MinDBm),
		HeaderMaxDBm, formatFloat(sum.MaxDBm),
		HeaderMeanDBm, formatFloat(sum.MeanDBm),
		HeaderCoveredAreaKm2, formatFloat(sum.CoveredAreaKm2),
	)
	if err := grpc.SetHeader(ctx, header); err != nil {
		log.Debug(ctx, "response header not set", logging.Err(err))
	}

	log.Info(ctx, "coverage computed",
		logging.String("grid", j.grid),
		logging.String("model", j.model),
		logging.Int("tx_x", j.req.TxX),
		logging.Int("tx_y", j.req.TxY),
		logging.Int("max_distance_px", j.req.MaxDistancePx),
		logging.Int("computed", sum.Computed),
		logging.Int("covered", sum.Covered),
	)
	return wrapperspb.Bytes(export.RawBytes(raster)), nil
}

// ListGrids reports the grids the server can serve and how many are cached.
func (s *Service) ListGrids(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	names := s.grids.Names()
	list := make([]any, len(names))
	for i, n := range names {
		list[i] = n
	}
	out, err := structpb.NewStruct(map[string]any{
		"grids":  list,
		"cached": s.grids.Cached(),
	})
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
