// Package coverage turns an elevation grid, a transmitter pixel and a link
// budget into a received-power raster.
//
// For every candidate pixel on the sampling stride inside the search window
// the generator extracts the terrain profile from the transmitter, asks a
// propagation model for the path loss at the far end and writes
//
//	rssi = tx_power + tx_gain + rx_gain - path_loss
//
// Cells that are off the stride, out of range, or that the profile or the
// model reject keep NoData. Such cells never fail the raster as a whole.
package coverage

import (
	"context"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/meshrf/internal/logging"
	"github.com/signalsfoundry/meshrf/propagation"
	"github.com/signalsfoundry/meshrf/terrain"
)

// DefaultStride is the sampling step, in cells along both axes, between
// computed pixels. A stride of 4 evaluates one pixel in sixteen.
const DefaultStride = 4

const tracerName = "github.com/signalsfoundry/meshrf/coverage"

// Tally counts the outcome of every candidate pixel visited by one Compute
// call. The transmitter cell is not a candidate.
type Tally struct {
	Candidates      int
	Computed        int
	OutOfRange      int
	ProfileTooShort int
	ModelInvalid    int
	// TxOffGrid is set when the transmitter was outside the grid and
	// nothing was computed.
	TxOffGrid bool
}

func (t *Tally) add(o Tally) {
	t.Candidates += o.Candidates
	t.Computed += o.Computed
	t.OutOfRange += o.OutOfRange
	t.ProfileTooShort += o.ProfileTooShort
	t.ModelInvalid += o.ModelInvalid
}

// MetricsRecorder receives one observation per finished raster.
type MetricsRecorder interface {
	ObserveRaster(t Tally, elapsed time.Duration)
}

// Generator computes coverage rasters. It holds no per-raster state and is
// safe for concurrent use.
type Generator struct {
	model    propagation.Model
	log      logging.Logger
	stride   int
	workers  int
	profiler terrain.Profiler
	metrics  MetricsRecorder
	tracer   trace.Tracer
}

// Option customises a Generator.
type Option func(*Generator)

// WithStride sets the sampling stride. Values below 1 select DefaultStride.
// Changing the stride changes which cells of the raster are populated.
func WithStride(n int) Option {
	return func(g *Generator) {
		if n < 1 {
			n = DefaultStride
		}
		g.stride = n
	}
}

// WithWorkers bounds the number of goroutines evaluating pixels. Values
// below 1 select GOMAXPROCS. The raster does not depend on this setting.
func WithWorkers(n int) Option {
	return func(g *Generator) {
		if n < 1 {
			n = runtime.GOMAXPROCS(0)
		}
		g.workers = n
	}
}

// WithProfiler replaces the line profiler. The default is
// terrain.LinearProfiler.
func WithProfiler(p terrain.Profiler) Option {
	return func(g *Generator) {
		if p != nil {
			g.profiler = p
		}
	}
}

// WithMetricsRecorder attaches an optional recorder for raster tallies.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(g *Generator) {
		g.metrics = m
	}
}

// NewGenerator returns a Generator backed by model. A nil model selects
// propagation.Bullington and a nil logger drops output.
func NewGenerator(model propagation.Model, log logging.Logger, opts ...Option) *Generator {
	if model == nil {
		model = propagation.Bullington{}
	}
	if log == nil {
		log = logging.Noop()
	}
	g := &Generator{
		model:    model,
		log:      log,
		stride:   DefaultStride,
		workers:  runtime.GOMAXPROCS(0),
		profiler: terrain.LinearProfiler{},
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Stride returns the configured sampling stride.
func (g *Generator) Stride() int { return g.stride }

// Compute builds the coverage raster for req over grid.
//
// A transmitter outside the grid, or a grid whose data does not match its
// dimensions, yields an all-NoData raster and a nil error. Cells outside the
// search window or beyond the maximum distance are StatusOutOfRange whether or
// not the stride visits them. The only error Compute returns is ctx's, checked before every pixel.
func (g *Generator) Compute(ctx context.Context, grid *terrain.Grid, req Request) (*Raster, error) {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "coverage.Compute", trace.WithAttributes(
		attribute.Int("grid.width", grid.Width),
		attribute.Int("grid.height", grid.Height),
		attribute.Int("tx.x", req.TxX),
		attribute.Int("tx.y", req.TxY),
		attribute.Int("max_distance_px", req.MaxDistancePx),
		attribute.Int("stride", g.stride),
	))
	defer span.End()

	log := logging.FromContext(ctx, g.log)

	if err := grid.Validate(); err != nil {
		log.Warn(ctx, "coverage skipped for malformed grid", logging.Err(err))
		r := outOfRangeRaster(max(grid.Width, 0), max(grid.Height, 0), g.stride, req)
		g.finish(ctx, span, log, Tally{}, start)
		return r, nil
	}
	if !grid.InBounds(req.TxX, req.TxY) {
		r := outOfRangeRaster(grid.Width, grid.Height, g.stride, req)
		g.finish(ctx, span, log, Tally{TxOffGrid: true}, start)
		return r, nil
	}

	r := newRaster(grid.Width, grid.Height)
	r.Stride = g.stride
	r.RxSensitivityDBm = req.RxSensitivityDBm
	r.GroundSampleDistanceM = req.GroundSampleDistanceM

	txIdx := grid.Index(req.TxX, req.TxY)
	r.Values[txIdx] = req.EIRP()
	r.Status[txIdx] = StatusTransmitter

	// A radius past the grid's extent covers the whole grid.
	reach := min(req.MaxDistancePx, max(grid.Width, grid.Height))
	r.Box = Box{
		XMin: max(0, req.TxX-reach),
		XMax: min(grid.Width-1, req.TxX+reach),
		YMin: max(0, req.TxY-reach),
		YMax: min(grid.Height-1, req.TxY+reach),
	}

	px := pixelJob{
		grid:     grid,
		req:      req,
		raster:   r,
		profiler: g.profiler,
		adapter:  NewPathLossAdapter(g.model, req),
		eirpRx:   req.EIRP() + float32(req.RxGainDBi),
		maxDist:  float32(req.MaxDistancePx),
	}
	for y := 0; y < grid.Height; y++ {
		for x := 0; x < grid.Width; x++ {
			if !r.Box.Contains(x, y) || px.beyond(x, y) {
				r.Status[y*grid.Width+x] = StatusOutOfRange
			}
		}
	}

	var rows []int
	for y := r.Box.YMin; y <= r.Box.YMax; y += g.stride {
		rows = append(rows, y)
	}

	var (
		next  atomic.Int64
		mu    sync.Mutex
		tally Tally
	)
	eg, egCtx := errgroup.WithContext(ctx)
	for w := 0; w < min(g.workers, len(rows)); w++ {
		eg.Go(func() error {
			var local Tally
			defer func() {
				mu.Lock()
				tally.add(local)
				mu.Unlock()
			}()
			for {
				i := int(next.Add(1) - 1)
				if i >= len(rows) {
					return nil
				}
				y := rows[i]
				for x := r.Box.XMin; x <= r.Box.XMax; x += g.stride {
					if err := egCtx.Err(); err != nil {
						return err
					}
					px.evaluate(x, y, &local)
				}
			}
		})
	}
	if err := eg.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "coverage cancelled")
		log.Warn(ctx, "coverage cancelled", logging.Err(err), logging.Int("candidates_done", tally.Candidates))
		return nil, err
	}

	g.finish(ctx, span, log, tally, start)
	return r, nil
}

func (g *Generator) finish(ctx context.Context, span trace.Span, log logging.Logger, t Tally, start time.Time) {
	elapsed := time.Since(start)
	span.SetAttributes(
		attribute.Bool("tx.off_grid", t.TxOffGrid),
		attribute.Int("pixels.candidates", t.Candidates),
		attribute.Int("pixels.computed", t.Computed),
		attribute.Int("pixels.out_of_range", t.OutOfRange),
		attribute.Int("pixels.profile_too_short", t.ProfileTooShort),
		attribute.Int("pixels.model_invalid", t.ModelInvalid),
	)
	if g.metrics != nil {
		g.metrics.ObserveRaster(t, elapsed)
	}
	log.Debug(ctx, "coverage raster computed",
		logging.Int("candidates", t.Candidates),
		logging.Int("computed", t.Computed),
		logging.Int("out_of_range", t.OutOfRange),
		logging.Int("profile_too_short", t.ProfileTooShort),
		logging.Int("model_invalid", t.ModelInvalid),
		logging.Bool("tx_off_grid", t.TxOffGrid),
		logging.Duration("elapsed", elapsed),
	)
}

// pixelJob is the read-only state shared by the workers of one raster.
// Workers write disjoint raster indices, so the raster needs no lock.
type pixelJob struct {
	grid     *terrain.Grid
	req      Request
	raster   *Raster
	profiler terrain.Profiler
	adapter  PathLossAdapter
	eirpRx   float32
	maxDist  float32
}

func (p *pixelJob) evaluate(x, y int, t *Tally) {
	if x == p.req.TxX && y == p.req.TxY {
		return
	}
	t.Candidates++
	idx := y*p.grid.Width + x

	if p.beyond(x, y) {
		t.OutOfRange++
		return
	}

	profile := p.profiler.Profile(p.grid, p.req.TxX, p.req.TxY, x, y)
	if len(profile) < 2 {
		p.raster.Status[idx] = StatusProfileTooShort
		t.ProfileTooShort++
		return
	}

	loss, ok := p.adapter.PathLoss(profile)
	if !ok {
		p.raster.Status[idx] = StatusModelInvalid
		t.ModelInvalid++
		return
	}

	p.raster.Values[idx] = p.eirpRx - loss
	p.raster.Status[idx] = StatusComputed
	t.Computed++
}

// beyond reports whether (x, y) lies further than the maximum distance from
// the transmitter.
func (p *pixelJob) beyond(x, y int) bool {
	dx := x - p.req.TxX
	dy := y - p.req.TxY
	return float32(math.Sqrt(float64(dx*dx+dy*dy))) > p.maxDist
}

// outOfRangeRaster is the result when nothing can be computed: every cell
// is NoData and out of range.
func outOfRangeRaster(width, height, stride int, req Request) *Raster {
	r := newRaster(width, height)
	r.Stride = stride
	r.RxSensitivityDBm = req.RxSensitivityDBm
	r.GroundSampleDistanceM = req.GroundSampleDistanceM
	for i := range r.Status {
		r.Status[i] = StatusOutOfRange
	}
	return r
}

// Compute runs a single raster with default options.
func Compute(ctx context.Context, grid *terrain.Grid, req Request, model propagation.Model) (*Raster, error) {
	return NewGenerator(model, nil).Compute(ctx, grid, req)
}
