package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/meshrf/coverage"
)

// CoverageCollector exposes raster generation metrics. It satisfies
// coverage.MetricsRecorder.
type CoverageCollector struct {
	gatherer prometheus.Gatherer

	Rasters          *prometheus.CounterVec
	Pixels           *prometheus.CounterVec
	ComputeDuration  prometheus.Histogram
	GridCacheEntries prometheus.Gauge
}

// NewCoverageCollector registers coverage metrics against reg, defaulting to
// the global registry when nil.
func NewCoverageCollector(reg prometheus.Registerer) (*CoverageCollector, error) {
	reg, gatherer := registryOrDefault(reg)

	rasters, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coverage_rasters_total",
		Help: "Coverage rasters produced, labeled by whether the transmitter was on the grid.",
	}, []string{"tx"}), "coverage_rasters_total")
	if err != nil {
		return nil, err
	}

	pixels, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coverage_pixels_total",
		Help: "Candidate pixels visited, labeled by outcome.",
	}, []string{"status"}), "coverage_pixels_total")
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coverage_compute_duration_seconds",
		Help:    "Wall time of one coverage raster.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2.5, 12),
	}), "coverage_compute_duration_seconds")
	if err != nil {
		return nil, err
	}

	cache, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coverage_grid_cache_entries",
		Help: "Elevation grids currently held in the terrain cache.",
	}), "coverage_grid_cache_entries")
	if err != nil {
		return nil, err
	}

	return &CoverageCollector{
		gatherer:         gatherer,
		Rasters:          rasters,
		Pixels:           pixels,
		ComputeDuration:  duration,
		GridCacheEntries: cache,
	}, nil
}

// Gatherer returns the gatherer the collector was registered with.
func (c *CoverageCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes the collector's registry for scraping.
func (c *CoverageCollector) Handler() http.Handler {
	return handlerFor(c.Gatherer())
}

// ObserveRaster implements coverage.MetricsRecorder.
func (c *CoverageCollector) ObserveRaster(t coverage.Tally, elapsed time.Duration) {
	if c == nil {
		return
	}
	if t.TxOffGrid {
		c.Rasters.WithLabelValues("off_grid").Inc()
	} else {
		c.Rasters.WithLabelValues("on_grid").Inc()
	}
	for status, n := range map[coverage.CellStatus]int{
		coverage.StatusComputed:        t.Computed,
		coverage.StatusOutOfRange:      t.OutOfRange,
		coverage.StatusProfileTooShort: t.ProfileTooShort,
		coverage.StatusModelInvalid:    t.ModelInvalid,
	} {
		c.Pixels.WithLabelValues(status.String()).Add(float64(n))
	}
	c.ComputeDuration.Observe(elapsed.Seconds())
}

// SetGridCacheEntries updates the terrain cache gauge.
func (c *CoverageCollector) SetGridCacheEntries(n int) {
	if c == nil {
		return
	}
	c.GridCacheEntries.Set(float64(n))
}
