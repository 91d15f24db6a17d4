// Command meshrf computes terrain-aware RF coverage rasters from the command
// line or serves them over gRPC.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/urfave/cli.v1"

	"github.com/signalsfoundry/meshrf/coverage"
	"github.com/signalsfoundry/meshrf/internal/config"
	"github.com/signalsfoundry/meshrf/internal/export"
	"github.com/signalsfoundry/meshrf/internal/logging"
	"github.com/signalsfoundry/meshrf/internal/observability"
	"github.com/signalsfoundry/meshrf/internal/rpc"
	"github.com/signalsfoundry/meshrf/propagation"
	"github.com/signalsfoundry/meshrf/terrain"
)

var (
	configFlag = cli.StringFlag{
		Name:   "config",
		Usage:  "configuration file (yaml, toml or json)",
		EnvVar: "MESHRF_CONFIG",
	}
	logLevelFlag = cli.StringFlag{
		Name:  "log-level",
		Usage: "debug, info, warn or error (overrides log.level)",
	}
	logFormatFlag = cli.StringFlag{
		Name:  "log-format",
		Usage: "text or json (overrides log.format)",
	}
)

// Flags shared by the coverage and profile commands.
var (
	gridFlag     = cli.StringFlag{Name: "grid", Usage: "elevation grid file (.hgt, .hgt.zip or <name>_<w>x<h>.f32)"}
	txXFlag      = cli.IntFlag{Name: "tx-x", Usage: "transmitter column"}
	txYFlag      = cli.IntFlag{Name: "tx-y", Usage: "transmitter row"}
	gsdFlag      = cli.Float64Flag{Name: "gsd", Usage: "ground size of one grid cell in metres"}
	modelFlag    = cli.StringFlag{Name: "model", Usage: "propagation model: " + strings.Join(propagation.Names(), ", ")}
	profilerFlag = cli.StringFlag{Name: "profiler", Usage: "line profiler: linear or bresenham"}
	freqFlag     = cli.Float64Flag{Name: "freq", Usage: "carrier frequency in MHz"}
	txHeightFlag = cli.Float64Flag{Name: "tx-height", Usage: "transmitter antenna height above ground in metres"}
	rxHeightFlag = cli.Float64Flag{Name: "rx-height", Usage: "receiver antenna height above ground in metres"}
	txPowerFlag  = cli.Float64Flag{Name: "tx-power", Usage: "transmit power in dBm"}
	txGainFlag   = cli.Float64Flag{Name: "tx-gain", Usage: "transmit antenna gain in dBi"}
	rxGainFlag   = cli.Float64Flag{Name: "rx-gain", Usage: "receive antenna gain in dBi"}
	txLossFlag   = cli.Float64Flag{Name: "tx-loss", Usage: "transmit cable loss in dB"}
	rxLossFlag   = cli.Float64Flag{Name: "rx-loss", Usage: "receive cable loss in dB"}
)

var linkFlags = []cli.Flag{
	gridFlag, txXFlag, txYFlag, gsdFlag, modelFlag, profilerFlag,
	freqFlag, txHeightFlag, rxHeightFlag, txPowerFlag, txGainFlag, rxGainFlag, txLossFlag, rxLossFlag,
}

var coverageCommand = cli.Command{
	Name:   "coverage",
	Usage:  "Compute a coverage raster for one transmitter",
	Action: coverageAction,
	Flags: append([]cli.Flag{
		cli.Float64Flag{Name: "max-distance-m", Usage: "search radius in metres"},
		cli.IntFlag{Name: "max-distance-px", Usage: "search radius in cells (overrides --max-distance-m)"},
		cli.Float64Flag{Name: "rx-sensitivity", Usage: "receiver sensitivity in dBm"},
		cli.IntFlag{Name: "stride", Usage: "sampling stride in cells"},
		cli.IntFlag{Name: "workers", Usage: "pixel workers (0 = GOMAXPROCS)"},
		cli.StringFlag{Name: "out", Value: "-", Usage: "output file, - for stdout"},
		cli.StringFlag{Name: "format", Usage: "color, gray, asc or raw (default from --out extension)"},
		cli.Float64Flag{Name: "bandwidth-hz", Value: export.DefaultBandwidthHz, Usage: "channel bandwidth for the colour noise floor"},
	}, linkFlags...),
	Description: `Loads one elevation grid, computes received power for every sampled
cell around the transmitter and writes the raster.`,
}

var serveCommand = cli.Command{
	Name:   "serve",
	Usage:  "Serve CoverageService over gRPC",
	Action: serveAction,
	Flags: []cli.Flag{
		cli.StringFlag{Name: "addr", Usage: "gRPC listen address (overrides server.addr)"},
		cli.StringFlag{Name: "metrics-addr", Usage: "Prometheus listen address (overrides metrics.addr)"},
		cli.StringFlag{Name: "terrain-dir", Usage: "grid directory (overrides terrain.dir)"},
	},
}

var profileCommand = cli.Command{
	Name:   "profile",
	Usage:  "Print the terrain profile, path loss and Fresnel clearance between two cells",
	Action: profileAction,
	Flags: append([]cli.Flag{
		cli.IntFlag{Name: "rx-x", Usage: "receiver column"},
		cli.IntFlag{Name: "rx-y", Usage: "receiver row"},
		cli.Float64Flag{Name: "k-factor", Value: propagation.DefaultKFactor, Usage: "effective Earth radius factor for the clearance check"},
		cli.Float64Flag{Name: "clutter-m", Usage: "clutter height added to the terrain for the clearance check"},
	}, linkFlags...),
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "meshrf:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "meshrf"
	app.Usage = "terrain-aware RF coverage rasters"
	app.Flags = []cli.Flag{configFlag, logLevelFlag, logFormatFlag}
	app.Commands = []cli.Command{coverageCommand, serveCommand, profileCommand}
	return app
}

// setup loads configuration and builds the logger.
func setup(c *cli.Context) (*config.Config, logging.Logger, error) {
	cfg, err := config.Load(c.GlobalString(configFlag.Name))
	if err != nil {
		return nil, nil, err
	}
	if v := c.GlobalString(logLevelFlag.Name); v != "" {
		cfg.Log.Level = v
	}
	if v := c.GlobalString(logFormatFlag.Name); v != "" {
		cfg.Log.Format = v
	}
	return cfg, logging.New(cfg.Log.Logging()), nil
}

// linkRequest applies the link flags over the configured defaults. The cell
// size comes from --gsd, then the grid, then the configuration.
func linkRequest(c *cli.Context, cfg *config.Config, grid *terrain.Grid) coverage.Request {
	link := cfg.Link
	for flag, dst := range map[string]*float64{
		freqFlag.Name:     &link.FrequencyMHz,
		txHeightFlag.Name: &link.TxHeightM,
		rxHeightFlag.Name: &link.RxHeightM,
		txPowerFlag.Name:  &link.TxPowerDBm,
		txGainFlag.Name:   &link.TxGainDBi,
		rxGainFlag.Name:   &link.RxGainDBi,
		txLossFlag.Name:   &link.TxLossDB,
		rxLossFlag.Name:   &link.RxLossDB,
		"max-distance-m":  &link.MaxDistanceM,
		"rx-sensitivity":  &link.RxSensitivityDBm,
	} {
		if c.IsSet(flag) {
			*dst = c.Float64(flag)
		}
	}
	gsd := cfg.Terrain.GroundSampleDistanceM
	if grid.GroundSampleDistanceM > 0 {
		gsd = grid.GroundSampleDistanceM
	}
	if c.IsSet(gsdFlag.Name) {
		gsd = c.Float64(gsdFlag.Name)
	}
	req := link.Request(c.Int(txXFlag.Name), c.Int(txYFlag.Name), gsd)
	if c.IsSet("max-distance-px") {
		req.MaxDistancePx = c.Int("max-distance-px")
	}
	return req
}

func modelAndProfiler(c *cli.Context, cfg *config.Config) (propagation.Model, terrain.Profiler, error) {
	name := cfg.Coverage.Model
	if c.IsSet(modelFlag.Name) {
		name = c.String(modelFlag.Name)
	}
	model, err := propagation.ByName(name)
	if err != nil {
		return nil, nil, err
	}
	pname := cfg.Coverage.Profiler
	if c.IsSet(profilerFlag.Name) {
		pname = c.String(profilerFlag.Name)
	}
	profiler, err := terrain.ProfilerByName(pname)
	if err != nil {
		return nil, nil, err
	}
	return model, profiler, nil
}

func coverageAction(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	if c.String(gridFlag.Name) == "" {
		return errors.New("--grid is required")
	}
	grid, err := terrain.LoadFile(c.String(gridFlag.Name))
	if err != nil {
		return err
	}
	req := linkRequest(c, cfg, grid)
	if err := req.Validate(); err != nil {
		return err
	}
	model, profiler, err := modelAndProfiler(c, cfg)
	if err != nil {
		return err
	}

	stride, workers := cfg.Coverage.Stride, cfg.Coverage.Workers
	if c.IsSet("stride") {
		stride = c.Int("stride")
	}
	if c.IsSet("workers") {
		workers = c.Int("workers")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, log = logging.WithJobLogger(ctx, log)

	shutdown, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	gen := coverage.NewGenerator(model, log,
		coverage.WithStride(stride),
		coverage.WithWorkers(workers),
		coverage.WithProfiler(profiler),
	)
	start := time.Now()
	raster, err := gen.Compute(ctx, grid, req)
	if err != nil {
		return err
	}

	out := c.String("out")
	format := outputFormat(c.String("format"), out)
	if err := writeOutput(c.App.Writer, out, format, raster, export.Palette{BandwidthHz: c.Float64("bandwidth-hz")}); err != nil {
		return err
	}

	sum := raster.Summarize()
	log.Info(ctx, "coverage written",
		logging.String("out", out),
		logging.String("format", format),
		logging.Int("computed", sum.Computed),
		logging.Int("covered", sum.Covered),
		logging.Float("min_dbm", sum.MinDBm),
		logging.Float("max_dbm", sum.MaxDBm),
		logging.Float("covered_area_km2", sum.CoveredAreaKm2),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func outputFormat(format, out string) string {
	if format != "" {
		return strings.ToLower(format)
	}
	switch strings.ToLower(filepath.Ext(out)) {
	case ".png":
		return "color"
	case ".asc":
		return "asc"
	default:
		return "raw"
	}
}

func writeOutput(stdout io.Writer, out, format string, r *coverage.Raster, palette export.Palette) (err error) {
	w := stdout
	if out != "" && out != "-" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	}

	switch format {
	case "color":
		return export.WriteColorPNG(w, r, palette)
	case "gray":
		return export.WriteGrayPNG(w, r)
	case "asc":
		return export.WriteASCIIGrid(w, r, export.GeoReference{})
	case "raw":
		return export.WriteRaw(w, r)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func profileAction(c *cli.Context) error {
	cfg, _, err := setup(c)
	if err != nil {
		return err
	}
	if c.String(gridFlag.Name) == "" {
		return errors.New("--grid is required")
	}
	grid, err := terrain.LoadFile(c.String(gridFlag.Name))
	if err != nil {
		return err
	}
	req := linkRequest(c, cfg, grid)
	if err := req.Validate(); err != nil {
		return err
	}
	model, profiler, err := modelAndProfiler(c, cfg)
	if err != nil {
		return err
	}

	profile := profiler.Profile(grid, req.TxX, req.TxY, c.Int("rx-x"), c.Int("rx-y"))
	adapter := coverage.NewPathLossAdapter(model, req)
	losses := model.PathLoss(profile, adapter.LinkParameters())

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "sample\tdistance_m\televation_m\tloss_db")
	for i, h := range profile {
		loss := float32(0)
		if i < len(losses) {
			loss = losses[i]
		}
		fmt.Fprintf(tw, "%d\t%.1f\t%.1f\t%.2f\n", i, float64(i)*req.GroundSampleDistanceM, h, loss)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	w := c.App.Writer
	if len(profile) < 2 {
		fmt.Fprintln(w, "profile too short")
		return nil
	}
	if loss, ok := adapter.PathLoss(profile); ok {
		fmt.Fprintf(w, "rssi_dbm %.2f\n", req.EIRP()+float32(req.RxGainDBi)-loss)
	} else {
		fmt.Fprintln(w, "model could not solve the path")
	}

	link, err := propagation.AnalyzeLink(profile, adapter.LinkParameters(), c.Float64("k-factor"), c.Float64("clutter-m"))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "clearance_ratio %.2f\n", link.MinClearanceRatio)
	fmt.Fprintf(w, "link_status %s\n", link.Status)
	return nil
}

func serveAction(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	if v := c.String("addr"); v != "" {
		cfg.Server.Addr = v
	}
	if v := c.String("metrics-addr"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := c.String("terrain-dir"); v != "" {
		cfg.Terrain.Dir = v
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	lis, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}
	return run(ctx, cfg, log, lis)
}

// run serves CoverageService on lis until ctx is done.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, lis net.Listener) error {
	store, err := terrain.NewStore(cfg.Terrain.Dir, cfg.Terrain.CacheSize)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rpcMetrics, err := observability.NewRPCCollector(reg)
	if err != nil {
		return err
	}
	covMetrics, err := observability.NewCoverageCollector(reg)
	if err != nil {
		return err
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		metricsSrv = serveMetrics(cfg.Metrics.Addr, covMetrics.Handler(), log)
	}

	server := rpc.NewServer(rpc.ServerConfig{
		Log:          log,
		Metrics:      rpcMetrics,
		MaxSendBytes: cfg.Server.MaxSendBytes,
	})
	rpc.RegisterCoverageServer(server, rpc.NewService(store, *cfg, log,
		rpc.WithCoverageCollector(covMetrics),
		rpc.WithRequestTimeout(cfg.Server.RequestTimeout),
	))

	log.Info(ctx, "starting coverage gRPC server",
		logging.String("addr", lis.Addr().String()),
		logging.Int("grids", len(store.Names())),
	)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(lis) }()

	select {
	case err := <-errCh:
		return fmt.Errorf("grpc server: %w", err)
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down coverage server")
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(cfg.Server.ShutdownTimeout):
		log.Warn(context.Background(), "graceful stop timed out")
		server.Stop()
	}

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func serveMetrics(addr string, handler http.Handler, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()
	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
