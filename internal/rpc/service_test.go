package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/meshrf/coverage"
	"github.com/signalsfoundry/meshrf/internal/config"
	"github.com/signalsfoundry/meshrf/internal/logging"
	"github.com/signalsfoundry/meshrf/internal/observability"
	"github.com/signalsfoundry/meshrf/propagation"
	"github.com/signalsfoundry/meshrf/terrain"
)

type testServer struct {
	client   *Client
	rpc      *observability.RPCCollector
	coverage *observability.CoverageCollector
}

func startServer(t *testing.T, store *terrain.Store) testServer {
	t.Helper()

	reg := prometheus.NewRegistry()
	rpcMetrics, err := observability.NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}
	covMetrics, err := observability.NewCoverageCollector(reg)
	if err != nil {
		t.Fatalf("NewCoverageCollector: %v", err)
	}

	log := logging.New(logging.Config{Level: "error"})
	server := NewServer(ServerConfig{Log: log, Metrics: rpcMetrics})
	RegisterCoverageServer(server, NewService(store, config.Default(), log,
		WithCoverageCollector(covMetrics),
		WithRequestTimeout(10*time.Second),
	))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := Dial(lis.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return testServer{client: NewClient(conn), rpc: rpcMetrics, coverage: covMetrics}
}

func memoryStore(t *testing.T) *terrain.Store {
	t.Helper()
	store, err := terrain.NewStore("", 2)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	data := make([]float32, 9*9)
	for i := range data {
		data[i] = float32(i % 7)
	}
	g, err := terrain.NewGrid(9, 9, data)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	store.Put("hills", g)
	return store
}

func TestComputeCoverageMatchesGenerator(t *testing.T) {
	store := memoryStore(t)
	srv := startServer(t, store)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, JobIDMetadataKey, "job-42")

	got, err := srv.client.Compute(ctx, map[string]any{
		"grid":            "hills",
		"tx_x":            4,
		"tx_y":            4,
		"max_distance_px": 4,
		"stride":          1,
		"model":           "fspl",
		"tx_loss_db":      1.5,
	})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got.Width != 9 || got.Height != 9 || got.Stride != 1 {
		t.Fatalf("raster = %dx%d stride %d, want 9x9 stride 1", got.Width, got.Height, got.Stride)
	}
	if got.JobID != "job-42" {
		t.Fatalf("job id = %q, want job-42", got.JobID)
	}

	link := config.Default().Link
	link.TxLossDB = 1.5
	req := link.Request(4, 4, config.Default().Terrain.GroundSampleDistanceM)
	req.MaxDistancePx = 4
	grid, _ := store.Get("hills")
	want, err := coverage.NewGenerator(propagation.FreeSpace{}, nil, coverage.WithStride(1)).Compute(context.Background(), grid, req)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if diff := cmp.Diff(want.Values, got.Values); diff != "" {
		t.Fatalf("values differ (-want +got):\n%s", diff)
	}
	if got.Computed != want.Summarize().Computed {
		t.Fatalf("computed header = %d, want %d", got.Computed, want.Summarize().Computed)
	}

	if n := testutil.ToFloat64(srv.rpc.Requests.WithLabelValues("CoverageService", "ComputeCoverage", "OK")); n != 1 {
		t.Fatalf("rpc_requests_total = %v, want 1", n)
	}
	if n := testutil.ToFloat64(srv.coverage.Pixels.WithLabelValues("computed")); int(n) != got.Computed {
		t.Fatalf("coverage_pixels_total{computed} = %v, want %d", n, got.Computed)
	}
}

func TestComputeCoverageErrors(t *testing.T) {
	srv := startServer(t, memoryStore(t))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cases := []struct {
		name   string
		params map[string]any
		code   codes.Code
	}{
		{"unknown grid", map[string]any{"grid": "nope", "tx_x": 1, "tx_y": 1}, codes.NotFound},
		{"missing tx", map[string]any{"grid": "hills"}, codes.InvalidArgument},
		{"missing grid", map[string]any{"tx_x": 1, "tx_y": 1}, codes.InvalidArgument},
		{"fractional tx", map[string]any{"grid": "hills", "tx_x": 1.5, "tx_y": 1}, codes.InvalidArgument},
		{"unknown field", map[string]any{"grid": "hills", "tx_x": 1, "tx_y": 1, "txpower": 3}, codes.InvalidArgument},
		{"unknown model", map[string]any{"grid": "hills", "tx_x": 1, "tx_y": 1, "model": "itm"}, codes.InvalidArgument},
		{"unknown hata environment", map[string]any{"grid": "hills", "tx_x": 1, "tx_y": 1, "model": "hata:lunar"}, codes.InvalidArgument},
		{"unknown profiler", map[string]any{"grid": "hills", "tx_x": 1, "tx_y": 1, "profiler": "wu"}, codes.InvalidArgument},
		{"bad frequency", map[string]any{"grid": "hills", "tx_x": 1, "tx_y": 1, "frequency_mhz": 0}, codes.InvalidArgument},
		{"zero stride", map[string]any{"grid": "hills", "tx_x": 1, "tx_y": 1, "stride": 0}, codes.InvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := srv.client.Compute(ctx, tc.params)
			if status.Code(err) != tc.code {
				t.Fatalf("code = %v (%v), want %v", status.Code(err), err, tc.code)
			}
		})
	}
}

func TestComputeCoverageOffGridTransmitter(t *testing.T) {
	srv := startServer(t, memoryStore(t))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got, err := srv.client.Compute(ctx, map[string]any{"grid": "hills", "tx_x": -3, "tx_y": 2})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	for i, v := range got.Values {
		if v != coverage.NoData {
			t.Fatalf("value %d = %v, want NoData", i, v)
		}
	}
}

func TestComputeCoverageUsesGridCellSize(t *testing.T) {
	store := memoryStore(t)
	g, err := terrain.NewGrid(25, 25, make([]float32, 25*25))
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	g.GroundSampleDistanceM = 90
	store.Put("srtm3", g)
	srv := startServer(t, store)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 900 m is 10 cells at 90 m; at the 30 m default it would cover the grid.
	got, err := srv.client.Compute(ctx, map[string]any{
		"grid": "srtm3", "tx_x": 12, "tx_y": 12, "max_distance_m": 900, "stride": 1, "model": "fspl",
	})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got.At(12, 2) == coverage.NoData {
		t.Fatalf("cell 10 px away is NoData, want computed")
	}
	if v := got.At(12, 1); v != coverage.NoData {
		t.Fatalf("cell 11 px away = %v, want NoData", v)
	}

	// An explicit cell size wins over the grid's.
	got, err = srv.client.Compute(ctx, map[string]any{
		"grid": "srtm3", "tx_x": 12, "tx_y": 12, "max_distance_m": 900, "stride": 1, "model": "fspl",
		"ground_sample_distance_m": 30,
	})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got.At(12, 0) == coverage.NoData {
		t.Fatalf("cell 12 px away is NoData with 30 m cells, want computed")
	}
}

func TestListGrids(t *testing.T) {
	srv := startServer(t, memoryStore(t))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	names, err := srv.client.Grids(ctx)
	if err != nil {
		t.Fatalf("Grids: %v", err)
	}
	if diff := cmp.Diff([]string{"hills"}, names); diff != "" {
		t.Fatalf("grids differ (-want +got):\n%s", diff)
	}
}
