package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/meshrf/coverage"
	"github.com/signalsfoundry/meshrf/internal/config"
	"github.com/signalsfoundry/meshrf/internal/logging"
	"github.com/signalsfoundry/meshrf/internal/rpc"
)

// writeFlatGrid writes a 5x5 grid of 100 m cells as flat_5x5.f32 in dir.
func writeFlatGrid(t *testing.T, dir string) string {
	t.Helper()
	data := make([]float32, 25)
	for i := range data {
		data[i] = 100
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, data); err != nil {
		t.Fatalf("binary.Write: %v", err)
	}
	path := filepath.Join(dir, "flat_5x5.f32")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestServeStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dir := t.TempDir()
	writeFlatGrid(t, dir)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	cfg := config.Default()
	cfg.Metrics.Enabled = false
	cfg.Terrain.Dir = dir
	cfg.Server.ShutdownTimeout = 2 * time.Second
	log := logging.New(logging.Config{Level: "warn"})

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, &cfg, log, lis)
	}()

	conn, err := rpc.Dial(lis.Addr().String())
	if err != nil {
		t.Fatalf("rpc.Dial: %v", err)
	}
	defer conn.Close()
	client := rpc.NewClient(conn)

	names, err := client.Grids(ctx)
	if err != nil {
		t.Fatalf("Grids: %v", err)
	}
	if len(names) != 1 || names[0] != "flat" {
		t.Fatalf("grids = %v, want [flat]", names)
	}

	r, err := client.Compute(ctx, map[string]any{"grid": "flat", "tx_x": 2, "tx_y": 2, "stride": 1, "max_distance_px": 2})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if r.Width != 5 || r.Height != 5 {
		t.Fatalf("raster = %dx%d, want 5x5", r.Width, r.Height)
	}
	eirp := cfg.Link.Request(2, 2, cfg.Terrain.GroundSampleDistanceM).EIRP()
	if got := r.At(2, 2); got != eirp {
		t.Fatalf("tx cell = %v, want EIRP %v", got, eirp)
	}
	if r.At(0, 0) != coverage.NoData {
		t.Fatalf("corner = %v, want NoData beyond 2 px", r.At(0, 0))
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}

func TestCoverageCommandWritesASCIIGrid(t *testing.T) {
	dir := t.TempDir()
	grid := writeFlatGrid(t, dir)
	out := filepath.Join(dir, "cov.asc")

	app := newApp()
	app.Writer = &bytes.Buffer{}
	err := app.Run([]string{"meshrf", "--log-level", "error",
		"coverage",
		"--grid", grid,
		"--tx-x", "2", "--tx-y", "2",
		"--max-distance-px", "3",
		"--stride", "1",
		"--model", "fspl",
		"--out", out,
	})
	if err != nil {
		t.Fatalf("coverage: %v", err)
	}

	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 6+5 {
		t.Fatalf("got %d lines, want 6 header + 5 rows:\n%s", len(lines), b)
	}
	if lines[0] != "ncols 5" || lines[1] != "nrows 5" || lines[5] != "NODATA_value -999" {
		t.Fatalf("unexpected header:\n%s", strings.Join(lines[:6], "\n"))
	}
	if strings.Contains(lines[6+2], "-999") {
		t.Fatalf("tx row has uncomputed cells within range: %q", lines[6+2])
	}
}

func TestCoverageCommandRequiresGrid(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}
	if err := app.Run([]string{"meshrf", "coverage", "--tx-x", "1", "--tx-y", "1"}); err == nil {
		t.Fatalf("expected error without --grid")
	}
}

func TestProfileCommand(t *testing.T) {
	grid := writeFlatGrid(t, t.TempDir())

	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	err := app.Run([]string{"meshrf", "--log-level", "error",
		"profile",
		"--grid", grid,
		"--tx-x", "0", "--tx-y", "0",
		"--rx-x", "4", "--rx-y", "0",
		"--model", "fspl",
	})
	if err != nil {
		t.Fatalf("profile: %v", err)
	}

	out := buf.String()
	// Distance 4 px yields floor(4)+2 samples.
	if n := strings.Count(out, "100.0"); n != 6 {
		t.Fatalf("got %d elevation samples, want 6:\n%s", n, out)
	}
	if !strings.Contains(out, "rssi_dbm") {
		t.Fatalf("missing rssi line:\n%s", out)
	}
	if !strings.Contains(out, "link_status viable") {
		t.Fatalf("flat path should be viable:\n%s", out)
	}
}

func TestProfileCommandReportsBlockedLink(t *testing.T) {
	grid := writeFlatGrid(t, t.TempDir())

	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	err := app.Run([]string{"meshrf", "--log-level", "error",
		"profile",
		"--grid", grid,
		"--tx-x", "0", "--tx-y", "0",
		"--rx-x", "4", "--rx-y", "0",
		"--clutter-m", "20",
	})
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if out := buf.String(); !strings.Contains(out, "link_status blocked") {
		t.Fatalf("20 m clutter under 10 m and 2 m antennas should block:\n%s", out)
	}
}

func TestOutputFormat(t *testing.T) {
	cases := []struct{ format, out, want string }{
		{"", "cov.png", "color"},
		{"gray", "cov.png", "gray"},
		{"", "cov.ASC", "asc"},
		{"", "cov.f32", "raw"},
		{"", "-", "raw"},
		{"RAW", "cov.png", "raw"},
	}
	for _, tc := range cases {
		if got := outputFormat(tc.format, tc.out); got != tc.want {
			t.Fatalf("outputFormat(%q, %q) = %q, want %q", tc.format, tc.out, got, tc.want)
		}
	}
}
