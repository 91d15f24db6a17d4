package rpc

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/meshrf/internal/logging"
	"github.com/signalsfoundry/meshrf/internal/observability"
)

// ServerConfig assembles a gRPC server for the coverage service.
type ServerConfig struct {
	Log     logging.Logger
	Metrics *observability.RPCCollector
	// MaxSendBytes raises the response size limit for large rasters. Zero
	// keeps the gRPC default.
	MaxSendBytes int
}

// NewServer returns a gRPC server with otelgrpc instrumentation and the
// job-ID, metrics and tracing interceptors installed, in that order.
func NewServer(cfg ServerConfig) *grpc.Server {
	interceptors := []grpc.UnaryServerInterceptor{JobIDUnaryServerInterceptor(cfg.Log)}
	if cfg.Metrics != nil {
		interceptors = append(interceptors, cfg.Metrics.UnaryServerInterceptor())
	}
	interceptors = append(interceptors, TracingUnaryServerInterceptor())

	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	}
	if cfg.MaxSendBytes > 0 {
		opts = append(opts, grpc.MaxSendMsgSize(cfg.MaxSendBytes))
	}
	return grpc.NewServer(opts...)
}

// Dial opens an insecure, traced client connection to addr.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(math.MaxInt32)),
	}
	return grpc.NewClient(addr, append(base, opts...)...)
}

// Raster is a decoded ComputeCoverage response.
type Raster struct {
	Width    int
	Height   int
	Stride   int
	Values   []float32
	Computed int
	Covered  int
	JobID    string
}

// At returns the value at (x, y).
func (r *Raster) At(x, y int) float32 { return r.Values[y*r.Width+x] }

// Client wraps CoverageClient with request building and response decoding.
type Client struct {
	rpc *CoverageClient
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{rpc: NewCoverageClient(cc)}
}

// Compute sends params, a map of ComputeCoverage fields, and decodes the
// raster and its headers.
func (c *Client) Compute(ctx context.Context, params map[string]any) (*Raster, error) {
	in, err := structpb.NewStruct(params)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	var header metadata.MD
	out, err := c.rpc.ComputeCoverage(ctx, in, grpc.Header(&header))
	if err != nil {
		return nil, err
	}

	r := &Raster{
		Width:    headerInt(header, HeaderWidth),
		Height:   headerInt(header, HeaderHeight),
		Stride:   headerInt(header, HeaderStride),
		Computed: headerInt(header, HeaderComputed),
		Covered:  headerInt(header, HeaderCovered),
	}
	if ids := header.Get(JobIDMetadataKey); len(ids) > 0 {
		r.JobID = ids[0]
	}
	body := out.GetValue()
	if len(body) != 4*r.Width*r.Height {
		return nil, fmt.Errorf("raster body is %d bytes, want %d for %dx%d", len(body), 4*r.Width*r.Height, r.Width, r.Height)
	}
	r.Values = make([]float32, r.Width*r.Height)
	for i := range r.Values {
		r.Values[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[4*i:]))
	}
	return r, nil
}

// Grids lists the server's grid names.
func (c *Client) Grids(ctx context.Context) ([]string, error) {
	out, err := c.rpc.ListGrids(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, err
	}
	var names []string
	for _, v := range out.GetFields()["grids"].GetListValue().GetValues() {
		names = append(names, v.GetStringValue())
	}
	return names, nil
}

func headerInt(md metadata.MD, key string) int {
	vals := md.Get(key)
	if len(vals) == 0 {
		return 0
	}
	n, _ := strconv.Atoi(vals[0])
	return n
}
