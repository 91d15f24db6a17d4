package rpc

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/meshrf/internal/logging"
	"github.com/signalsfoundry/meshrf/internal/observability"
)

// JobIDMetadataKey carries a caller-chosen job ID. The server echoes it, or
// the ID it generated, in the response header.
const JobIDMetadataKey = "x-job-id"

const tracerName = "github.com/signalsfoundry/meshrf/internal/rpc"

// JobIDUnaryServerInterceptor puts a job_id on the context, taken from
// inbound metadata when present, and stores a logger annotated with it and
// the method.
func JobIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(JobIDMetadataKey); len(vals) > 0 && vals[0] != "" {
				ctx = logging.ContextWithJobID(ctx, vals[0])
			}
		}
		ctx, log := logging.WithJobLogger(ctx, base.With(logging.String("method", info.FullMethod)))
		ctx = logging.ContextWithLogger(ctx, log)
		_ = grpc.SetHeader(ctx, metadata.Pairs(JobIDMetadataKey, logging.JobIDFromContext(ctx)))

		resp, err := handler(ctx, req)
		if err != nil {
			log.Warn(ctx, "rpc failed", logging.String("code", status.Code(err).String()), logging.Err(err))
		}
		return resp, err
	}
}

// TracingUnaryServerInterceptor names and annotates the RPC span, starting
// one when no stats handler has.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(tracerName)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		service, method := observability.SplitMethod(info.FullMethod)
		name := fmt.Sprintf("CoverageRPC/%s/%s", service, method)

		span := trace.SpanFromContext(ctx)
		created := false
		if !span.SpanContext().IsValid() {
			ctx, span = tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
			created = true
		} else {
			span.SetName(name)
		}

		attrs := []attribute.KeyValue{
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
			attribute.String("rpc.full_method", strings.TrimPrefix(info.FullMethod, "/")),
		}
		if id := logging.JobIDFromContext(ctx); id != "" {
			attrs = append(attrs, attribute.String("job_id", id))
		}
		span.SetAttributes(attrs...)

		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, status.Code(err).String())
		}
		if created {
			span.End()
		}
		return resp, err
	}
}
