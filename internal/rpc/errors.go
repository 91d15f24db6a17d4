package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/meshrf/coverage"
	"github.com/signalsfoundry/meshrf/propagation"
	"github.com/signalsfoundry/meshrf/terrain"
)

// ErrInvalidArgument marks malformed request messages.
var ErrInvalidArgument = errors.New("invalid argument")

// ToStatusError maps meshrf errors onto gRPC status codes. Errors that
// already carry a status pass through unchanged.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, terrain.ErrGridNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, coverage.ErrInvalidRequest),
		errors.Is(err, propagation.ErrUnknownModel),
		errors.Is(err, terrain.ErrUnknownProfiler),
		errors.Is(err, terrain.ErrShape):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
