package api

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/forumdm/internal/conversation"
	"github.com/matheus3301/forumdm/internal/forumapi"
	"github.com/matheus3301/forumdm/internal/outbound"
)

// statusError maps domain and collaborator failures to gRPC status codes.
// The message is the one a user should see.
func statusError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	var opErr *outbound.OperationError
	if errors.As(err, &opErr) {
		msg = opErr.Message
	}

	var se *forumapi.StatusError
	switch {
	case errors.Is(err, outbound.ErrEmptyBody), errors.Is(err, outbound.ErrInvalidPeer):
		return grpcstatus.Error(codes.InvalidArgument, msg)
	case errors.Is(err, outbound.ErrNotFound):
		return grpcstatus.Error(codes.NotFound, msg)
	case errors.Is(err, outbound.ErrNotSender):
		return grpcstatus.Error(codes.PermissionDenied, msg)
	case errors.Is(err, outbound.ErrRecallWindow), errors.Is(err, conversation.ErrNotLoaded):
		return grpcstatus.Error(codes.FailedPrecondition, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, msg)
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, msg)
	case errors.As(err, &se):
		return grpcstatus.Error(httpCode(se.Code), msg)
	default:
		return grpcstatus.Error(codes.Unavailable, msg)
	}
}

func httpCode(code int) codes.Code {
	switch code {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.AlreadyExists
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	default:
		return codes.Unavailable
	}
}
