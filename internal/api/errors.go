package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/docstore"
	"github.com/matheus3301/chatsync/internal/model"
)

// ToStatus maps domain errors onto gRPC status codes.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	var code codes.Code
	switch {
	case errors.Is(err, docstore.ErrNotFound), errors.Is(err, model.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, model.ErrInvalid):
		code = codes.InvalidArgument
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, model.ErrUnauthenticated):
		code = codes.Unauthenticated
	case errors.Is(err, auth.ErrEmailTaken):
		code = codes.AlreadyExists
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return grpcstatus.Error(code, err.Error())
}

// FromStatus maps a gRPC error back onto the domain sentinels so callers can
// keep using errors.Is.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := grpcstatus.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return &remoteError{sentinel: docstore.ErrNotFound, also: model.ErrNotFound, msg: st.Message()}
	case codes.InvalidArgument:
		return &remoteError{sentinel: model.ErrInvalid, msg: st.Message()}
	case codes.Unauthenticated:
		return &remoteError{sentinel: model.ErrUnauthenticated, also: auth.ErrInvalidCredentials, msg: st.Message()}
	case codes.AlreadyExists:
		return &remoteError{sentinel: auth.ErrEmailTaken, msg: st.Message()}
	case codes.Unavailable:
		return &remoteError{sentinel: model.ErrDisconnected, msg: st.Message()}
	case codes.DeadlineExceeded:
		return &remoteError{sentinel: context.DeadlineExceeded, msg: st.Message()}
	}
	return err
}

type remoteError struct {
	sentinel error
	also     error
	msg      string
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Is(target error) bool {
	return target == e.sentinel || (e.also != nil && target == e.also)
}
