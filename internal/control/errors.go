package control

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/railsection-simulator/core"
	"github.com/signalsfoundry/railsection-simulator/internal/sim/session"
	"github.com/signalsfoundry/railsection-simulator/internal/store"
	"github.com/signalsfoundry/railsection-simulator/kb"
	"github.com/signalsfoundry/railsection-simulator/model"
)

// ToStatusError maps simulator errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(Code(err), err.Error())
}

// Code classifies err into the gRPC code the control surfaces report.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK

	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, kb.ErrCaseNotFound),
		errors.Is(err, store.ErrCaseNotFound),
		errors.Is(err, core.ErrTrainNotFound):
		return codes.NotFound

	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, session.ErrInvalidSpeed),
		errors.Is(err, core.ErrInvalidPath),
		errors.Is(err, core.ErrInvalidPolicy),
		errors.Is(err, model.ErrInvalidCase):
		return codes.InvalidArgument

	case errors.Is(err, core.ErrNoOutstandingApproval),
		errors.Is(err, core.ErrApprovalMismatch),
		errors.Is(err, session.ErrRunning),
		errors.Is(err, session.ErrClosed):
		return codes.FailedPrecondition

	case errors.Is(err, kb.ErrCaseExists):
		return codes.AlreadyExists

	default:
		if s, ok := status.FromError(err); ok {
			return s.Code()
		}
		return codes.Internal
	}
}
