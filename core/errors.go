package core

import "errors"

var (
	// ErrNoOutstandingApproval is returned when a decision arrives while no
	// approval request is open.
	ErrNoOutstandingApproval = errors.New("no outstanding approval request")
	// ErrApprovalMismatch is returned when a decision names a train other
	// than the one in the outstanding request.
	ErrApprovalMismatch = errors.New("approval decision does not match outstanding request")
	// ErrInvalidPath is returned for a chosen path that is empty, broken or
	// uses a closed track.
	ErrInvalidPath = errors.New("invalid path")
	// ErrTrainNotFound is returned when a train ID is not in the roster.
	ErrTrainNotFound = errors.New("train not found")
	// ErrInvalidPolicy wraps Policy validation failures.
	ErrInvalidPolicy = errors.New("invalid engine policy")
)
