package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	// Consumer-visible failures.
	ErrHistoryUnavailable = fmt.Errorf("history unavailable")
	ErrNotOpen            = fmt.Errorf("live channel is not open")
	ErrCredentialRejected = fmt.Errorf("credential rejected")

	// Handled internally, reflected only as state transitions.
	ErrMalformedFrame   = fmt.Errorf("malformed frame")
	ErrTransportFailure = fmt.Errorf("transport failure")

	ErrEmptyContent   = fmt.Errorf("message content is empty")
	ErrContentTooLong = fmt.Errorf("message content is too long")
	ErrInvalidSession = fmt.Errorf("session id is required")
	ErrAlreadySeeded  = fmt.Errorf("timeline already seeded")
	ErrNotSeeded      = fmt.Errorf("timeline not seeded")

	ErrInvalidConfig = fmt.Errorf("invalid configuration")
)
