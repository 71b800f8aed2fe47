package call

import "errors"

// Failure taxonomy returned synchronously to the originating request.
// Nothing here is retried by the core; retry policy belongs to the caller.
var (
	ErrNotFound           = errors.New("call not found")
	ErrNotParticipant     = errors.New("not a participant of this call")
	ErrInvalidCallState   = errors.New("event not valid for current call state")
	ErrAlreadyHandled     = errors.New("lost race to a conflicting event")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrTransferInProgress = errors.New("a transfer is already pending")
	ErrExpired            = errors.New("deadline passed before action")
)
