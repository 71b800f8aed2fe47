package call

import (
	"context"

	"github.com/looplab/fsm"
)

const (
	transferEventAccept  = "accept"
	transferEventDecline = "decline"
	transferEventExpire  = "expire"
)

// newTransferFSM guards the transfer sub-state machine. Pending is the only
// non-terminal state, so every edge starts there.
func newTransferFSM(current TransferStatus) *fsm.FSM {
	return fsm.NewFSM(
		string(current),
		fsm.Events{
			{Name: transferEventAccept, Src: []string{string(TransferPending)}, Dst: string(TransferAccepted)},
			{Name: transferEventDecline, Src: []string{string(TransferPending)}, Dst: string(TransferDeclined)},
			{Name: transferEventExpire, Src: []string{string(TransferPending)}, Dst: string(TransferExpired)},
		},
		fsm.Callbacks{},
	)
}

// settleTransfer fires event against the transfer's current status. A record
// that is already terminal lost the race, so the caller gets ErrAlreadyHandled.
func settleTransfer(t *Transfer, event string) (TransferStatus, error) {
	f := newTransferFSM(t.Status)
	if err := f.Event(context.Background(), event); err != nil {
		return t.Status, ErrAlreadyHandled
	}
	return TransferStatus(f.Current()), nil
}
