package registry

import "context"

// CancelHandle adapts a context cancellation to the Handle interface.
// Query streams are driven by a context; cancelling it is both their
// interrupt and their kill.
type CancelHandle struct {
	Cancel context.CancelFunc
}

func (h CancelHandle) Interrupt() error {
	h.Cancel()
	return nil
}

func (h CancelHandle) Kill() error {
	h.Cancel()
	return nil
}
