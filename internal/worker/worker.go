// Package worker is the process shell shared by the matching engine and the
// notification dispatcher: one unconditional pass at startup, then an
// unbounded receive-and-handle loop.
package worker

import (
	"context"
	"fmt"
)

// Receiver blocks until one message arrives on the worker's channel.
type Receiver interface {
	Receive(ctx context.Context) (string, error)
}

// HandlerFunc runs one pass. It must never fail the loop; handlers log their
// own errors and carry on.
type HandlerFunc func(ctx context.Context, payload string)

// Run performs the initial unscoped pass, then re-runs the handler for every
// received message. It returns only when the receiver fails (transport
// errors restart the whole process) or the context is cancelled. Invocations
// never overlap within one worker: receive, handle, receive, strictly in
// sequence.
func Run(ctx context.Context, recv Receiver, handle HandlerFunc) error {
	handle(ctx, "")

	for {
		payload, err := recv.Receive(ctx)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		handle(ctx, payload)
	}
}
