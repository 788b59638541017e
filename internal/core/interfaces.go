package core

import "context"

// Signaler is the outbound half of the signaling channel: a correlated
// request/response call against the room server. Implemented by
// signaling.Channel and owned by the client facade.
type Signaler interface {
	Call(ctx context.Context, method string, params, result any) error
}
