package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// defaultRegisterTimeout is the correlator-side backstop for callers that
// forgot a context deadline. Normal callers always set one.
const defaultRegisterTimeout = 60 * time.Second

// Channel is one bidirectional message stream to one server. Send
// delivers a single request and returns the correlated response; Notify
// sends a fire-and-forget notification; Close tears the channel down in
// a manner appropriate to its kind.
//
// Request identifiers are assigned through the channel's Correlator
// before serialization. Channels never retry; retry policy belongs to
// callers.
type Channel interface {
	Send(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(ctx context.Context, method string, params any) error
	Close() error
}

// openChannel constructs the channel variant for the definition's
// transport kind. Callers never branch on kind after construction.
// onClose is invoked at most once if the channel dies unexpectedly;
// deliberate Close never triggers it.
func openChannel(ctx context.Context, def *ServerDefinition, corr *Correlator, onClose func(error)) (Channel, error) {
	switch def.Transport {
	case TransportStdio:
		return newStdioChannel(def, corr, onClose)
	case TransportHTTP:
		return newHTTPChannel(def, corr)
	case TransportWebSocket:
		return newWebSocketChannel(ctx, def, corr, onClose)
	default:
		return nil, fmt.Errorf("%w: unknown transport kind %q", ErrConfiguration, def.Transport)
	}
}

// registerTimeout derives the correlator timeout from the caller's
// context deadline. The timer is a backstop; the context normally fires
// first.
func registerTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline) + 50*time.Millisecond
	}
	return defaultRegisterTimeout
}

// awaitOutcome blocks until the correlated outcome arrives or the
// context ends, whichever comes first.
func awaitOutcome(ctx context.Context, corr *Correlator, id int64, ch <-chan Outcome) (json.RawMessage, error) {
	select {
	case out := <-ch:
		return out.Result, out.Err
	case <-ctx.Done():
		corr.Reject(id, ctx.Err())
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
	}
}

// dispatchResponse routes one inbound JSON-RPC response to the
// correlator. Frames without an id (server-initiated events) are ignored
// for now; unknown ids are dropped by the correlator.
func dispatchResponse(corr *Correlator, resp *JSONRPCResponse) {
	if resp.ID == 0 {
		return
	}
	if resp.Error != nil {
		corr.Reject(resp.ID, &RPCError{Code: resp.Error.Code, Message: resp.Error.Message})
		return
	}
	corr.Resolve(resp.ID, resp.Result)
}
