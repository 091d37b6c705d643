package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/toolbridge-ai/toolbridge/internal/logging"
)

// WebSocketChannel holds one persistent duplex socket to the endpoint.
// Every request is one outbound frame; every inbound frame is a JSON-RPC
// response dispatched to the correlator by its embedded id.
type WebSocketChannel struct {
	conn    *websocket.Conn
	corr    *Correlator
	writeMu sync.Mutex
	closed  atomic.Bool
	onClose func(error)
	log     zerolog.Logger
}

func newWebSocketChannel(ctx context.Context, def *ServerDefinition, corr *Correlator, onClose func(error)) (*WebSocketChannel, error) {
	header := http.Header{}
	for k, v := range def.Headers {
		header.Set(k, v)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL(def.URL), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: HTTP %d: %v", ErrNetwork, def.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", ErrNetwork, def.URL, err)
	}

	t := &WebSocketChannel{
		conn:    conn,
		corr:    corr,
		onClose: onClose,
		log:     logging.Component("transport.websocket").With().Str("server", def.ID).Logger(),
	}

	go t.readLoop()

	return t, nil
}

// wsURL maps http(s) endpoints onto their websocket scheme.
func wsURL(raw string) string {
	switch {
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	default:
		return raw
	}
}

// readLoop dispatches inbound frames by id until the socket drops, then
// fails every pending request.
func (t *WebSocketChannel) readLoop() {
	for {
		_, message, err := t.conn.ReadMessage()
		if err != nil {
			t.fail(fmt.Errorf("%w: socket closed: %v", ErrTransport, err))
			return
		}

		var resp JSONRPCResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			t.log.Debug().Err(err).Msg("skipping unparseable frame")
			continue
		}

		dispatchResponse(t.corr, &resp)
	}
}

// Send writes one frame and awaits the correlated response. Responses
// may arrive out of order relative to requests; correlation by id pairs
// them back up.
func (t *WebSocketChannel) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if t.closed.Load() {
		return nil, fmt.Errorf("%w: channel closed", ErrTransport)
	}

	id := t.corr.NextID()
	ch := t.corr.Register(id, registerTimeout(ctx))

	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := t.writeMessage(req); err != nil {
		t.corr.Reject(id, err)
		out := <-ch
		return nil, out.Err
	}

	return awaitOutcome(ctx, t.corr, id, ch)
}

// Notify writes one frame without an id; no response is expected.
func (t *WebSocketChannel) Notify(ctx context.Context, method string, params any) error {
	if t.closed.Load() {
		return fmt.Errorf("%w: channel closed", ErrTransport)
	}
	return t.writeMessage(JSONRPCRequest{JSONRPC: "2.0", Method: method, Params: params})
}

// writeMessage serializes and writes one frame. gorilla permits only one
// concurrent writer, so writes are serialized.
func (t *WebSocketChannel) writeMessage(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// fail marks the channel dead after an unexpected error, drains pending
// requests, and notifies the owner. First caller wins.
func (t *WebSocketChannel) fail(err error) {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	t.log.Warn().Err(err).Msg("websocket channel died")
	t.corr.RejectAll(err)
	if t.onClose != nil {
		t.onClose(err)
	}
}

// Close sends a best-effort close frame and tears the socket down. A
// close initiated here does not count as unexpected death.
func (t *WebSocketChannel) Close() error {
	if t.closed.CompareAndSwap(false, true) {
		t.corr.RejectAll(fmt.Errorf("%w: channel closed", ErrTransport))
	}

	t.writeMu.Lock()
	t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()

	return t.conn.Close()
}
