package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/toolbridge-ai/toolbridge/internal/logging"
)

// HTTPChannel issues one POST per request against the configured
// endpoint. Stateless: there is no persistent connection and Close is a
// no-op.
type HTTPChannel struct {
	url     string
	headers map[string]string
	client  *http.Client
	corr    *Correlator
	log     zerolog.Logger
}

func newHTTPChannel(def *ServerDefinition, corr *Correlator) (*HTTPChannel, error) {
	if def.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrConfiguration)
	}
	return &HTTPChannel{
		url:     def.URL,
		headers: def.Headers,
		client:  &http.Client{},
		corr:    corr,
		log:     logging.Component("transport.http").With().Str("server", def.ID).Logger(),
	}, nil
}

// Send posts one JSON-RPC request; the response body is the single
// correlated JSON-RPC response.
func (t *HTTPChannel) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := t.corr.NextID()

	body, err := json.Marshal(JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	resp, err := t.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}

	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("%w: malformed response body: %v", ErrTransport, err)
	}

	if rpcResp.Error != nil {
		return nil, &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}

	return rpcResp.Result, nil
}

// Notify posts one notification and discards the response body.
func (t *HTTPChannel) Notify(ctx context.Context, method string, params any) error {
	body, err := json.Marshal(JSONRPCRequest{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	resp, err := t.post(ctx, body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (t *HTTPChannel) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return resp, nil
}

// Close is a no-op; nothing is held between requests.
func (t *HTTPChannel) Close() error {
	return nil
}
