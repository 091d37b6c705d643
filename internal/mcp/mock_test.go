package mcp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockOpts shapes the behavior of the in-process mock MCP servers used
// across the transport and manager tests.
type mockOpts struct {
	tools      []Tool
	initDelay  time.Duration // delay before answering initialize
	callDelay  time.Duration // delay before answering tools/call
	callResult *CallToolResponse
	silent     bool          // accept requests, never answer
	conns      *atomic.Int32 // incremented per accepted websocket connection
}

func defaultTools() []Tool {
	return []Tool{
		{
			Name:        "read_file",
			Description: "Reads a file",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`),
		},
	}
}

// answer produces the JSON-RPC response for one request, or nil for
// notifications.
func (o *mockOpts) answer(req *JSONRPCRequest) *JSONRPCResponse {
	if req.ID == 0 {
		return nil
	}

	var result any
	switch req.Method {
	case "initialize":
		time.Sleep(o.initDelay)
		result = InitializeResponse{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: "mock", Version: "1.0.0"},
		}
	case "tools/list":
		result = ListToolsResponse{Tools: o.tools}
	case "tools/call":
		time.Sleep(o.callDelay)
		if o.callResult != nil {
			result = o.callResult
		} else {
			result = CallToolResponse{Content: []Content{{Type: "text", Text: "hello"}}}
		}
	case "ping":
		result = map[string]any{}
	default:
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &JSONRPCError{Code: -32601, Message: "method not found"},
		}
	}

	raw, _ := json.Marshal(result)
	return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: raw}
}

// newMockHTTPServer serves the mock over plain HTTP request/response.
func newMockHTTPServer(t *testing.T, opts mockOpts) *httptest.Server {
	t.Helper()
	if opts.tools == nil {
		opts.tools = defaultTools()
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if opts.silent {
			// Hold the request until the client gives up.
			<-r.Context().Done()
			return
		}
		resp := opts.answer(&req)
		if resp == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// mockWSServer wraps httptest.Server so CloseClientConnections also
// severs upgraded websocket connections, which httptest stops tracking
// once they are hijacked.
type mockWSServer struct {
	*httptest.Server
	mu    sync.Mutex
	socks []*websocket.Conn
}

func (s *mockWSServer) track(c *websocket.Conn) {
	s.mu.Lock()
	s.socks = append(s.socks, c)
	s.mu.Unlock()
}

func (s *mockWSServer) CloseClientConnections() {
	s.mu.Lock()
	for _, c := range s.socks {
		c.Close()
	}
	s.socks = nil
	s.mu.Unlock()
	s.Server.CloseClientConnections()
}

// newMockWSServer serves the mock over one persistent websocket. Each
// response is written from its own goroutine, so delayed answers arrive
// out of order relative to their requests.
func newMockWSServer(t *testing.T, opts mockOpts) *mockWSServer {
	t.Helper()
	if opts.tools == nil {
		opts.tools = defaultTools()
	}

	ws := &mockWSServer{}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		ws.track(conn)
		if opts.conns != nil {
			opts.conns.Add(1)
		}

		var writeMu sync.Mutex
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var req JSONRPCRequest
			if err := json.Unmarshal(message, &req); err != nil {
				continue
			}
			if opts.silent {
				continue
			}

			go func() {
				resp := opts.answer(&req)
				if resp == nil {
					return
				}
				data, _ := json.Marshal(resp)
				writeMu.Lock()
				defer writeMu.Unlock()
				conn.WriteMessage(websocket.TextMessage, data)
			}()
		}
	}))
	ws.Server = srv
	t.Cleanup(srv.Close)
	return ws
}
