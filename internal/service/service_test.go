package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolbridge-ai/toolbridge/internal/configstore"
	"github.com/toolbridge-ai/toolbridge/internal/event"
	"github.com/toolbridge-ai/toolbridge/internal/mcp"
	"github.com/toolbridge-ai/toolbridge/internal/storage"
)

// newRPCServer serves a minimal MCP endpoint over HTTP: handshake, one
// read_file tool, and echoing tool calls.
func newRPCServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mcp.JSONRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.ID == 0 {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		var result any
		switch req.Method {
		case "initialize":
			result = mcp.InitializeResponse{
				ProtocolVersion: mcp.ProtocolVersion,
				ServerInfo:      mcp.ServerInfo{Name: "fs-fixture", Version: "1.0.0"},
			}
		case "tools/list":
			result = mcp.ListToolsResponse{Tools: []mcp.Tool{{
				Name:        "read_file",
				Description: "Reads a file",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`),
			}}}
		case "tools/call":
			result = mcp.CallToolResponse{Content: []mcp.Content{{Type: "text", Text: "file contents"}}}
		case "ping":
			result = map[string]any{}
		default:
			json.NewEncoder(w).Encode(mcp.JSONRPCResponse{
				JSONRPC: "2.0", ID: req.ID,
				Error: &mcp.JSONRPCError{Code: -32601, Message: "method not found"},
			})
			return
		}

		raw, _ := json.Marshal(result)
		json.NewEncoder(w).Encode(mcp.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: raw})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	st, err := storage.New(t.TempDir(), "test-secret")
	require.NoError(t, err)

	bus := event.NewBus()
	store, err := configstore.New(st, bus)
	require.NoError(t, err)

	svc := New(store, bus)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func waitConnected(t *testing.T, svc *Service, id string) mcp.ConnectionState {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		state, err := svc.GetConnectionState(id)
		require.NoError(t, err)
		if state.Status == mcp.StatusConnected {
			return state
		}
		time.Sleep(10 * time.Millisecond)
	}
	state, _ := svc.GetConnectionState(id)
	t.Fatalf("server %s never connected, stuck at %s (%s)", id, state.Status, state.ErrorMessage)
	return mcp.ConnectionState{}
}

func TestService_InitializeAutoConnectsAndServesTools(t *testing.T) {
	srv := newRPCServer(t)
	svc := newTestService(t)

	def := mcp.ServerDefinition{
		Name:        "fs",
		Transport:   mcp.TransportHTTP,
		URL:         srv.URL,
		Enabled:     true,
		AutoConnect: true,
	}
	stored, err := svc.store.Add(context.Background(), def)
	require.NoError(t, err)

	require.NoError(t, svc.Initialize())
	waitConnected(t, svc, stored.ID)

	tools, err := svc.ListAvailableTools("")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "read_file", tools[0].Name)
	assert.Equal(t, stored.ID, tools[0].ServerID)

	result, err := svc.CallTool(context.Background(), stored.ID, "read_file", map[string]any{"path": "/etc/hosts"})
	require.NoError(t, err)
	assert.True(t, result.Success)

	var resp mcp.CallToolResponse
	require.NoError(t, json.Unmarshal(result.Content, &resp))
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "file contents", resp.Content[0].Text)
}

func TestService_InitializeSkipsDisabledServers(t *testing.T) {
	srv := newRPCServer(t)
	svc := newTestService(t)

	def := mcp.ServerDefinition{
		Name:        "fs",
		Transport:   mcp.TransportHTTP,
		URL:         srv.URL,
		Enabled:     false,
		AutoConnect: true,
	}
	stored, err := svc.store.Add(context.Background(), def)
	require.NoError(t, err)

	require.NoError(t, svc.Initialize())

	time.Sleep(200 * time.Millisecond)
	state, err := svc.GetConnectionState(stored.ID)
	require.NoError(t, err)
	assert.Equal(t, mcp.StatusDisconnected, state.Status)
}

func TestService_AddServer(t *testing.T) {
	srv := newRPCServer(t)
	svc := newTestService(t)
	require.NoError(t, svc.Initialize())

	stored, err := svc.AddServer(context.Background(), mcp.ServerDefinition{
		Name:        "fs",
		Transport:   mcp.TransportHTTP,
		URL:         srv.URL,
		Enabled:     true,
		AutoConnect: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)

	waitConnected(t, svc, stored.ID)

	defs := svc.ListServerDefinitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "fs", defs[0].Name)
}

func TestService_AddServerRejectsInvalid(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.Initialize())

	_, err := svc.AddServer(context.Background(), mcp.ServerDefinition{
		Name:      "broken",
		Transport: mcp.TransportStdio, // no command
	})
	assert.ErrorIs(t, err, mcp.ErrConfiguration)
	assert.Empty(t, svc.ListServerDefinitions())
	assert.Empty(t, svc.ListConnectionStates())
}

func TestService_UpdateServerDisconnects(t *testing.T) {
	srv := newRPCServer(t)
	svc := newTestService(t)
	require.NoError(t, svc.Initialize())

	stored, err := svc.AddServer(context.Background(), mcp.ServerDefinition{
		Name:      "fs",
		Transport: mcp.TransportHTTP,
		URL:       srv.URL,
		Enabled:   true,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Connect(context.Background(), stored.ID))

	stored.Name = "fs-renamed"
	require.NoError(t, svc.UpdateServer(context.Background(), stored))

	state, err := svc.GetConnectionState(stored.ID)
	require.NoError(t, err)
	assert.Equal(t, mcp.StatusDisconnected, state.Status)

	got, err := svc.GetServerDefinition(stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "fs-renamed", got.Name)
}

func TestService_RemoveServer(t *testing.T) {
	srv := newRPCServer(t)
	svc := newTestService(t)
	require.NoError(t, svc.Initialize())

	stored, err := svc.AddServer(context.Background(), mcp.ServerDefinition{
		Name:      "fs",
		Transport: mcp.TransportHTTP,
		URL:       srv.URL,
		Enabled:   true,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Connect(context.Background(), stored.ID))

	require.NoError(t, svc.RemoveServer(context.Background(), stored.ID))

	assert.Empty(t, svc.ListServerDefinitions())
	_, err = svc.GetConnectionState(stored.ID)
	assert.ErrorIs(t, err, mcp.ErrServerNotFound)
}

func TestService_TestConnection(t *testing.T) {
	srv := newRPCServer(t)
	svc := newTestService(t)

	good := mcp.ServerDefinition{Name: "fs", Transport: mcp.TransportHTTP, URL: srv.URL, Enabled: true}
	assert.True(t, svc.TestConnection(context.Background(), good))

	bad := mcp.ServerDefinition{Name: "fs", Transport: mcp.TransportHTTP, URL: "http://127.0.0.1:1/mcp", Enabled: true}
	assert.False(t, svc.TestConnection(context.Background(), bad))

	invalid := mcp.ServerDefinition{Name: "fs", Transport: mcp.TransportHTTP}
	assert.False(t, svc.TestConnection(context.Background(), invalid))
}

func TestService_ListAvailableToolsByServer(t *testing.T) {
	srv := newRPCServer(t)
	svc := newTestService(t)
	require.NoError(t, svc.Initialize())

	stored, err := svc.AddServer(context.Background(), mcp.ServerDefinition{
		Name:      "fs",
		Transport: mcp.TransportHTTP,
		URL:       srv.URL,
		Enabled:   true,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Connect(context.Background(), stored.ID))

	tools, err := svc.ListAvailableTools(stored.ID)
	require.NoError(t, err)
	assert.Len(t, tools, 1)

	_, err = svc.ListAvailableTools("ghost")
	assert.ErrorIs(t, err, mcp.ErrServerNotFound)
}

func TestService_CallToolRequiresConnection(t *testing.T) {
	srv := newRPCServer(t)
	svc := newTestService(t)
	require.NoError(t, svc.Initialize())

	stored, err := svc.AddServer(context.Background(), mcp.ServerDefinition{
		Name:      "fs",
		Transport: mcp.TransportHTTP,
		URL:       srv.URL,
		Enabled:   true,
	})
	require.NoError(t, err)

	_, err = svc.CallTool(context.Background(), stored.ID, "read_file", nil)
	assert.ErrorIs(t, err, mcp.ErrServerNotConnected)
}
