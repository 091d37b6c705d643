package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/toolbridge-ai/toolbridge/internal/event"
	"github.com/toolbridge-ai/toolbridge/internal/logging"
)

// Default timeouts; overridable per manager and per definition.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultCallTimeout      = 60 * time.Second
)

// Manager owns one entry per registered server. Each entry exclusively
// owns its channel and correlator; nothing outside the manager can reach
// another server's live resources.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*serverEntry

	bus              *event.Bus
	clientInfo       ClientInfo
	handshakeTimeout time.Duration
	callTimeout      time.Duration
	log              zerolog.Logger
}

// serverEntry pairs a definition with its runtime state and live
// resources. The entry mutex guards state transitions; transport I/O
// happens outside it so servers never block each other.
type serverEntry struct {
	mu      sync.Mutex
	def     ServerDefinition
	state   ConnectionState
	channel Channel
	corr    *Correlator
	gen     uint64 // bumped on disconnect so stale connects cannot finalize
}

// Option configures a Manager.
type Option func(*Manager)

// WithClientInfo sets the identity sent during the handshake.
func WithClientInfo(info ClientInfo) Option {
	return func(m *Manager) { m.clientInfo = info }
}

// WithHandshakeTimeout sets the handshake/discovery timeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *Manager) { m.handshakeTimeout = d }
}

// WithCallTimeout sets the tool-call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(m *Manager) { m.callTimeout = d }
}

// NewManager creates a Manager publishing lifecycle events on bus.
func NewManager(bus *event.Bus, opts ...Option) *Manager {
	if bus == nil {
		bus = event.NewBus()
	}
	m := &Manager{
		entries:          make(map[string]*serverEntry),
		bus:              bus,
		clientInfo:       ClientInfo{Name: "toolbridge", Version: "1.0.0"},
		handshakeTimeout: DefaultHandshakeTimeout,
		callTimeout:      DefaultCallTimeout,
		log:              logging.Component("mcp.manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register creates a disconnected entry for a definition.
func (m *Manager) Register(def ServerDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[def.ID]; ok {
		return fmt.Errorf("server already registered: %s", def.ID)
	}

	m.entries[def.ID] = &serverEntry{
		def: def,
		state: ConnectionState{
			ServerID: def.ID,
			Status:   StatusDisconnected,
		},
	}
	return nil
}

// Unregister disconnects and removes an entry.
func (m *Manager) Unregister(serverID string) error {
	if err := m.Disconnect(serverID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.entries, serverID)
	m.mu.Unlock()
	return nil
}

// UpdateDefinition disconnects the entry and swaps in the new definition.
// Reconnection, if wanted, is the caller's move.
func (m *Manager) UpdateDefinition(def ServerDefinition) error {
	if err := m.Disconnect(def.ID); err != nil {
		return err
	}

	// The entry can vanish between Disconnect and here if an Unregister
	// races this call.
	e := m.get(def.ID)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrServerNotFound, def.ID)
	}

	e.mu.Lock()
	e.def = def
	e.mu.Unlock()
	return nil
}

// Connect drives the full connect sequence: validate, gate, open,
// handshake, discover, connected. Idempotent: a call while already
// connecting or connected is a no-op success. Any failure closes the
// partially opened channel and lands in the error state.
func (m *Manager) Connect(ctx context.Context, serverID string) error {
	e := m.get(serverID)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrServerNotFound, serverID)
	}

	e.mu.Lock()
	if e.state.Status == StatusConnected || e.state.Status == StatusConnecting {
		e.mu.Unlock()
		return nil
	}

	def := e.def

	if !def.Enabled {
		err := fmt.Errorf("%w: server %q is disabled", ErrConfiguration, def.Name)
		m.setErrorLocked(e, err)
		e.mu.Unlock()
		return err
	}
	if err := def.Validate(); err != nil {
		m.setErrorLocked(e, err)
		e.mu.Unlock()
		return err
	}
	// The platform gate fires before any transport is opened.
	if def.Transport == TransportStdio && !spawnSupported() {
		err := fmt.Errorf("%w: cannot connect %q", ErrPlatformUnsupported, def.Name)
		m.setErrorLocked(e, err)
		e.mu.Unlock()
		return err
	}

	e.state.Status = StatusConnecting
	e.state.ErrorMessage = ""
	gen := e.gen
	e.mu.Unlock()

	m.log.Info().Str("server", serverID).Str("transport", string(def.Transport)).Msg("connecting")

	channel, corr, tools, err := m.establish(ctx, &def, func(cause error) {
		m.handleChannelDeath(serverID, cause)
	})

	e.mu.Lock()
	if e.gen != gen || e.state.Status != StatusConnecting {
		// A disconnect raced the attempt; whatever we opened is stale.
		e.mu.Unlock()
		if channel != nil {
			channel.Close()
		}
		return fmt.Errorf("%w: connect aborted by disconnect", ErrTransport)
	}

	if err != nil {
		m.setErrorLocked(e, err)
		e.mu.Unlock()
		return err
	}

	now := time.Now()
	e.channel = channel
	e.corr = corr
	e.state.Status = StatusConnected
	e.state.Tools = tools
	e.state.LastConnectedAt = &now
	e.state.LastActivityAt = &now
	e.state.ErrorMessage = ""
	e.mu.Unlock()

	m.log.Info().Str("server", serverID).Int("tools", len(tools)).Msg("connected")
	m.bus.Publish(event.Event{Type: event.ServerConnected, Data: event.ServerConnectedData{ServerID: serverID, ToolCount: len(tools)}})
	m.bus.Publish(event.Event{Type: event.ServerToolsUpdated, Data: event.ServerToolsUpdatedData{ServerID: serverID, ToolCount: len(tools)}})
	return nil
}

// establish opens a channel, performs the handshake, and discovers
// tools. On failure the channel is closed before returning; no process
// or socket leaks.
func (m *Manager) establish(ctx context.Context, def *ServerDefinition, onClose func(error)) (Channel, *Correlator, []ToolDescriptor, error) {
	corr := NewCorrelator()

	channel, err := openChannel(ctx, def, corr, onClose)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open transport: %w", err)
	}

	hsCtx, cancel := context.WithTimeout(ctx, m.handshakeTimeoutFor(def))
	defer cancel()

	raw, err := channel.Send(hsCtx, "initialize", InitializeRequest{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      m.clientInfo,
	})
	if err != nil {
		channel.Close()
		return nil, nil, nil, fmt.Errorf("handshake: %w", err)
	}

	var initResp InitializeResponse
	if err := json.Unmarshal(raw, &initResp); err != nil {
		channel.Close()
		return nil, nil, nil, fmt.Errorf("handshake: %w: malformed initialize result: %v", ErrTransport, err)
	}

	if err := channel.Notify(ctx, "notifications/initialized", nil); err != nil {
		channel.Close()
		return nil, nil, nil, fmt.Errorf("handshake: %w", err)
	}

	discCtx, cancel2 := context.WithTimeout(ctx, m.handshakeTimeoutFor(def))
	defer cancel2()

	raw, err = channel.Send(discCtx, "tools/list", nil)
	if err != nil {
		channel.Close()
		return nil, nil, nil, fmt.Errorf("tool discovery: %w", err)
	}

	var listResp ListToolsResponse
	if err := json.Unmarshal(raw, &listResp); err != nil {
		channel.Close()
		return nil, nil, nil, fmt.Errorf("tool discovery: %w: malformed tools/list result: %v", ErrTransport, err)
	}

	tools := make([]ToolDescriptor, len(listResp.Tools))
	for i, t := range listResp.Tools {
		tools[i] = ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			ServerID:    def.ID,
		}
	}

	m.log.Debug().Str("server", def.ID).Str("remote", initResp.ServerInfo.Name).Int("tools", len(tools)).Msg("discovery complete")
	return channel, corr, tools, nil
}

// Disconnect closes the entry's channel, fails its pending requests, and
// returns the entry to the disconnected state with tools cleared.
func (m *Manager) Disconnect(serverID string) error {
	e := m.get(serverID)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrServerNotFound, serverID)
	}

	e.mu.Lock()
	channel := e.channel
	e.channel = nil
	e.corr = nil
	e.gen++
	e.state.Status = StatusDisconnected
	e.state.Tools = nil
	e.state.ErrorMessage = ""
	e.mu.Unlock()

	if channel != nil {
		channel.Close()
	}

	m.log.Info().Str("server", serverID).Msg("disconnected")
	m.bus.Publish(event.Event{Type: event.ServerDisconnected, Data: event.ServerDisconnectedData{ServerID: serverID}})
	return nil
}

// TestConnection runs the connect sequence against a throwaway channel
// without touching any persisted entry state.
func (m *Manager) TestConnection(ctx context.Context, def ServerDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if def.Transport == TransportStdio && !spawnSupported() {
		return fmt.Errorf("%w: cannot test %q", ErrPlatformUnsupported, def.Name)
	}

	channel, _, _, err := m.establish(ctx, &def, nil)
	if err != nil {
		return err
	}
	return channel.Close()
}

// Ping sends a liveness probe over an established connection.
func (m *Manager) Ping(ctx context.Context, serverID string) error {
	pingCtx, cancel := context.WithTimeout(ctx, m.handshakeTimeout)
	defer cancel()

	_, err := m.send(pingCtx, serverID, "ping", nil)
	return err
}

// Definition returns the registered definition for a server.
func (m *Manager) Definition(serverID string) (ServerDefinition, error) {
	e := m.get(serverID)
	if e == nil {
		return ServerDefinition{}, fmt.Errorf("%w: %s", ErrServerNotFound, serverID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.def, nil
}

// State returns a snapshot of one server's connection state.
func (m *Manager) State(serverID string) (ConnectionState, error) {
	e := m.get(serverID)
	if e == nil {
		return ConnectionState{}, fmt.Errorf("%w: %s", ErrServerNotFound, serverID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshotState(&e.state), nil
}

// States returns snapshots for every registered server.
func (m *Manager) States() []ConnectionState {
	m.mu.RLock()
	entries := make([]*serverEntry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	states := make([]ConnectionState, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		states = append(states, snapshotState(&e.state))
		e.mu.Unlock()
	}
	return states
}

// CloseAll disconnects every registered server.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Disconnect(id)
	}
}

// send routes one request through a connected entry's channel.
func (m *Manager) send(ctx context.Context, serverID, method string, params any) (json.RawMessage, error) {
	e := m.get(serverID)
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, serverID)
	}

	e.mu.Lock()
	if e.state.Status != StatusConnected || e.channel == nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrServerNotConnected, serverID)
	}
	channel := e.channel
	e.mu.Unlock()

	return channel.Send(ctx, method, params)
}

// recordActivity bumps the tool-call counter and activity timestamp.
// Observability bookkeeping: it runs whether or not the call succeeded.
func (m *Manager) recordActivity(serverID string) {
	e := m.get(serverID)
	if e == nil {
		return
	}

	e.mu.Lock()
	now := time.Now()
	e.state.ToolCallCount++
	e.state.LastActivityAt = &now
	e.mu.Unlock()
}

// callTimeoutFor resolves the tool-call timeout for a server, honoring
// the per-definition override.
func (m *Manager) callTimeoutFor(serverID string) time.Duration {
	e := m.get(serverID)
	if e == nil {
		return m.callTimeout
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.def.Timeout > 0 {
		return time.Duration(e.def.Timeout) * time.Millisecond
	}
	return m.callTimeout
}

func (m *Manager) handshakeTimeoutFor(def *ServerDefinition) time.Duration {
	if def.Timeout > 0 {
		return time.Duration(def.Timeout) * time.Millisecond
	}
	return m.handshakeTimeout
}

// handleChannelDeath reacts to a channel dying outside a deliberate
// disconnect: the entry transitions to error so the failure is
// observable. Pending requests were already rejected by the channel.
func (m *Manager) handleChannelDeath(serverID string, cause error) {
	e := m.get(serverID)
	if e == nil {
		return
	}

	e.mu.Lock()
	if e.state.Status != StatusConnected {
		e.mu.Unlock()
		return
	}
	e.channel = nil
	e.corr = nil
	e.gen++
	e.state.Status = StatusError
	e.state.Tools = nil
	e.state.ErrorMessage = cause.Error()
	e.mu.Unlock()

	m.log.Warn().Str("server", serverID).Err(cause).Msg("channel died unexpectedly")
	m.bus.Publish(event.Event{Type: event.ServerError, Data: event.ServerErrorData{ServerID: serverID, Message: cause.Error()}})
}

// setErrorLocked records a failed transition. Caller holds e.mu.
func (m *Manager) setErrorLocked(e *serverEntry, cause error) {
	e.state.Status = StatusError
	e.state.ErrorMessage = cause.Error()
	e.state.Tools = nil
	e.channel = nil
	e.corr = nil

	m.log.Warn().Str("server", e.def.ID).Err(cause).Msg("connect failed")
	m.bus.Publish(event.Event{Type: event.ServerError, Data: event.ServerErrorData{ServerID: e.def.ID, Message: cause.Error()}})
}

func (m *Manager) get(serverID string) *serverEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[serverID]
}

// snapshotState copies a state so readers never share the live slice.
func snapshotState(s *ConnectionState) ConnectionState {
	out := *s
	if s.Tools != nil {
		out.Tools = make([]ToolDescriptor, len(s.Tools))
		copy(out.Tools, s.Tools)
	}
	return out
}
