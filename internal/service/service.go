// Package service is the application facade over MCP server
// configuration, connections, and tool invocation. Callers talk to the
// Service; the underlying store, manager, registry, and invoker are
// wiring detail.
package service

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/toolbridge-ai/toolbridge/internal/configstore"
	"github.com/toolbridge-ai/toolbridge/internal/event"
	"github.com/toolbridge-ai/toolbridge/internal/logging"
	"github.com/toolbridge-ai/toolbridge/internal/mcp"
)

// autoConnectRetries caps automatic connect attempts: one initial
// attempt plus this many retries.
const autoConnectRetries = 2

// Service exposes the full server lifecycle: definition CRUD through the
// encrypted store, connection control through the manager, and tool
// invocation through the invoker.
type Service struct {
	store    *configstore.Store
	manager  *mcp.Manager
	registry *mcp.Registry
	invoker  *mcp.Invoker
	bus      *event.Bus
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New wires a Service over the given store and bus.
func New(store *configstore.Store, bus *event.Bus, opts ...mcp.Option) *Service {
	if bus == nil {
		bus = event.NewBus()
	}

	manager := mcp.NewManager(bus, opts...)
	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		store:    store,
		manager:  manager,
		registry: mcp.NewRegistry(manager),
		invoker:  mcp.NewInvoker(manager, bus),
		bus:      bus,
		log:      logging.Component("service"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Initialize registers every stored definition and kicks off automatic
// connects in the background. It returns as soon as registration is
// done; connection progress is observable through states and events.
func (s *Service) Initialize() error {
	defs := s.store.List()
	for _, def := range defs {
		if err := s.manager.Register(def); err != nil {
			return err
		}
	}

	s.log.Info().Int("servers", len(defs)).Msg("service initialized")

	for _, def := range defs {
		if def.AutoConnect && def.Enabled {
			go s.connectWithRetry(def.ID)
		}
	}

	// Out-of-band edits to the persisted definitions flow back into the
	// manager.
	s.bus.Subscribe(event.ConfigReloaded, func(event.Event) { s.syncFromStore() })
	if err := s.store.Watch(); err != nil {
		return err
	}
	return nil
}

// ListServerDefinitions returns every stored definition.
func (s *Service) ListServerDefinitions() []mcp.ServerDefinition {
	return s.store.List()
}

// GetServerDefinition returns one stored definition by id.
func (s *Service) GetServerDefinition(id string) (mcp.ServerDefinition, error) {
	return s.store.Get(id)
}

// ListConnectionStates returns the connection state of every registered
// server.
func (s *Service) ListConnectionStates() []mcp.ConnectionState {
	return s.manager.States()
}

// GetConnectionState returns one server's connection state.
func (s *Service) GetConnectionState(id string) (mcp.ConnectionState, error) {
	return s.manager.State(id)
}

// AddServer validates, persists, and registers a new definition. When
// the definition asks for automatic connection the connect runs in the
// background.
func (s *Service) AddServer(ctx context.Context, def mcp.ServerDefinition) (mcp.ServerDefinition, error) {
	stored, err := s.store.Add(ctx, def)
	if err != nil {
		return mcp.ServerDefinition{}, err
	}

	if err := s.manager.Register(stored); err != nil {
		return mcp.ServerDefinition{}, err
	}

	if stored.AutoConnect && stored.Enabled {
		go s.connectWithRetry(stored.ID)
	}
	return stored, nil
}

// UpdateServer persists a replacement definition. The server is
// disconnected so stale transport settings cannot linger; it reconnects
// in the background when the definition asks for it.
func (s *Service) UpdateServer(ctx context.Context, def mcp.ServerDefinition) error {
	if err := s.store.Update(ctx, def); err != nil {
		return err
	}

	if err := s.manager.UpdateDefinition(def); err != nil {
		return err
	}

	if def.AutoConnect && def.Enabled {
		go s.connectWithRetry(def.ID)
	}
	return nil
}

// RemoveServer disconnects, unregisters, and deletes a definition.
func (s *Service) RemoveServer(ctx context.Context, id string) error {
	if err := s.manager.Unregister(id); err != nil {
		return err
	}
	return s.store.Remove(ctx, id)
}

// Connect establishes one server's connection.
func (s *Service) Connect(ctx context.Context, id string) error {
	return s.manager.Connect(ctx, id)
}

// Disconnect tears one server's connection down.
func (s *Service) Disconnect(id string) error {
	return s.manager.Disconnect(id)
}

// TestConnection probes a definition with a throwaway connection and
// reports whether the full handshake succeeded. The probe never touches
// registered server state.
func (s *Service) TestConnection(ctx context.Context, def mcp.ServerDefinition) bool {
	if err := s.manager.TestConnection(ctx, def); err != nil {
		s.log.Debug().Str("name", def.Name).Err(err).Msg("connection test failed")
		return false
	}
	return true
}

// Ping probes an established connection.
func (s *Service) Ping(ctx context.Context, id string) error {
	return s.manager.Ping(ctx, id)
}

// ListAvailableTools returns the discovered tools: one server's when an
// id is given, the union across connected servers otherwise.
func (s *Service) ListAvailableTools(serverID string) ([]mcp.ToolDescriptor, error) {
	if serverID == "" {
		return s.registry.AllTools(), nil
	}
	return s.registry.ServerTools(serverID)
}

// CallTool invokes one tool on one server.
func (s *Service) CallTool(ctx context.Context, serverID, toolName string, params map[string]any) (mcp.InvocationResult, error) {
	return s.invoker.CallTool(ctx, serverID, toolName, params)
}

// Bus exposes the event bus for subscribers.
func (s *Service) Bus() *event.Bus {
	return s.bus
}

// Close disconnects every server and stops the store watcher.
func (s *Service) Close() error {
	s.cancel()
	s.manager.CloseAll()
	return s.store.Close()
}

// connectWithRetry drives one automatic connect with exponential
// backoff. Failures that cannot heal on their own are not retried.
func (s *Service) connectWithRetry(serverID string) {
	op := func() error {
		err := s.manager.Connect(s.ctx, serverID)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, mcp.ErrConfiguration),
			errors.Is(err, mcp.ErrPlatformUnsupported),
			errors.Is(err, mcp.ErrServerNotFound):
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, autoConnectRetries), s.ctx))
	if err != nil {
		s.log.Warn().Str("server", serverID).Err(err).Msg("automatic connect gave up")
	}
}

// syncFromStore reconciles the manager's registrations with the store
// after an out-of-band reload: new definitions are registered, removed
// ones unregistered, changed ones swapped in (and disconnected).
func (s *Service) syncFromStore() {
	stored := s.store.List()
	byID := make(map[string]mcp.ServerDefinition, len(stored))
	for _, def := range stored {
		byID[def.ID] = def
	}

	for _, state := range s.manager.States() {
		def, ok := byID[state.ServerID]
		if !ok {
			s.manager.Unregister(state.ServerID)
			continue
		}
		delete(byID, state.ServerID)

		current, err := s.manager.Definition(state.ServerID)
		if err != nil || reflect.DeepEqual(current, def) {
			continue
		}
		s.manager.UpdateDefinition(def)
		if def.AutoConnect && def.Enabled {
			go s.connectWithRetry(def.ID)
		}
	}

	for _, def := range byID {
		if err := s.manager.Register(def); err != nil {
			s.log.Warn().Str("server", def.ID).Err(err).Msg("register after reload failed")
			continue
		}
		if def.AutoConnect && def.Enabled {
			go s.connectWithRetry(def.ID)
		}
	}
}
