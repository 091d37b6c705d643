// Package configstore persists MCP server definitions through the
// encrypted storage layer and watches the backing file for out-of-band
// edits.
package configstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/toolbridge-ai/toolbridge/internal/event"
	"github.com/toolbridge-ai/toolbridge/internal/logging"
	"github.com/toolbridge-ai/toolbridge/internal/mcp"
	"github.com/toolbridge-ai/toolbridge/internal/storage"
)

// serversKey is the storage key holding the full definition list. All
// definitions live in one sealed document so a single read yields a
// consistent snapshot.
var serversKey = []string{"servers"}

const watchDebounce = 100 * time.Millisecond

// Store is the durable source of truth for server definitions. Every
// mutation validates first and persists before the in-memory view
// changes; a definition that fails validation never reaches disk.
type Store struct {
	mu      sync.Mutex
	defs    []mcp.ServerDefinition
	storage *storage.Storage
	bus     *event.Bus
	log     zerolog.Logger

	watcher  *fsnotify.Watcher
	reloadAt *time.Timer
	done     chan struct{}
}

// New loads the persisted definitions, starting empty when nothing has
// been stored yet.
func New(st *storage.Storage, bus *event.Bus) (*Store, error) {
	if bus == nil {
		bus = event.NewBus()
	}

	s := &Store{
		storage: st,
		bus:     bus,
		log:     logging.Component("configstore"),
		done:    make(chan struct{}),
	}

	if err := st.Get(context.Background(), serversKey, &s.defs); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load server definitions: %w", err)
		}
	}

	return s, nil
}

// List returns a snapshot of every stored definition.
func (s *Store) List() []mcp.ServerDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]mcp.ServerDefinition, len(s.defs))
	copy(out, s.defs)
	return out
}

// Get returns one definition by id.
func (s *Store) Get(id string) (mcp.ServerDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, def := range s.defs {
		if def.ID == id {
			return def, nil
		}
	}
	return mcp.ServerDefinition{}, fmt.Errorf("%w: %s", mcp.ErrServerNotFound, id)
}

// Add validates and persists a new definition, minting a ULID when the
// caller left the id empty. The stored definition is returned.
func (s *Store) Add(ctx context.Context, def mcp.ServerDefinition) (mcp.ServerDefinition, error) {
	if err := def.Validate(); err != nil {
		return mcp.ServerDefinition{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if def.ID == "" {
		def.ID = ulid.Make().String()
	}
	for _, existing := range s.defs {
		if existing.ID == def.ID {
			return mcp.ServerDefinition{}, fmt.Errorf("%w: duplicate server id %q", mcp.ErrConfiguration, def.ID)
		}
	}

	next := append(append([]mcp.ServerDefinition{}, s.defs...), def)
	if err := s.persistLocked(ctx, next); err != nil {
		return mcp.ServerDefinition{}, err
	}

	s.defs = next
	s.log.Info().Str("server", def.ID).Str("name", def.Name).Msg("server definition added")
	return def, nil
}

// Update validates and persists a replacement for an existing
// definition.
func (s *Store) Update(ctx context.Context, def mcp.ServerDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, existing := range s.defs {
		if existing.ID == def.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", mcp.ErrServerNotFound, def.ID)
	}

	next := make([]mcp.ServerDefinition, len(s.defs))
	copy(next, s.defs)
	next[idx] = def

	if err := s.persistLocked(ctx, next); err != nil {
		return err
	}

	s.defs = next
	s.log.Info().Str("server", def.ID).Msg("server definition updated")
	return nil
}

// Remove deletes a definition and persists the shrunk list.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, existing := range s.defs {
		if existing.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", mcp.ErrServerNotFound, id)
	}

	next := append(append([]mcp.ServerDefinition{}, s.defs[:idx]...), s.defs[idx+1:]...)
	if err := s.persistLocked(ctx, next); err != nil {
		return err
	}

	s.defs = next
	s.log.Info().Str("server", id).Msg("server definition removed")
	return nil
}

// persistLocked writes the candidate list through the encrypted storage
// layer. Caller holds s.mu.
func (s *Store) persistLocked(ctx context.Context, defs []mcp.ServerDefinition) error {
	if err := s.storage.Put(ctx, serversKey, defs); err != nil {
		return fmt.Errorf("persist server definitions: %w", err)
	}
	return nil
}

// Watch observes the backing file and reloads when it changes on disk.
// The watch covers the parent directory because atomic writes replace
// the file by rename. Reloads that change nothing publish no event.
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	target := s.storage.FilePath(serversKey)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	go s.watchLoop(watcher, target)
	return nil
}

func (s *Store) watchLoop(watcher *fsnotify.Watcher, target string) {
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Name != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			s.scheduleReload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("config watcher error")
		case <-s.done:
			return
		}
	}
}

// scheduleReload debounces bursts of filesystem events into one reload.
func (s *Store) scheduleReload() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reloadAt != nil {
		s.reloadAt.Stop()
	}
	s.reloadAt = time.AfterFunc(watchDebounce, s.reload)
}

func (s *Store) reload() {
	var fresh []mcp.ServerDefinition
	err := s.storage.Get(context.Background(), serversKey, &fresh)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.Warn().Err(err).Msg("config reload failed")
		return
	}

	s.mu.Lock()
	changed := !reflect.DeepEqual(s.defs, fresh)
	if changed {
		s.defs = fresh
	}
	count := len(s.defs)
	s.mu.Unlock()

	if !changed {
		return
	}

	s.log.Info().Int("servers", count).Msg("server definitions reloaded from disk")
	s.bus.Publish(event.Event{Type: event.ConfigReloaded, Data: event.ConfigReloadedData{ServerCount: count}})
}

// Close stops the watcher.
func (s *Store) Close() error {
	s.mu.Lock()
	watcher := s.watcher
	s.watcher = nil
	if s.reloadAt != nil {
		s.reloadAt.Stop()
	}
	s.mu.Unlock()

	select {
	case <-s.done:
	default:
		close(s.done)
	}

	if watcher != nil {
		return watcher.Close()
	}
	return nil
}
