package mcp

import "fmt"

// Registry exposes tool views over the manager's connection states:
// per-server, or the union across every connected server. Identical tool
// names on different servers stay distinct entries, disambiguated by
// ServerID; no deduplication happens here.
type Registry struct {
	manager *Manager
}

// NewRegistry creates a Registry reading from manager.
func NewRegistry(manager *Manager) *Registry {
	return &Registry{manager: manager}
}

// ServerTools returns the tools discovered on one server. Empty unless
// the server is connected.
func (r *Registry) ServerTools(serverID string) ([]ToolDescriptor, error) {
	state, err := r.manager.State(serverID)
	if err != nil {
		return nil, err
	}
	return state.Tools, nil
}

// AllTools returns the flattened union of tools across every connected
// server.
func (r *Registry) AllTools() []ToolDescriptor {
	var all []ToolDescriptor
	for _, state := range r.manager.States() {
		if state.Status != StatusConnected {
			continue
		}
		all = append(all, state.Tools...)
	}
	return all
}

// FindTool looks a tool up by owner server and name.
func (r *Registry) FindTool(serverID, name string) (ToolDescriptor, error) {
	tools, err := r.ServerTools(serverID)
	if err != nil {
		return ToolDescriptor{}, err
	}
	for _, t := range tools {
		if t.Name == name {
			return t, nil
		}
	}
	return ToolDescriptor{}, fmt.Errorf("tool not found on server %s: %s", serverID, name)
}
