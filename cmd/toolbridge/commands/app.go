package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/toolbridge-ai/toolbridge/internal/configstore"
	"github.com/toolbridge-ai/toolbridge/internal/event"
	"github.com/toolbridge-ai/toolbridge/internal/logging"
	"github.com/toolbridge-ai/toolbridge/internal/mcp"
	"github.com/toolbridge-ai/toolbridge/internal/service"
	"github.com/toolbridge-ai/toolbridge/internal/storage"
)

// buildService wires the full service stack from the effective
// configuration. The caller owns the returned service and must Close it.
func buildService() (*service.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	secret := cfg.StorageSecret
	if secret == "" {
		// Definitions still get sealed at rest, just not with a
		// user-chosen secret.
		logging.Warn().Msg("no storage secret configured, using built-in default")
		secret = "toolbridge-local"
	}

	st, err := storage.New(filepath.Join(cfg.DataDir, "storage"), secret)
	if err != nil {
		return nil, err
	}

	bus := event.NewBus()
	store, err := configstore.New(st, bus)
	if err != nil {
		return nil, err
	}

	svc := service.New(store, bus,
		mcp.WithClientInfo(mcp.ClientInfo{Name: "toolbridge", Version: Version}),
		mcp.WithHandshakeTimeout(time.Duration(cfg.HandshakeTimeoutMs)*time.Millisecond),
		mcp.WithCallTimeout(time.Duration(cfg.ToolCallTimeoutMs)*time.Millisecond),
	)

	if err := svc.Initialize(); err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

// resolveServer matches a command-line argument against stored server
// ids first, then names.
func resolveServer(svc *service.Service, arg string) (mcp.ServerDefinition, error) {
	if def, err := svc.GetServerDefinition(arg); err == nil {
		return def, nil
	}

	var matches []mcp.ServerDefinition
	for _, def := range svc.ListServerDefinitions() {
		if def.Name == arg {
			matches = append(matches, def)
		}
	}
	switch len(matches) {
	case 0:
		return mcp.ServerDefinition{}, fmt.Errorf("no server with id or name %q", arg)
	case 1:
		return matches[0], nil
	default:
		return mcp.ServerDefinition{}, fmt.Errorf("name %q is ambiguous, use the server id", arg)
	}
}
