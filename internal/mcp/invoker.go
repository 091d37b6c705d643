package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/toolbridge-ai/toolbridge/internal/event"
	"github.com/toolbridge-ai/toolbridge/internal/logging"
)

// Invoker routes tool calls through the manager and shapes outcomes into
// InvocationResults. Business-level tool failures (bad parameters, the
// tool itself erroring, transport drops mid-call) come back as
// unsuccessful results; only unknown or disconnected servers are errors.
type Invoker struct {
	manager *Manager
	bus     *event.Bus
	log     zerolog.Logger
}

// NewInvoker creates an Invoker over manager, publishing tool.called
// events on bus.
func NewInvoker(manager *Manager, bus *event.Bus) *Invoker {
	return &Invoker{
		manager: manager,
		bus:     bus,
		log:     logging.Component("mcp.invoker"),
	}
}

// CallTool invokes one tool with a structured parameter map and returns
// a uniform result-or-failure value. Duration covers submit through
// resolution; the call counter and activity timestamp are updated
// whether or not the call succeeded.
func (i *Invoker) CallTool(ctx context.Context, serverID, toolName string, params map[string]any) (InvocationResult, error) {
	// Argument validation failures surface as errors before anything is
	// sent or counted.
	state, err := i.manager.State(serverID)
	if err != nil {
		return InvocationResult{}, err
	}
	if state.Status != StatusConnected {
		return InvocationResult{}, fmt.Errorf("%w: %s", ErrServerNotConnected, serverID)
	}

	callCtx, cancel := context.WithTimeout(ctx, i.manager.callTimeoutFor(serverID))
	defer cancel()

	started := time.Now()
	raw, err := i.manager.send(callCtx, serverID, "tools/call", CallToolParams{
		Name:      toolName,
		Arguments: params,
	})
	duration := time.Since(started).Milliseconds()

	i.manager.recordActivity(serverID)

	result := InvocationResult{
		ToolName:   toolName,
		ExecutedAt: started,
		DurationMs: duration,
	}

	switch {
	case err != nil:
		result.Error = err.Error()
	default:
		var resp CallToolResponse
		if uerr := json.Unmarshal(raw, &resp); uerr != nil {
			result.Error = fmt.Sprintf("malformed tool response: %v", uerr)
			break
		}
		if resp.IsError {
			result.Error = contentText(resp.Content)
			if result.Error == "" {
				result.Error = "tool execution failed"
			}
			break
		}
		result.Success = true
		result.Content = raw
	}

	i.log.Debug().
		Str("server", serverID).
		Str("tool", toolName).
		Bool("success", result.Success).
		Int64("durationMs", duration).
		Msg("tool call finished")

	i.bus.Publish(event.Event{Type: event.ToolCalled, Data: event.ToolCalledData{
		ServerID:   serverID,
		ToolName:   toolName,
		Success:    result.Success,
		DurationMs: duration,
	}})

	return result, nil
}

// contentText flattens the text pieces of a tool response.
func contentText(content []Content) string {
	var sb strings.Builder
	for _, c := range content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	return sb.String()
}
