package event

// ServerConnectedData is the data for server.connected events.
type ServerConnectedData struct {
	ServerID  string `json:"serverId"`
	ToolCount int    `json:"toolCount"`
}

// ServerDisconnectedData is the data for server.disconnected events.
type ServerDisconnectedData struct {
	ServerID string `json:"serverId"`
}

// ServerErrorData is the data for server.error events.
type ServerErrorData struct {
	ServerID string `json:"serverId"`
	Message  string `json:"message"`
}

// ServerToolsUpdatedData is the data for server.tools.updated events.
type ServerToolsUpdatedData struct {
	ServerID  string `json:"serverId"`
	ToolCount int    `json:"toolCount"`
}

// ToolCalledData is the data for tool.called events.
type ToolCalledData struct {
	ServerID   string `json:"serverId"`
	ToolName   string `json:"toolName"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"durationMs"`
}

// ConfigReloadedData is the data for config.reloaded events.
type ConfigReloadedData struct {
	ServerCount int `json:"serverCount"`
}
