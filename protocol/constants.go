package protocol

// MCPVersion is the protocol version advertised during initialization.
const MCPVersion = "2025-03-26"

// SupportedVersions lists the protocol versions the server accepts from clients.
var SupportedVersions = []string{"2025-03-26", "2024-11-05"}

// MCP method names.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
	MethodPing        = "ping"
)

// MCP notification methods.
const (
	MethodProgress  = "notifications/progress"
	MethodCancelled = "notifications/cancelled"
)

// HeaderSessionID carries the streaming-HTTP session identifier in both directions.
const HeaderSessionID = "Mcp-Session-Id"
