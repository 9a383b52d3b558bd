package mcp

import "encoding/json"

// Method is an MCP method identifier used in JSON-RPC messages.
type Method string

// MCP method names and notifications understood by this server.
const (
	InitializeMethod              Method = "initialize"
	InitializedNotificationMethod Method = "notifications/initialized"
	ToolsListMethod               Method = "tools/list"
	ToolsCallMethod               Method = "tools/call"
)

// Protocol revisions this server negotiates. Any other value on initialize
// is rejected rather than silently downgraded.
const (
	// ProtocolVersion20241105 is the older revision; it negotiates the
	// minimal capability set (tools only).
	ProtocolVersion20241105 = "2024-11-05"
	// ProtocolVersion20250618 is the latest revision; it negotiates the
	// extended capability set.
	ProtocolVersion20250618 = "2025-06-18"

	// LatestProtocolVersion is the newest revision the server speaks.
	LatestProtocolVersion = ProtocolVersion20250618
)

// SupportedProtocolVersions is the negotiation allow-list, newest first.
var SupportedProtocolVersions = []string{
	ProtocolVersion20250618,
	ProtocolVersion20241105,
}

// IsSupportedProtocolVersion reports whether v is a revision this server
// can negotiate.
func IsSupportedProtocolVersion(v string) bool {
	for _, s := range SupportedProtocolVersions {
		if s == v {
			return true
		}
	}
	return false
}

// InitializeRequest starts the MCP initialization handshake.
type InitializeRequest struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      ImplementationInfo `json:"clientInfo"`
}

// InitializeResult returns the negotiated revision, its capability set, and
// server identity.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ImplementationInfo `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitzero"`
}

// ListToolsResult returns the static tool catalog.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolRequest is the server-received representation of a tool call.
type CallToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the outcome of a tool invocation. IsError marks tool
// failures surfaced as results rather than protocol errors.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitzero"`
}
