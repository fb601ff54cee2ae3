// Package protocol defines the Agent Client Protocol's JSON-RPC method
// names and payload shapes, as spoken by the agent subprocess over stdio.
package protocol

import "encoding/json"

// Client -> Agent methods.
const (
	MethodInitialize    = "initialize"
	MethodSessionNew    = "session/new"
	MethodSessionPrompt = "session/prompt"
	MethodSessionLoad   = "session/load"
	MethodSessionCancel = "session/cancel"
)

// Agent -> Client notification method.
const (
	NotificationSessionUpdate = "session/update"
)

// Agent -> Client requests that expect a response.
const (
	MethodFsReadTextFile    = "fs/read_text_file"
	MethodFsWriteTextFile   = "fs/write_text_file"
	MethodRequestPermission = "session/request_permission"
	MethodTerminalCreate    = "terminal/create"
	MethodTerminalOutput    = "terminal/output"
	MethodTerminalWait      = "terminal/wait_for_exit"
	MethodTerminalKill      = "terminal/kill"
	MethodTerminalRelease   = "terminal/release"
)

// sessionUpdate discriminator values carried on session/update notifications.
const (
	UpdateAgentMessageChunk = "agent_message_chunk"
	UpdateUserMessageChunk  = "user_message_chunk"
	UpdateToolCall          = "tool_call"
	UpdateToolCallUpdate    = "tool_call_update"
	UpdateToolResult        = "tool_result"
)

// Stop reasons returned from session/prompt.
const (
	StopReasonEndTurn     = "end_turn"
	StopReasonMaxTokens   = "max_tokens"
	StopReasonCancelled   = "cancelled"
	StopReasonRefusal     = "refusal"
)

// ClientInfo identifies the orchestrator to the agent during initialize.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities advertises what the orchestrator supports.
type ClientCapabilities struct {
	Streaming bool `json:"streaming,omitempty"`
	Terminal  bool `json:"terminal,omitempty"`
}

// InitializeParams is the payload for the initialize method.
type InitializeParams struct {
	ProtocolVersion int                `json:"protocolVersion"`
	ClientInfo      ClientInfo         `json:"clientInfo"`
	Capabilities    ClientCapabilities `json:"capabilities,omitempty"`
}

// ServerInfo identifies the agent in its initialize response.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities is what the agent advertises back.
type ServerCapabilities struct {
	ToolsProvider bool `json:"toolsProvider,omitempty"`
}

// InitializeResult is the response to initialize.
type InitializeResult struct {
	ProtocolVersion int                `json:"protocolVersion"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
	Capabilities    ServerCapabilities `json:"capabilities,omitempty"`
}

// McpServer describes an MCP server the agent may use; SessionNewParams
// requires the field even when empty.
type McpServer struct {
	Name    string   `json:"name"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	URL     string   `json:"url,omitempty"`
	Type    string   `json:"type,omitempty"`
}

// SessionNewParams is the payload for session/new.
type SessionNewParams struct {
	Cwd        string      `json:"cwd"`
	McpServers []McpServer `json:"mcpServers"`
}

// SessionNewResult is the response to session/new.
type SessionNewResult struct {
	SessionID string `json:"sessionId"`
}

// ContentBlock is one element of a session/prompt prompt array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextBlock builds a "text" content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// SessionPromptParams is the payload for session/prompt.
type SessionPromptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// SessionPromptResult is the terminal response to session/prompt.
type SessionPromptResult struct {
	StopReason string `json:"stopReason"`
}

// SessionLoadParams resumes a previously-created session.
type SessionLoadParams struct {
	SessionID string `json:"sessionId"`
}

// SessionLoadResult reports whether the resume succeeded.
type SessionLoadResult struct {
	SessionID string `json:"sessionId"`
}

// SessionCancelParams is sent as a notification, not a call; agents are
// not required to acknowledge it.
type SessionCancelParams struct {
	SessionID string `json:"sessionId"`
}

// SessionUpdateEnvelope is the params payload of a session/update
// notification. SessionUpdate names the kind of update; Content and
// ToolCall carry the payload for the kinds that use them.
type SessionUpdateEnvelope struct {
	SessionID     string          `json:"sessionId"`
	SessionUpdate string          `json:"sessionUpdate"`
	Content       *ContentBlock   `json:"content,omitempty"`
	ToolCall      *ToolCallUpdate `json:"toolCall,omitempty"`
}

// ToolCallUpdate carries tool invocation/result detail for tool_call,
// tool_call_update, and tool_result session updates.
type ToolCallUpdate struct {
	ToolCallID string          `json:"toolCallId"`
	Title      string          `json:"title,omitempty"`
	Status     string          `json:"status,omitempty"`
	RawInput   json.RawMessage `json:"rawInput,omitempty"`
	Content    string          `json:"content,omitempty"`
}

// RequestPermissionParams is the payload of an agent-originated
// session/request_permission request.
type RequestPermissionParams struct {
	SessionID string             `json:"sessionId"`
	ToolCall  ToolCallUpdate     `json:"toolCall"`
	Options   []PermissionOption `json:"options"`
}

// PermissionOption is one choice offered to the user.
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

// RequestPermissionResult answers a permission request.
type RequestPermissionResult struct {
	Outcome PermissionOutcome `json:"outcome"`
}

// PermissionOutcome is the user's decision.
type PermissionOutcome struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"`
}

// ReadTextFileParams is the payload of an agent-originated fs/read_text_file request.
type ReadTextFileParams struct {
	Path string `json:"path"`
}

// ReadTextFileResult answers fs/read_text_file.
type ReadTextFileResult struct {
	Content string `json:"content"`
}

// WriteTextFileParams is the payload of an agent-originated fs/write_text_file request.
type WriteTextFileParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// CreateTerminalParams requests a new pty-backed terminal session.
type CreateTerminalParams struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Cwd     string   `json:"cwd,omitempty"`
}

// CreateTerminalResult returns the new terminal's id.
type CreateTerminalResult struct {
	TerminalID string `json:"terminalId"`
}

// TerminalIDParams is the shared shape of terminal/output, terminal/wait_for_exit,
// terminal/kill, and terminal/release requests.
type TerminalIDParams struct {
	TerminalID string `json:"terminalId"`
}

// TerminalOutputResult is the response to terminal/output.
type TerminalOutputResult struct {
	Output   string `json:"output"`
	Truncated bool  `json:"truncated"`
}

// TerminalExitResult is the response to terminal/wait_for_exit.
type TerminalExitResult struct {
	ExitCode int `json:"exitCode"`
}
