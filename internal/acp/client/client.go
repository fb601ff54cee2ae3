// Package client provides a typed Agent Client Protocol client over a
// single agent subprocess's stdio pipes.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kynetic-ai/kynetic-bot/internal/common/apperrors"
	"github.com/kynetic-ai/kynetic-bot/internal/common/logger"
	"github.com/kynetic-ai/kynetic-bot/internal/events/bus"
	"github.com/kynetic-ai/kynetic-bot/pkg/acp/jsonrpc"
	"github.com/kynetic-ai/kynetic-bot/pkg/acp/protocol"
)

const protocolVersion = 1
const clientName = "kynetic-bot"
const clientVersion = "0.1.0"

// UpdateHandler is invoked for every session/update notification the agent
// emits, keyed by instance so a caller can fan back out to the right
// orchestrator session.
type UpdateHandler func(instanceID string, update protocol.SessionUpdateEnvelope)

// RequestHandler answers one inbound agent->client method. It returns the
// result to marshal, or an error to translate into a JSON-RPC error.
type RequestHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Client is an ACP client bound to one agent subprocess instance.
type Client struct {
	instanceID string
	rpc        *jsonrpc.Client
	stdin      io.WriteCloser

	mu        sync.RWMutex
	status    string // initializing, ready, prompting, cancelled, error
	sessionID string

	handlers map[string]RequestHandler

	eventBus bus.EventBus
	logger   *logger.Logger

	onUpdate UpdateHandler
}

// New wraps stdin/stdout pipes to a freshly spawned agent process in an ACP client.
func New(instanceID string, stdin io.WriteCloser, stdout io.Reader, eb bus.EventBus, log *logger.Logger) *Client {
	l := log.WithFields(zap.String("component", "acp-client"), zap.String("instance_id", instanceID))
	c := &Client{
		instanceID: instanceID,
		rpc:        jsonrpc.NewClient(stdin, stdout, l),
		stdin:      stdin,
		status:     "initializing",
		handlers:   make(map[string]RequestHandler),
		eventBus:   eb,
		logger:     l,
	}

	c.rpc.SetNotificationHandler(c.handleNotification)
	c.rpc.SetRequestHandler(c.handleRequest)
	c.rpc.SetSilentMethodNotFound(protocol.MethodSessionCancel)

	return c
}

// SetUpdateHandler registers the callback invoked for session/update notifications.
func (c *Client) SetUpdateHandler(handler UpdateHandler) {
	c.onUpdate = handler
}

// RegisterHandler wires a handler for one inbound agent->client method, e.g.
// fs/read_text_file, session/request_permission, terminal/create.
func (c *Client) RegisterHandler(method string, handler RequestHandler) {
	c.handlers[method] = handler
}

// Start begins reading from the agent's stdout.
func (c *Client) Start(ctx context.Context) {
	c.rpc.Start(ctx)
}

// Stop tears down the read loop; the caller is responsible for killing the
// underlying subprocess.
func (c *Client) Stop() {
	c.rpc.Stop()
	_ = c.stdin.Close()
}

// Status returns the session's coarse lifecycle status.
func (c *Client) Status() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Client) setStatus(s string) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// SessionID returns the ACP session id assigned by the agent, if any.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Initialize performs the ACP initialize handshake.
func (c *Client) Initialize(ctx context.Context) error {
	params := protocol.InitializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      protocol.ClientInfo{Name: clientName, Version: clientVersion},
		Capabilities:    protocol.ClientCapabilities{Streaming: true, Terminal: true},
	}

	resp, err := c.rpc.Call(ctx, protocol.MethodInitialize, params)
	if err != nil {
		return apperrors.ConnectionClosed()
	}
	if resp.Error != nil {
		return apperrors.RemoteError(resp.Error.Code, resp.Error.Message)
	}

	c.setStatus("ready")
	return nil
}

// NewSession creates a fresh ACP session (session/new) rooted at cwd.
func (c *Client) NewSession(ctx context.Context, cwd string) (string, error) {
	resp, err := c.rpc.Call(ctx, protocol.MethodSessionNew, protocol.SessionNewParams{
		Cwd:        cwd,
		McpServers: []protocol.McpServer{},
	})
	if err != nil {
		return "", apperrors.ConnectionClosed()
	}
	if resp.Error != nil {
		return "", apperrors.RemoteError(resp.Error.Code, resp.Error.Message)
	}

	var result protocol.SessionNewResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", apperrors.ProtocolError(err)
	}

	c.mu.Lock()
	c.sessionID = result.SessionID
	c.mu.Unlock()

	return result.SessionID, nil
}

// LoadSession resumes a previously-created session (session/load).
func (c *Client) LoadSession(ctx context.Context, sessionID string) error {
	resp, err := c.rpc.Call(ctx, protocol.MethodSessionLoad, protocol.SessionLoadParams{SessionID: sessionID})
	if err != nil {
		return apperrors.ConnectionClosed()
	}
	if resp.Error != nil {
		return apperrors.RemoteError(resp.Error.Code, resp.Error.Message)
	}

	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()

	return nil
}

// Prompt sends a prompt (session/prompt) and blocks until the agent reports
// end of turn. Streaming content arrives separately via UpdateHandler. Only
// one prompt may be in flight on a client at a time: a second call while the
// first is still outstanding is rejected rather than racing it, since the
// caller's per-session-key lock is released before Prompt is invoked.
//
// promptSource distinguishes a live user message ("user") from a
// system-injected one (identity, wake context, rotation context-restoration
// preamble), and is only written to the debug log; it never reaches the wire, since
// protocol.SessionPromptParams carries no such field.
func (c *Client) Prompt(ctx context.Context, sessionID string, blocks []protocol.ContentBlock, promptSource string) (string, error) {
	c.mu.Lock()
	if c.status == "prompting" {
		c.mu.Unlock()
		return "", apperrors.New(apperrors.CodeUnavailable, "a prompt is already in flight for this session")
	}
	c.status = "prompting"
	c.mu.Unlock()

	c.logger.Debug("sending prompt", zap.String("session_id", sessionID), zap.String("prompt_source", promptSource))

	resp, err := c.rpc.Call(ctx, protocol.MethodSessionPrompt, protocol.SessionPromptParams{
		SessionID: sessionID,
		Prompt:    blocks,
	})
	if err != nil {
		c.setStatus("error")
		return "", apperrors.ConnectionClosed()
	}
	if resp.Error != nil {
		c.setStatus("error")
		return "", apperrors.RemoteError(resp.Error.Code, resp.Error.Message)
	}

	var result protocol.SessionPromptResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		c.setStatus("error")
		return "", apperrors.ProtocolError(err)
	}

	if result.StopReason == protocol.StopReasonCancelled {
		c.setStatus("cancelled")
	} else {
		c.setStatus("ready")
	}
	return result.StopReason, nil
}

// Cancel requests cancellation of the in-flight prompt. ACP defines
// session/cancel as a notification: the agent is not required to
// acknowledge it, so no response is awaited.
func (c *Client) Cancel(sessionID string) error {
	return c.rpc.Notify(protocol.MethodSessionCancel, protocol.SessionCancelParams{SessionID: sessionID})
}

func (c *Client) handleNotification(method string, params json.RawMessage) {
	if method != protocol.NotificationSessionUpdate {
		c.logger.Warn("unknown notification method", zap.String("method", method))
		return
	}

	var update protocol.SessionUpdateEnvelope
	if err := json.Unmarshal(params, &update); err != nil {
		c.logger.Error("failed to parse session update", zap.Error(err))
		return
	}

	if c.onUpdate != nil {
		c.onUpdate(c.instanceID, update)
	}
}

func (c *Client) handleRequest(id interface{}, method string, params json.RawMessage) {
	handler, ok := c.handlers[method]
	if !ok {
		_ = c.rpc.SendResponse(id, nil, &jsonrpc.Error{Code: jsonrpc.MethodNotFound, Message: "method not found"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := handler(ctx, params)
	if err != nil {
		_ = c.rpc.SendResponse(id, nil, &jsonrpc.Error{
			Code:    jsonrpc.InternalError,
			Message: fmt.Sprintf("handler for %s failed: %v", method, err),
		})
		return
	}

	_ = c.rpc.SendResponse(id, result, nil)
}
