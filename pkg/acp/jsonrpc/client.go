package jsonrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kynetic-ai/kynetic-bot/internal/common/logger"
)

// Client handles JSON-RPC 2.0 communication over two independent byte
// streams: writes go to stdin, reads come from stdout. The two directions
// never share a buffer, so a slow reader never blocks an in-flight write.
type Client struct {
	stdin  io.Writer
	stdout io.Reader

	requestID atomic.Int64
	pending   map[int64]chan *Response
	mu        sync.Mutex

	onNotification func(method string, params json.RawMessage)
	onRequest      func(id interface{}, method string, params json.RawMessage)

	// silentNotFound lists methods that should not log a warning when no
	// request handler is registered for them; session/cancel is the
	// canonical example, since many agents never ask to be cancelled.
	silentNotFound map[string]bool

	logger *logger.Logger
	done   chan struct{}
	once   sync.Once
}

// NewClient creates a new JSON-RPC client over the given stdin/stdout pipes.
func NewClient(stdin io.Writer, stdout io.Reader, log *logger.Logger) *Client {
	return &Client{
		stdin:          stdin,
		stdout:         stdout,
		pending:        make(map[int64]chan *Response),
		silentNotFound: make(map[string]bool),
		logger:         log.WithFields(zap.String("component", "jsonrpc-client")),
		done:           make(chan struct{}),
	}
}

// SetNotificationHandler sets the handler for incoming notifications.
func (c *Client) SetNotificationHandler(handler func(method string, params json.RawMessage)) {
	c.onNotification = handler
}

// SetRequestHandler sets the handler for incoming requests from the agent
// (e.g. session/request_permission). The handler must call SendResponse.
func (c *Client) SetRequestHandler(handler func(id interface{}, method string, params json.RawMessage)) {
	c.onRequest = handler
}

// SetSilentMethodNotFound marks methods for which an unhandled inbound
// request should get a plain method-not-found response without a warning
// log line.
func (c *Client) SetSilentMethodNotFound(methods ...string) {
	for _, m := range methods {
		c.silentNotFound[m] = true
	}
}

// SendResponse sends a response to an agent-originated request.
func (c *Client) SendResponse(id interface{}, result interface{}, rpcErr *Error) error {
	var resultJSON json.RawMessage
	if result != nil && rpcErr == nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
	}

	return c.send(&Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  resultJSON,
		Error:   rpcErr,
	})
}

// Start begins reading from stdout in the background.
func (c *Client) Start(ctx context.Context) {
	go c.readLoop(ctx)
}

// Stop terminates the read loop and fails any calls still awaiting a response.
func (c *Client) Stop() {
	c.once.Do(func() { close(c.done) })
}

// Call sends a request and blocks until a matching response arrives, the
// context is cancelled, or the client is stopped.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	id := c.requestID.Add(1)

	var paramsJSON json.RawMessage
	if params != nil {
		var err error
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
	}

	req := &Request{JSONRPC: "2.0", ID: id, Method: method, Params: paramsJSON}

	respCh := make(chan *Response, 1)
	c.mu.Lock()
	c.pending[id] = respCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(req); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("jsonrpc client closed")
	}
}

// Notify sends a notification; no response is expected or awaited.
func (c *Client) Notify(method string, params interface{}) error {
	var paramsJSON json.RawMessage
	if params != nil {
		var err error
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
	}

	return c.send(&Notification{JSONRPC: "2.0", Method: method, Params: paramsJSON})
}

func (c *Client) send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	data = append(data, '\n')
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	c.logger.Debug("sent message", zap.ByteString("data", data))
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	// Once the scan loop ends for any reason (EOF, a read error, or the
	// subprocess's stdout pipe closing), treat the connection as closed:
	// Stop is idempotent via c.once, so this is a no-op if Stop already ran.
	defer c.Stop()

	scanner := bufio.NewScanner(c.stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		c.logger.Debug("received message", zap.ByteString("data", line))

		// Classify the line structurally: a response has an id and a
		// result/error but no method; a request from the agent has both
		// an id and a method; a notification has a method but no id.
		var msg struct {
			ID     interface{}     `json:"id"`
			Method string          `json:"method"`
			Result json.RawMessage `json:"result"`
			Error  *Error          `json:"error"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(line, &msg); err != nil {
			c.logger.Warn("failed to parse message", zap.Error(err), zap.ByteString("data", line))
			continue
		}

		hasID := msg.ID != nil
		hasMethod := msg.Method != ""
		hasResult := msg.Result != nil
		hasError := msg.Error != nil

		switch {
		case hasID && !hasMethod && (hasResult || hasError):
			c.handleResponse(&Response{JSONRPC: "2.0", ID: msg.ID, Result: msg.Result, Error: msg.Error})
		case hasID && hasMethod:
			c.handleRequest(msg.ID, msg.Method, msg.Params)
		case hasMethod && !hasID:
			c.handleNotification(&Notification{JSONRPC: "2.0", Method: msg.Method, Params: msg.Params})
		default:
			c.logger.Warn("received unrecognized message shape", zap.ByteString("data", line))
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Error("read loop error", zap.Error(err))
	}
}

func (c *Client) handleResponse(resp *Response) {
	id, ok := normalizeID(resp.ID)
	if !ok {
		c.logger.Warn("received response with non-numeric id", zap.Any("id", resp.ID))
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()

	if ok {
		ch <- resp
	} else {
		c.logger.Warn("received response for unknown request", zap.Any("id", resp.ID))
	}
}

// normalizeID converts a JSON-unmarshaled id (float64 for numbers) to the
// int64 keys the pending map uses.
func normalizeID(id interface{}) (int64, bool) {
	switch v := id.(type) {
	case float64:
		return int64(v), true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
	case int64:
		return v, true
	}
	return 0, false
}

func (c *Client) handleNotification(notif *Notification) {
	if c.onNotification != nil {
		c.onNotification(notif.Method, notif.Params)
	}
}

func (c *Client) handleRequest(id interface{}, method string, params json.RawMessage) {
	if c.onRequest != nil {
		c.onRequest(id, method, params)
		return
	}

	if !c.silentNotFound[method] {
		c.logger.Warn("received request but no handler registered", zap.Any("id", id), zap.String("method", method))
	}
	_ = c.SendResponse(id, nil, &Error{Code: MethodNotFound, Message: "method not found"})
}
