package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kynetic-ai/kynetic-bot/internal/common/logger"
	"github.com/kynetic-ai/kynetic-bot/internal/events/bus"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "debug", Format: "text", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

// fakeAgent stands in for the subprocess on the other end of the pipes: it
// reads JSON-RPC requests the client sends and lets the test script replies.
type fakeAgent struct {
	requests <-chan fakeRequest
	respond  chan<- string
}

type fakeRequest struct {
	ID     interface{}
	Method string
}

// newFakeAgent wires stdin/stdout pipes for a Client and starts reading
// requests off them in the background; the test drives replies explicitly.
func newFakeAgent(t *testing.T) (*Client, *fakeAgent) {
	t.Helper()

	agentReadsRequests, clientStdin := io.Pipe()
	clientStdout, agentWritesResponses := io.Pipe()

	requests := make(chan fakeRequest, 4)
	respond := make(chan string, 4)

	go func() {
		scanner := bufio.NewScanner(agentReadsRequests)
		for scanner.Scan() {
			var msg struct {
				ID     interface{} `json:"id"`
				Method string      `json:"method"`
			}
			if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
				continue
			}
			requests <- fakeRequest{ID: msg.ID, Method: msg.Method}
		}
	}()

	go func() {
		for line := range respond {
			_, _ = agentWritesResponses.Write([]byte(line + "\n"))
		}
	}()

	c := New("test-instance", clientStdin, clientStdout, bus.NewMemoryEventBus(testLogger(t)), testLogger(t))
	c.Start(context.Background())

	return c, &fakeAgent{requests: requests, respond: respond}
}

func TestPromptSingleFlightGuard(t *testing.T) {
	c, agent := newFakeAgent(t)

	type promptResult struct {
		stopReason string
		err        error
	}
	done := make(chan promptResult, 1)

	go func() {
		stopReason, err := c.Prompt(context.Background(), "session-1", nil, "user")
		done <- promptResult{stopReason, err}
	}()

	req := <-agent.requests
	require.Equal(t, "session/prompt", req.Method)

	_, err := c.Prompt(context.Background(), "session-1", nil, "user")
	require.Error(t, err)
	require.Contains(t, err.Error(), "already in flight")

	agent.respond <- mustMarshalResponse(req.ID, `{"stopReason":"end_turn"}`)

	select {
	case res := <-done:
		require.NoError(t, res.err)
		require.Equal(t, "end_turn", res.stopReason)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first prompt to complete")
	}

	require.Eventually(t, func() bool { return c.Status() == "ready" }, time.Second, 10*time.Millisecond)
}

func TestPromptCancelledSetsStatus(t *testing.T) {
	c, agent := newFakeAgent(t)

	done := make(chan string, 1)
	go func() {
		stopReason, err := c.Prompt(context.Background(), "session-1", nil, "user")
		require.NoError(t, err)
		done <- stopReason
	}()

	req := <-agent.requests
	agent.respond <- mustMarshalResponse(req.ID, `{"stopReason":"cancelled"}`)

	select {
	case stopReason := <-done:
		require.Equal(t, "cancelled", stopReason)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for prompt to complete")
	}

	require.Equal(t, "cancelled", c.Status())
}

func mustMarshalResponse(id interface{}, resultJSON string) string {
	data, err := json.Marshal(struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id"`
		Result  json.RawMessage `json:"result"`
	}{JSONRPC: "2.0", ID: id, Result: json.RawMessage(resultJSON)})
	if err != nil {
		panic(err)
	}
	return string(data)
}
