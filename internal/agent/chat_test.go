package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chatServer answers /chat/completions with the handlers in order; the
// last handler repeats once the script runs out.
type chatServer struct {
	*httptest.Server
	calls    atomic.Int32
	requests chan ChatRequest
}

func newChatServer(t *testing.T, script ...http.HandlerFunc) *chatServer {
	t.Helper()
	cs := &chatServer{requests: make(chan ChatRequest, 32)}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			select {
			case cs.requests <- req:
			default:
			}
		}
		n := int(cs.calls.Add(1)) - 1
		if n >= len(script) {
			n = len(script) - 1
		}
		script[n](w, r)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func replyWith(msg Message) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test server
			"choices": []map[string]any{{"message": msg, "finish_reason": "stop"}},
			"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 3},
		})
	}
}

func replyStatus(code int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, body, code)
	}
}

func testChatClient(url string) *ChatClient {
	return NewChatClient(ChatConfig{
		BaseURL:     url + "/",
		APIKey:      "sk-test",
		Model:       "test/model",
		Temperature: 0.2,
		MaxTokens:   256,
		RetryDelay:  time.Millisecond,
	}, nil, nil)
}

func TestChatClient_Complete(t *testing.T) {
	var gotAuth, gotTitle string
	srv := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTitle = r.Header.Get("X-Title")
		replyWith(Message{Role: "assistant", Content: "hello"})(w, r)
	})

	c := testChatClient(srv.URL)
	msg, err := c.Complete(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "triggerflow", gotTitle)

	req := <-srv.requests
	assert.Equal(t, "test/model", req.Model, "default model fills empty request model")
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.2, *req.Temperature, 1e-9)
	assert.Equal(t, 256, req.MaxTokens)
	assert.Equal(t, "test/model", c.Model())
}

func TestChatClient_CompleteKeepsExplicitFields(t *testing.T) {
	srv := newChatServer(t, replyWith(Message{Role: "assistant", Content: "ok"}))
	c := testChatClient(srv.URL)

	zero := 0.0
	_, err := c.Complete(context.Background(), ChatRequest{
		Model:       "other/model",
		Messages:    []Message{{Role: "user", Content: "hi"}},
		Temperature: &zero,
		MaxTokens:   12,
	})
	require.NoError(t, err)

	req := <-srv.requests
	assert.Equal(t, "other/model", req.Model)
	require.NotNil(t, req.Temperature)
	assert.Zero(t, *req.Temperature)
	assert.Equal(t, 12, req.MaxTokens)
}

func TestChatClient_RetriesServerErrors(t *testing.T) {
	srv := newChatServer(t,
		replyStatus(http.StatusServiceUnavailable, "busy"),
		replyStatus(http.StatusTooManyRequests, "slow down"),
		replyWith(Message{Role: "assistant", Content: "third time lucky"}),
	)

	msg, err := testChatClient(srv.URL).Complete(context.Background(), ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "third time lucky", msg.Content)
	assert.EqualValues(t, 3, srv.calls.Load())
}

func TestChatClient_GivesUpAfterMaxRetries(t *testing.T) {
	srv := newChatServer(t, replyStatus(http.StatusBadGateway, "down"))

	_, err := testChatClient(srv.URL).Complete(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.EqualValues(t, defaultMaxRetries+1, srv.calls.Load())

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Code)
}

func TestChatClient_DoesNotRetryClientErrors(t *testing.T) {
	srv := newChatServer(t, replyStatus(http.StatusBadRequest, "bad model"))

	_, err := testChatClient(srv.URL).Complete(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.EqualValues(t, 1, srv.calls.Load())

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.False(t, se.Retryable())
	assert.Contains(t, se.Body, "bad model")
}

func TestChatClient_NoChoices(t *testing.T) {
	srv := newChatServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"choices":[]}`)) //nolint:errcheck // test server
	})

	_, err := testChatClient(srv.URL).Complete(context.Background(), ChatRequest{})
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestChatClient_MissingAPIKey(t *testing.T) {
	c := NewChatClient(ChatConfig{BaseURL: "http://unused", Model: "m"}, nil, nil)

	_, err := c.Complete(context.Background(), ChatRequest{})
	assert.ErrorIs(t, err, ErrNoAPIKey)
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestChatClient_TransportErrorsAreRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := testChatClient(url).Complete(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errTransport))
}

func TestChatClient_ContextCancelledDuringBackoff(t *testing.T) {
	srv := newChatServer(t, replyStatus(http.StatusInternalServerError, "boom"))
	c := NewChatClient(ChatConfig{
		BaseURL:    srv.URL,
		APIKey:     "sk-test",
		MaxRetries: 5,
		RetryDelay: time.Hour,
	}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Complete(ctx, ChatRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, srv.calls.Load())
}

func TestChatClient_RateLimiterHonoursContext(t *testing.T) {
	srv := newChatServer(t, replyWith(Message{Role: "assistant", Content: "ok"}))
	c := NewChatClient(ChatConfig{
		BaseURL:           srv.URL,
		APIKey:            "sk-test",
		RequestsPerSecond: 0.001,
		Burst:             1,
	}, nil, nil)

	_, err := c.Complete(context.Background(), ChatRequest{})
	require.NoError(t, err, "first request uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, ChatRequest{})
	require.Error(t, err, "second request cannot get a token in time")
	assert.EqualValues(t, 1, srv.calls.Load())
}

func TestStatusError_Retryable(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		se := &StatusError{Code: tt.code}
		assert.Equal(t, tt.want, se.Retryable(), "code %d", tt.code)
		assert.Equal(t, tt.want, isRetryable(errors.Wrap(se, "wrapped")), "wrapped code %d", tt.code)
	}
}
