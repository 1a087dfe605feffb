package automation

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *RuleExecutionResult {
	return &RuleExecutionResult{
		Success:     true,
		RuleID:      "r1",
		RuleName:    "Rule r1",
		TriggerSlug: "GMAIL_NEW_MESSAGE",
		StepResults: []StepResult{{StepIndex: 0, Type: StepInstruction, Success: true, Result: "Invoice summary"}},
		Output:      "Invoice summary",
		ExecutedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFormatOutput(t *testing.T) {
	res := sampleResult()
	rule := testRule("r1", "u1", 0)

	rule.OutputConfig = OutputConfig{Platform: PlatformSlack, Format: FormatRaw}
	assert.Equal(t, "Invoice summary", FormatOutput(rule, res))

	rule.OutputConfig.Format = FormatSummary
	summary := FormatOutput(rule, res)
	assert.Contains(t, summary, "Rule: Rule r1")
	assert.Contains(t, summary, "Status: success")
	assert.Contains(t, summary, "Invoice summary")

	rule.OutputConfig.Format = FormatDetailed
	var decoded RuleExecutionResult
	require.NoError(t, json.Unmarshal([]byte(FormatOutput(rule, res)), &decoded))
	assert.Equal(t, res.StepResults, decoded.StepResults)

	rule.OutputConfig.Template = "New mail: {{result}} ({{result}})"
	assert.Equal(t, "New mail: Invoice summary (Invoice summary)", FormatOutput(rule, res))
}

func TestDispatchSlackThroughAgent(t *testing.T) {
	p := &mockProvider{}
	d := NewDispatcher(NewSessionCache(p, time.Hour), nil, DispatcherConfig{}, nil)
	rule := testRule("r1", "u1", 0)
	rule.OutputConfig = OutputConfig{Platform: PlatformSlack, Destination: "#team", Format: FormatRaw}

	out := d.Dispatch(context.Background(), rule, sampleResult(), "u1")

	require.NoError(t, out.Err)
	assert.True(t, out.Delivered)
	tasks := p.recordedTasks()
	require.Len(t, tasks, 1)
	assert.Contains(t, tasks[0], `"#team"`)
	assert.Contains(t, tasks[0], "Slack")
	assert.Contains(t, tasks[0], "Invoice summary")
}

func TestDispatchGmailThroughAgent(t *testing.T) {
	p := &mockProvider{}
	d := NewDispatcher(NewSessionCache(p, time.Hour), nil, DispatcherConfig{}, nil)
	rule := testRule("r1", "u1", 0)
	rule.OutputConfig = OutputConfig{Platform: PlatformGmail, Destination: "ops@example.com"}

	out := d.Dispatch(context.Background(), rule, sampleResult(), "u1")

	require.NoError(t, out.Err)
	tasks := p.recordedTasks()
	require.Len(t, tasks, 1)
	assert.Contains(t, tasks[0], "ops@example.com")
	assert.Contains(t, tasks[0], "Automation result: Rule r1")
}

func TestDispatchWebhook(t *testing.T) {
	var (
		mu       sync.Mutex
		body     []byte
		sigHdr   string
		ctHeader string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ = io.ReadAll(r.Body)
		sigHdr = r.Header.Get("X-Triggerflow-Signature")
		ctHeader = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDispatcher(nil, srv.Client(), DispatcherConfig{WebhookSecret: "s3cret"}, nil)
	rule := testRule("r1", "u1", 0)
	rule.OutputConfig = OutputConfig{Platform: PlatformWebhook, Destination: srv.URL}

	out := d.Dispatch(context.Background(), rule, sampleResult(), "u1")
	require.NoError(t, out.Err)
	assert.True(t, out.Delivered)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "application/json", ctHeader)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "r1", doc["rule"].(map[string]any)["id"])
	assert.Equal(t, "Invoice summary", doc["result"].(map[string]any)["output"])
	assert.NotEmpty(t, doc["timestamp"])

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), sigHdr)
}

func TestDispatchFailuresAreSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := &mockProvider{handler: func(string) (string, error) { return "", errors.New("slack down") }}
	d := NewDispatcher(NewSessionCache(p, time.Hour), srv.Client(), DispatcherConfig{}, nil)
	rule := testRule("r1", "u1", 0)

	configs := []OutputConfig{
		{Platform: PlatformWebhook, Destination: srv.URL},
		{Platform: PlatformSlack, Destination: "#team"},
		{Platform: PlatformSlack},
		{Platform: "pager"},
	}
	for _, cfg := range configs {
		rule.OutputConfig = cfg
		out := d.Dispatch(context.Background(), rule, sampleResult(), "u1")
		assert.Error(t, out.Err, cfg.Platform)
		assert.False(t, out.Delivered)
	}

	rule.OutputConfig = OutputConfig{Platform: PlatformNone}
	out := d.Dispatch(context.Background(), rule, sampleResult(), "u1")
	assert.NoError(t, out.Err)
	assert.False(t, out.Delivered)
}
