package automation

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Webhook delivery defaults.
const (
	defaultWebhookTimeout = 10 * time.Second
	webhookSignatureHdr   = "X-Triggerflow-Signature"
	webhookUserAgent      = "triggerflow-dispatcher/1"
	templatePlaceholder   = "{{result}}"
)

// DispatchOutcome describes what happened to one delivery attempt.
// Dispatch never fails its caller; Err is for logging only.
type DispatchOutcome struct {
	Platform    Platform
	Destination string
	Delivered   bool
	Err         error
}

// HTTPDoer is the subset of *http.Client used for webhooks.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DispatcherConfig configures output delivery.
type DispatcherConfig struct {
	// WebhookSecret, when set, signs webhook bodies with HMAC-SHA256.
	WebhookSecret string

	// WebhookTimeout bounds each webhook request (default 10s).
	WebhookTimeout time.Duration
}

// Dispatcher renders a result per the rule's OutputConfig and delivers it.
type Dispatcher struct {
	sessions *SessionCache
	client   HTTPDoer
	secret   []byte
	logger   Logger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. sessions backs the slack and gmail
// routes; client may be nil to use a default http.Client.
func NewDispatcher(sessions *SessionCache, client HTTPDoer, cfg DispatcherConfig, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	if client == nil {
		timeout := cfg.WebhookTimeout
		if timeout <= 0 {
			timeout = defaultWebhookTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	var secret []byte
	if cfg.WebhookSecret != "" {
		secret = []byte(cfg.WebhookSecret)
	}
	return &Dispatcher{sessions: sessions, client: client, secret: secret, logger: logger, now: time.Now}
}

// Dispatch delivers result to the rule's configured output. Failures are
// logged and reported in the outcome, never returned as errors.
func (d *Dispatcher) Dispatch(ctx context.Context, rule *ExecutionRule, result *RuleExecutionResult, userID string) DispatchOutcome {
	cfg := rule.OutputConfig
	outcome := DispatchOutcome{Platform: cfg.Platform, Destination: cfg.Destination}
	if !cfg.delivers() {
		return outcome
	}

	var err error
	switch {
	case strings.TrimSpace(cfg.Destination) == "":
		err = ErrNoDestination
	case cfg.Platform == PlatformSlack:
		err = d.viaAgent(ctx, userID, slackTask(cfg.Destination, FormatOutput(rule, result)))
	case cfg.Platform == PlatformGmail:
		err = d.viaAgent(ctx, userID, gmailTask(cfg.Destination, rule, FormatOutput(rule, result)))
	case cfg.Platform == PlatformWebhook:
		err = d.postWebhook(ctx, cfg.Destination, rule, result)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedPlatform, cfg.Platform)
	}

	if err != nil {
		outcome.Err = err
		d.logger.Error("output dispatch failed",
			"rule_id", rule.ID,
			"platform", cfg.Platform,
			"destination", cfg.Destination,
			"error", err,
		)
		return outcome
	}
	outcome.Delivered = true
	d.logger.Info("output dispatched", "rule_id", rule.ID, "platform", cfg.Platform, "destination", cfg.Destination)
	return outcome
}

// FormatOutput renders result according to the rule's output format. A
// template, when set, takes precedence and has {{result}} replaced with the
// raw output.
func FormatOutput(rule *ExecutionRule, result *RuleExecutionResult) string {
	cfg := rule.OutputConfig
	if cfg.Template != "" {
		return strings.ReplaceAll(cfg.Template, templatePlaceholder, result.Output)
	}
	switch cfg.Format {
	case FormatRaw:
		return result.Output
	case FormatDetailed:
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return result.Output
		}
		return string(data)
	default:
		return formatSummary(rule, result)
	}
}

func formatSummary(rule *ExecutionRule, result *RuleExecutionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rule: %s\n", rule.Name)
	fmt.Fprintf(&b, "Status: %s\n", result.Status())
	fmt.Fprintf(&b, "Trigger: %s\n", result.TriggerSlug)
	fmt.Fprintf(&b, "Executed: %s\n\n", result.ExecutedAt.UTC().Format(time.RFC3339))
	if result.Output != "" {
		b.WriteString(result.Output)
	} else {
		b.WriteString("(no output)")
	}
	if result.Error != "" {
		fmt.Fprintf(&b, "\n\nError: %s", result.Error)
	}
	return b.String()
}

func slackTask(channel, message string) string {
	return fmt.Sprintf(
		"Send the message below to the Slack channel %q using the Slack messaging tool. "+
			"Send it exactly as written, without adding commentary.\n\nMessage:\n%s",
		channel, message)
}

func gmailTask(to string, rule *ExecutionRule, body string) string {
	return fmt.Sprintf(
		"Send an email to %q using the Gmail send tool with the subject %q. "+
			"Use the text below as the body exactly as written.\n\nBody:\n%s",
		to, "Automation result: "+rule.Name, body)
}

func (d *Dispatcher) viaAgent(ctx context.Context, userID, task string) error {
	if d.sessions == nil {
		return ErrNoSession
	}
	session, err := d.sessions.Acquire(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := d.sessions.Provider().RunAgent(ctx, session, task); err != nil {
		return fmt.Errorf("delivery task: %w", err)
	}
	return nil
}

// webhookBody is the JSON document POSTed to webhook destinations.
type webhookBody struct {
	Rule      webhookRule          `json:"rule"`
	Result    *RuleExecutionResult `json:"result"`
	Timestamp string               `json:"timestamp"`
}

type webhookRule struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (d *Dispatcher) postWebhook(ctx context.Context, url string, rule *ExecutionRule, result *RuleExecutionResult) error {
	body, err := json.Marshal(webhookBody{
		Rule:      webhookRule{ID: rule.ID, Name: rule.Name},
		Result:    result,
		Timestamp: d.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encoding webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)
	if len(d.secret) > 0 {
		req.Header.Set(webhookSignatureHdr, "sha256="+signBody(d.secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// signBody returns the hex HMAC-SHA256 of body under secret.
func signBody(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
