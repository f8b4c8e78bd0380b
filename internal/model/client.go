package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/paigeai/paige/internal/observability"
	"github.com/paigeai/paige/internal/store"
)

const (
	defaultMaxTokens   = 4096
	defaultCallTimeout = 60 * time.Second
)

// tierInfo resolves a tier to a model ID and its per-million-token rates.
type tierInfo struct {
	modelID string
	inRate  float64
	outRate float64
}

var tiers = map[Tier]tierInfo{
	TierHaiku:  {modelID: "claude-3-5-haiku-20241022", inRate: 0.8, outRate: 4.0},
	TierSonnet: {modelID: "claude-sonnet-4-20250514", inRate: 3.0, outRate: 15.0},
	TierOpus:   {modelID: "claude-opus-4-20250514", inRate: 15.0, outRate: 75.0},
}

// Recorder is the subset of the api-call store the client needs.
type Recorder interface {
	Record(ctx context.Context, row *store.APICallRow) error
}

// Client wraps a provider with cost accounting, deadlines, and structured
// response validation. A nil *Client is the degraded mode used when no API
// key is configured; every call then returns ErrDisabled.
type Client struct {
	provider Provider
	recorder Recorder
	logger   *observability.Logger
	metrics  *observability.Metrics
	timeout  time.Duration
	now      func() time.Time
}

// ErrDisabled is returned when the model client is not configured.
var ErrDisabled = fmt.Errorf("model client disabled: no API key configured")

// Options configures a Client.
type Options struct {
	Provider Provider
	Recorder Recorder
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Timeout  time.Duration
}

// NewClient creates a model client. Timeout defaults to 60s.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Client{
		provider: opts.Provider,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Enabled reports whether calls can be made.
func (c *Client) Enabled() bool { return c != nil && c.provider != nil }

// Request describes one structured model call.
type Request struct {
	SessionID   int64
	CallType    string
	Tier        Tier
	System      string
	UserMessage string
	MaxTokens   int64
}

// Call runs a structured request and decodes the response into T. The
// response's first text block must be JSON conforming to T's schema;
// Markdown code fences around it are tolerated and stripped.
func Call[T any](ctx context.Context, c *Client, req Request) (*T, error) {
	schema, err := SchemaFor[T]()
	if err != nil {
		return nil, err
	}
	validator, err := compileSchema(schema)
	if err != nil {
		return nil, err
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	system := req.System
	if system != "" {
		system += "\n\n"
	}
	system += "Respond with a single JSON object conforming to this schema, with no surrounding prose:\n" + string(schemaJSON)

	completion, err := c.Complete(ctx, CallSpec{
		SessionID: req.SessionID,
		CallType:  req.CallType,
		Tier:      req.Tier,
		System:    system,
		Messages:  []Message{UserText(req.UserMessage)},
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	raw := []byte(StripJSONFence(completion.Text()))
	if err := validateJSON(validator, raw); err != nil {
		return nil, &SchemaError{CallType: req.CallType, Cause: err}
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &SchemaError{CallType: req.CallType, Cause: err}
	}
	return &out, nil
}

// CallSpec is a lower-level request used by agents that run tool loops.
type CallSpec struct {
	SessionID int64
	CallType  string
	Tier      Tier
	System    string
	Messages  []Message
	MaxTokens int64
	Tools     []ToolDef
}

// Complete runs one provider turn, enforcing the call deadline and
// recording usage. Failed calls are recorded with latency -1 and zero
// usage so the cost log stays complete.
func (c *Client) Complete(ctx context.Context, spec CallSpec) (*Completion, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	info, ok := tiers[spec.Tier]
	if !ok {
		return nil, fmt.Errorf("unknown model tier %q", spec.Tier)
	}
	maxTokens := spec.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := c.now()
	completion, err := c.provider.Complete(ctx, CompletionRequest{
		Model:     info.modelID,
		System:    spec.System,
		Messages:  spec.Messages,
		MaxTokens: maxTokens,
		Tools:     spec.Tools,
	})
	latency := c.now().Sub(start)

	if c.metrics != nil {
		c.metrics.ModelCallDuration.WithLabelValues(spec.CallType, info.modelID).Observe(latency.Seconds())
	}

	if err != nil {
		c.recordFailure(ctx, spec, info)
		return nil, err
	}

	// Refusals and truncations count as failed calls: the row carries the
	// latency sentinel and no usage, same as a transport error.
	switch completion.StopReason {
	case "refusal":
		c.recordFailure(ctx, spec, info)
		return nil, &RefusalError{Model: info.modelID}
	case "max_tokens":
		c.recordFailure(ctx, spec, info)
		return nil, &MaxTokensError{Model: info.modelID, MaxTokens: maxTokens}
	}

	c.recordUsage(ctx, spec, info, completion, latency)
	return completion, nil
}

func (c *Client) recordUsage(ctx context.Context, spec CallSpec, info tierInfo, completion *Completion, latency time.Duration) {
	cost := float64(completion.InputTokens)/1e6*info.inRate +
		float64(completion.OutputTokens)/1e6*info.outRate

	if c.metrics != nil {
		c.metrics.ModelTokensUsed.WithLabelValues(info.modelID, "input").Add(float64(completion.InputTokens))
		c.metrics.ModelTokensUsed.WithLabelValues(info.modelID, "output").Add(float64(completion.OutputTokens))
		c.metrics.ModelCostEstimate.WithLabelValues(info.modelID).Add(cost)
	}

	c.record(ctx, &store.APICallRow{
		SessionID:    spec.SessionID,
		CallType:     spec.CallType,
		Model:        info.modelID,
		InputHash:    inputHash(spec.Messages),
		LatencyMS:    latency.Milliseconds(),
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
		CostEstimate: cost,
	})
}

func (c *Client) recordFailure(ctx context.Context, spec CallSpec, info tierInfo) {
	c.record(ctx, &store.APICallRow{
		SessionID: spec.SessionID,
		CallType:  spec.CallType,
		Model:     info.modelID,
		InputHash: inputHash(spec.Messages),
		LatencyMS: -1,
	})
}

func (c *Client) record(ctx context.Context, row *store.APICallRow) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(ctx, row); err != nil && c.logger != nil {
		c.logger.Warn(ctx, "api call log write failed", "call_type", row.CallType, "error", err)
	}
}

// inputHash returns the first 16 hex chars of the SHA-256 of the last user
// message's text. It identifies duplicate prompts without storing content.
func inputHash(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		var text string
		for _, b := range messages[i].Blocks {
			if b.Type == "text" {
				text += b.Text
			}
		}
		sum := sha256.Sum256([]byte(text))
		return hex.EncodeToString(sum[:])[:16]
	}
	return ""
}

// StripJSONFence removes a surrounding Markdown code fence, if present,
// from a model response expected to be bare JSON.
func StripJSONFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
