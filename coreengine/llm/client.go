// Package llm is the boundary to the model-inference service. The pipeline
// only consumes Classify and Generate; both honor the deadline of the
// caller's context.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/observability"
)

// ErrUnknownLabel is returned when the model answers with a label outside
// the offered set.
var ErrUnknownLabel = errors.New("model returned an unknown label")

// Classification is a model-produced intent label.
type Classification struct {
	Label      string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// GenerateOptions tunes one generation call.
type GenerateOptions struct {
	System      string
	Temperature float64
	MaxTokens   int
}

// ModelClient is the model-inference contract.
type ModelClient interface {
	Classify(ctx context.Context, text string, labels []string) (Classification, error)
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// OllamaClient talks to an Ollama-compatible /api/generate endpoint.
type OllamaClient struct {
	baseURL       string
	classifyModel string
	generateModel string
	client        *http.Client
}

// Option configures an OllamaClient.
type Option func(*OllamaClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *OllamaClient) { o.client = c }
}

// WithModels sets the classification and generation models.
func WithModels(classify, generate string) Option {
	return func(o *OllamaClient) {
		if classify != "" {
			o.classifyModel = classify
		}
		if generate != "" {
			o.generateModel = generate
		}
	}
}

// NewOllamaClient creates a client for baseURL (e.g. http://127.0.0.1:11434).
func NewOllamaClient(baseURL string, opts ...Option) *OllamaClient {
	c := &OllamaClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		classifyModel: "llama3.2:3b",
		generateModel: "llama3.2:3b",
		// No client-wide timeout: every call carries its own context deadline.
		client: &http.Client{Transport: &http.Transport{
			ResponseHeaderTimeout: 30 * time.Second,
			MaxIdleConnsPerHost:   4,
		}},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Format  string         `json:"format,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

const classifySystem = `You classify a smart-assistant request into exactly one intent label.
Answer with JSON only: {"intent": "<label>", "confidence": <0..1>}.`

// Classify asks the model to pick one of labels for text.
func (c *OllamaClient) Classify(ctx context.Context, text string, labels []string) (Classification, error) {
	start := time.Now()
	prompt := fmt.Sprintf("Labels: %s\nRequest: %s", strings.Join(labels, ", "), text)

	raw, err := c.generate(ctx, generateRequest{
		Model:   c.classifyModel,
		Prompt:  prompt,
		System:  classifySystem,
		Format:  "json",
		Options: map[string]any{"temperature": 0},
	})
	if err != nil {
		observability.RecordModelCall("classify", c.classifyModel, callStatus(ctx, err), ms(start))
		return Classification{}, err
	}

	var out Classification
	if err := json.Unmarshal([]byte(extractJSON(raw)), &out); err != nil {
		observability.RecordModelCall("classify", c.classifyModel, "error", ms(start))
		return Classification{}, fmt.Errorf("failed to parse classification: %w", err)
	}
	out.Label = strings.TrimSpace(strings.ToLower(out.Label))
	if !contains(labels, out.Label) {
		observability.RecordModelCall("classify", c.classifyModel, "error", ms(start))
		return Classification{}, fmt.Errorf("%w: %q", ErrUnknownLabel, out.Label)
	}
	if out.Confidence <= 0 || out.Confidence > 1 {
		out.Confidence = 0.75
	}

	observability.RecordModelCall("classify", c.classifyModel, "success", ms(start))
	return out, nil
}

// Generate produces free text for prompt.
func (c *OllamaClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	start := time.Now()
	options := map[string]any{"temperature": opts.Temperature}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}

	out, err := c.generate(ctx, generateRequest{
		Model:   c.generateModel,
		Prompt:  prompt,
		System:  opts.System,
		Options: options,
	})
	observability.RecordModelCall("generate", c.generateModel, callStatus(ctx, err), ms(start))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *OllamaClient) generate(ctx context.Context, body generateRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read model response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode model response: %w", err)
	}
	if out.Error != "" {
		return "", errors.New(out.Error)
	}
	return out.Response, nil
}

// extractJSON returns the first {...} block of s, or s unchanged.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return s
	}
	return s[start : end+1]
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func callStatus(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

func ms(start time.Time) int { return int(time.Since(start).Milliseconds()) }

var _ ModelClient = (*OllamaClient)(nil)
