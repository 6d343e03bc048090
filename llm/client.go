// Package llm talks to a locally hosted generation endpoint (Ollama's
// native wire protocol) and turns a natural-language query plus an
// agent's capability set into a structured Interpretation.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/localforge/fabric/core"
)

// Client is the interpreter's HTTP transport. It is reused across
// queries and shares one http.Client.
type Client struct {
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	logger     core.Logger

	maxRetries int
	retryDelay time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the generation endpoint's base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithModel overrides the default model id.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithTimeout overrides the request deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
		c.httpClient.Timeout = d
	}
}

// WithLogger supplies a logger for retry/debug events.
func WithLogger(logger core.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient builds a Client, defaulting to the local Ollama endpoint on
// 11434 with a 5s deadline, matching the framework's generation protocol.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    "http://localhost:11434",
		model:      "llama3.2:1b",
		timeout:    5 * time.Second,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     &core.NoOpLogger{},
		maxRetries: 2,
		retryDelay: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// generateOptions mirrors Ollama's /api/generate options object.
type generateOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options,omitempty"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Interpret sends (query, agentContext, capabilities) to the model and
// returns a structured Interpretation. It never returns an error for a
// malformed or unreachable model response — those are folded into the
// Interpretation's Confidence/Reasoning fields so callers always get a
// verdict to act on.
func (c *Client) Interpret(ctx context.Context, query, agentContext string, capabilities []core.CapabilityDescriptor) core.Interpretation {
	prompt := buildPrompt(agentContext, capabilities, query)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.generate(ctx, prompt, false)
	if err != nil {
		return core.Interpretation{
			Capability: core.UnparseableCapability,
			Parameters: map[string]interface{}{},
			Confidence: 0,
			Reasoning:  fmt.Sprintf("interpreter error: %v", err),
		}
	}

	stripped := stripThink(raw)
	interp, parseErr := parseInterpretation(stripped)
	if parseErr != nil {
		return core.Interpretation{
			Capability: core.UnparseableCapability,
			Parameters: map[string]interface{}{},
			Confidence: 0,
			Reasoning:  "model output was not valid JSON",
		}
	}

	if !capabilityAdvertised(interp.Capability, capabilities) {
		if interp.Confidence > 0.3 {
			interp.Confidence = 0.3
		}
		interp.Reasoning = strings.TrimSpace(interp.Reasoning + " (capability not in agent manifest; confidence clamped)")
	}

	return interp
}

// generate performs the HTTP round-trip against /api/generate, retrying
// transient failures with exponential backoff.
func (c *Client) generate(ctx context.Context, prompt string, stream bool) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: stream,
		Options: generateOptions{
			Temperature: 0.2,
			TopP:        0.9,
			MaxTokens:   512,
		},
	})
	if err != nil {
		return "", core.NewError("llm.generate", core.KindBadRequest, err)
	}

	var lastErr error
	delay := c.retryDelay
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", core.NewError("llm.generate", core.KindUpstreamTimeout, ctx.Err())
			}
			delay *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
		if err != nil {
			return "", core.NewError("llm.generate", core.KindInternal, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", core.NewError("llm.generate", core.KindUpstreamTimeout, ctx.Err())
			}
			lastErr = err
			c.logger.Debug("llm request failed, retrying", map[string]interface{}{"attempt": attempt, "error": err.Error()})
			continue
		}

		text, err := readGenerateResponse(resp)
		resp.Body.Close()
		if err != nil {
			if core.KindOf(err) == core.KindBadRequest {
				return "", err
			}
			lastErr = err
			continue
		}
		return text, nil
	}

	return "", core.NewError("llm.generate", core.KindUpstreamUnavailable, fmt.Errorf("exhausted retries: %w", lastErr))
}

func readGenerateResponse(resp *http.Response) (string, error) {
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("generation endpoint returned status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return "", core.NewError("llm.generate", core.KindBadRequest, fmt.Errorf("generation endpoint returned status %d", resp.StatusCode))
	}

	var out strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		out.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	return out.String(), nil
}

// ListModels queries /api/tags for installed models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, core.NewError("llm.ListModels", core.KindInternal, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.NewError("llm.ListModels", core.KindUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, core.NewError("llm.ListModels", core.KindInternal, err)
	}

	names := make([]string, 0, len(payload.Models))
	for _, m := range payload.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func capabilityAdvertised(verb string, capabilities []core.CapabilityDescriptor) bool {
	for _, c := range capabilities {
		if c.Verb == verb {
			return true
		}
	}
	return false
}

func buildPrompt(agentContext string, capabilities []core.CapabilityDescriptor, query string) string {
	var b strings.Builder
	b.WriteString("You are a dispatch assistant. Given a user query, choose exactly one capability verb ")
	b.WriteString("from the list below and the parameters it needs. Respond with a single JSON object ")
	b.WriteString(`of the form {"capability":"...","parameters":{...},"confidence":0.0,"reasoning":"..."}.` + "\n\n")
	b.WriteString("Agent context: " + agentContext + "\n\n")
	b.WriteString("Available capabilities:\n")
	for _, cap := range capabilities {
		b.WriteString(fmt.Sprintf("- %s: %s\n", cap.Verb, cap.Description))
	}
	b.WriteString("\nUser query: " + query + "\n")
	return b.String()
}
