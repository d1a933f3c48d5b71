// Package analyzer calls the external root-cause collaborator over an
// OpenAI-compatible chat-completion API and validates the shape of what
// comes back before anything downstream trusts it.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/inquest-ai/inquest/internal/core/domain"
	"github.com/inquest-ai/inquest/internal/core/ports"
)

// Long traces are truncated to a bounded window: the head and tail survive,
// plus every tool call that carried an error.
const (
	maxEventsForAnalysis = 80
	headEvents           = 40
	tailEvents           = 40
)

type Config struct {
	APIKey      string
	BaseURL     string // empty = api.openai.com; any OpenAI-compatible endpoint works
	Model       string
	Temperature float32
	MaxTokens   int
}

type Client struct {
	logger *slog.Logger
	client *openai.Client
	cfg    Config
}

var _ ports.Analyzer = (*Client)(nil)

func New(logger *slog.Logger, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("analyzer API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		logger: logger,
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}, nil
}

// Analyze sends the ordered timeline to the analyzer and returns the parsed,
// shape-validated verdict + causal graph. Transport failures, bad JSON, and
// missing required fields all surface as domain.ErrAnalyzer.
func (c *Client) Analyze(ctx context.Context, traceID domain.TraceID, events []domain.TraceEvent) (*domain.AnalysisResult, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: cannot analyze empty trace", domain.ErrAnalyzer)
	}

	prompt := buildPrompt(events)
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a root-cause analysis expert for AI agent systems. Respond only with JSON.",
			},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: chat completion: %v", domain.ErrAnalyzer, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", domain.ErrAnalyzer)
	}

	result, err := parseResult(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	c.logger.Info("analysis complete",
		"trace_id", traceID,
		"events", len(events),
		"graph_nodes", len(result.CausalGraph.Nodes))
	return result, nil
}

// parseResult decodes and shape-validates an analyzer response. A missing
// root_cause or malformed graph is a hard failure, never silently accepted.
func parseResult(raw string) (*domain.AnalysisResult, error) {
	var probe struct {
		Verdict     json.RawMessage `json:"verdict"`
		CausalGraph json.RawMessage `json:"causal_graph"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON in response: %v", domain.ErrAnalyzer, err)
	}
	if probe.Verdict == nil || probe.CausalGraph == nil {
		return nil, fmt.Errorf("%w: response missing verdict or causal_graph", domain.ErrAnalyzer)
	}

	var result domain.AnalysisResult
	if err := json.Unmarshal(probe.Verdict, &result.Verdict); err != nil {
		return nil, fmt.Errorf("%w: decode verdict: %v", domain.ErrAnalyzer, err)
	}
	if err := json.Unmarshal(probe.CausalGraph, &result.CausalGraph); err != nil {
		return nil, fmt.Errorf("%w: decode causal graph: %v", domain.ErrAnalyzer, err)
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return &result, nil
}

// sliceRelevantEvents keeps the analysis window bounded while preserving
// head, tail, and error-bearing tool calls.
func sliceRelevantEvents(events []domain.TraceEvent) []domain.TraceEvent {
	if len(events) <= maxEventsForAnalysis {
		return events
	}
	kept := make(map[int]bool, maxEventsForAnalysis)
	for i := 0; i < headEvents && i < len(events); i++ {
		kept[i] = true
	}
	for i := range events {
		if events[i].Type != domain.EventToolCall {
			continue
		}
		if errVal, ok := events[i].Payload["error"].(string); ok && errVal != "" {
			kept[i] = true
		}
	}
	for i := max(0, len(events)-tailEvents); i < len(events); i++ {
		kept[i] = true
	}

	sliced := make([]domain.TraceEvent, 0, len(kept))
	for i := range events {
		if kept[i] {
			sliced = append(sliced, events[i])
		}
	}
	return sliced
}

func formatEvents(events []domain.TraceEvent) string {
	var b strings.Builder
	for i := range events {
		payload, _ := json.MarshalIndent(events[i].Payload, "", "  ")
		fmt.Fprintf(&b, "Step %d [%s] (%s):\n%s\n\n",
			i+1, events[i].Type, events[i].Timestamp.String(), payload)
	}
	return strings.TrimRight(b.String(), "\n")
}

func buildPrompt(events []domain.TraceEvent) string {
	sliced := sliceRelevantEvents(events)
	truncatedNote := ""
	if len(sliced) < len(events) {
		truncatedNote = fmt.Sprintf(
			"\n[Note: Trace truncated from %d to %d events for analysis. Error events and head/tail preserved.]\n\n",
			len(events), len(sliced))
	}

	return fmt.Sprintf(`Analyze the following trace of events and produce a structured forensic report.
%s
Trace events:
%s

Analyze this trace and identify:
1. Root cause: What was the primary reason for failure or unexpected behavior? Be specific and reference step numbers.
2. Evidence links: Reference specific step IDs (use "Step 1", "Step 2", etc.) and include relevant snippets from those steps.
3. Contributing factors: Rank the top 3-5 factors (rank 1 = most important) that contributed to the issue. Each must have evidence links.
4. Counterfactual: What would have changed the outcome? Use "If X, then Y" format.
5. Fix suggestions: Provide 2-4 actionable fixes, categorized as: prompt, tooling, memory, orchestration, or safety. Each should reference evidence.

Build a causal graph showing:
- Nodes: Each significant step, assumption, tool output, or decision point
- Edges: Show dependencies (depends_on), contradictions (contradicts), or causal chains (leads_to)
- First divergence: Identify the node ID where failure first became inevitable

Provide confidence_root_cause and confidence_factors as numbers between 0 and 1.

Contradiction check: If the trace contains inconsistent claims, list them in the contradictions array with claim_a and claim_b. Use an empty array if none.

Return a JSON object with "verdict" and "causal_graph" keys. The verdict needs root_cause, evidence_links (each with step_id and optional artifact_key/snippet), contributing_factors (rank, description, evidence_links), counterfactual, contradictions, and fix_suggestions (category, description, evidence_links). The causal_graph needs nodes (id, label, optional type/step_id), edges (id, source, target, optional type), and optional first_divergence_node_id.`,
		truncatedNote, formatEvents(sliced))
}
