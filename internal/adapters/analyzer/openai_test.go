package analyzer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inquest-ai/inquest/internal/core/domain"
)

func makeEvents(n int) []domain.TraceEvent {
	events := make([]domain.TraceEvent, n)
	for i := range events {
		events[i] = domain.TraceEvent{
			Type:         domain.EventModelOutput,
			TraceContext: domain.TraceContext{TraceID: "trace_test"},
			Timestamp:    domain.NewEventTime(int64(1000 + i)),
			Payload:      map[string]any{"text": fmt.Sprintf("step %d", i)},
		}
	}
	return events
}

func TestSliceRelevantEventsShortTracePassesThrough(t *testing.T) {
	events := makeEvents(80)
	assert.Len(t, sliceRelevantEvents(events), 80)
}

func TestSliceRelevantEventsKeepsHeadTailAndErrors(t *testing.T) {
	events := makeEvents(200)
	// Bury an errored tool call in the middle, outside head and tail.
	events[100] = domain.TraceEvent{
		Type:         domain.EventToolCall,
		TraceContext: domain.TraceContext{TraceID: "trace_test"},
		Timestamp:    domain.NewEventTime(1100),
		Payload:      map[string]any{"tool": "search", "error": "timeout"},
	}

	sliced := sliceRelevantEvents(events)
	require.Len(t, sliced, 81)

	assert.Equal(t, events[0].Payload, sliced[0].Payload)
	assert.Equal(t, "timeout", sliced[40].Payload["error"])
	assert.Equal(t, events[199].Payload, sliced[80].Payload)
}

func TestSliceRelevantEventsIgnoresErrorFreeToolCalls(t *testing.T) {
	events := makeEvents(200)
	events[100].Type = domain.EventToolCall
	events[100].Payload = map[string]any{"tool": "search", "result": "ok"}

	assert.Len(t, sliceRelevantEvents(events), 80)
}

func TestBuildPromptMentionsTruncation(t *testing.T) {
	prompt := buildPrompt(makeEvents(200))
	assert.Contains(t, prompt, "truncated from 200 to 80 events")

	prompt = buildPrompt(makeEvents(10))
	assert.NotContains(t, prompt, "truncated")
	assert.Contains(t, prompt, "Step 1 [model_output]")
	assert.Contains(t, prompt, "Step 10 [model_output]")
}

func TestParseResultValid(t *testing.T) {
	raw := `{
		"verdict": {
			"root_cause": "The agent trusted a stale cache entry at Step 3.",
			"evidence_links": [{"step_id": "Step 3", "snippet": "cache hit"}],
			"contributing_factors": [],
			"counterfactual": "If the cache had been invalidated, then the lookup would have succeeded.",
			"contradictions": [],
			"fix_suggestions": [{"category": "memory", "description": "Expire cache entries."}]
		},
		"causal_graph": {
			"nodes": [{"id": "n1", "label": "stale cache"}],
			"edges": []
		}
	}`
	result, err := parseResult(raw)
	require.NoError(t, err)
	assert.Equal(t, "The agent trusted a stale cache entry at Step 3.", result.Verdict.RootCause)
	assert.Len(t, result.CausalGraph.Nodes, 1)
}

func TestParseResultRejectsBadShapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "I could not analyze this trace."},
		{"missing causal graph", `{"verdict": {"root_cause": "x", "evidence_links": [{"step_id": "Step 1"}]}}`},
		{"empty root cause", `{"verdict": {"root_cause": "", "evidence_links": [{"step_id": "Step 1"}]}, "causal_graph": {"nodes": [], "edges": []}}`},
		{"no evidence links", `{"verdict": {"root_cause": "x", "evidence_links": []}, "causal_graph": {"nodes": [], "edges": []}}`},
		{"unknown fix category", `{"verdict": {"root_cause": "x", "evidence_links": [{"step_id": "Step 1"}], "fix_suggestions": [{"category": "blockchain", "description": "y"}]}, "causal_graph": {"nodes": [], "edges": []}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseResult(tc.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrAnalyzer)
		})
	}
}

func TestFormatEventsRendersPayloadJSON(t *testing.T) {
	out := formatEvents(makeEvents(2))
	assert.True(t, strings.HasPrefix(out, "Step 1 [model_output]"))
	assert.Contains(t, out, `"text": "step 0"`)
}
