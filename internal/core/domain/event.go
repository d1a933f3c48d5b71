package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ID types to prevent stringly-typed confusion
type TraceID string
type ProjectID string

// DefaultProject is assigned when an ingest batch carries no project id.
const DefaultProject ProjectID = "default"

// EventType classifies an observed occurrence within a trace.
type EventType string

const (
	EventUserInput   EventType = "user_input"
	EventToolCall    EventType = "tool_call"
	EventModelOutput EventType = "model_output"
	EventMemoryOp    EventType = "memory_op"
	EventSystemState EventType = "system_state"
)

// KnownEventType reports whether t is one of the five ingestable event types.
func KnownEventType(t EventType) bool {
	switch t {
	case EventUserInput, EventToolCall, EventModelOutput, EventMemoryOp, EventSystemState:
		return true
	}
	return false
}

// TraceContext carries correlation ids emitted by the instrumentation SDK.
type TraceContext struct {
	TraceID      string `json:"trace_id"`
	SpanID       string `json:"span_id,omitempty"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
}

// ArtifactRef points from an event payload at a stored binary artifact.
type ArtifactRef struct {
	Key       string `json:"key"`
	MimeType  string `json:"mime_type,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// EventTime accepts either an epoch-millisecond number or an ISO-8601 string
// on the wire and preserves the original form when re-marshalled. Ordering
// always goes through UnixMilli.
type EventTime struct {
	ms  int64
	iso string // original string form; empty when the input was numeric
}

func NewEventTime(ms int64) EventTime {
	return EventTime{ms: ms}
}

func (t EventTime) UnixMilli() int64 { return t.ms }

func (t EventTime) IsZero() bool { return t.ms == 0 && t.iso == "" }

func (t EventTime) Time() time.Time { return time.UnixMilli(t.ms).UTC() }

// String renders the ISO form regardless of input representation.
func (t EventTime) String() string {
	if t.iso != "" {
		return t.iso
	}
	return t.Time().Format(time.RFC3339Nano)
}

func (t *EventTime) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp %q is not RFC3339: %w", s, err)
		}
		t.ms = parsed.UnixMilli()
		t.iso = s
		return nil
	}
	ms, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("timestamp %s is not a number: %w", b, err)
	}
	t.ms = int64(ms)
	t.iso = ""
	return nil
}

func (t EventTime) MarshalJSON() ([]byte, error) {
	if t.iso != "" {
		return json.Marshal(t.iso)
	}
	return json.Marshal(t.ms)
}

// TraceEvent is one observed occurrence within a trace. Immutable once stored.
type TraceEvent struct {
	Type         EventType      `json:"type"`
	TraceContext TraceContext   `json:"trace_context"`
	Timestamp    EventTime      `json:"timestamp"`
	Payload      map[string]any `json:"payload"`
}

// Validate enforces the ingest schema invariants the store relies on.
func (e *TraceEvent) Validate() error {
	if !KnownEventType(e.Type) {
		return fmt.Errorf("%w: unknown event type %q", ErrValidation, e.Type)
	}
	if e.TraceContext.TraceID == "" {
		return fmt.Errorf("%w: trace_context.trace_id is required", ErrValidation)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrValidation)
	}
	if e.Payload == nil {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	return nil
}

// Identity is the deduplication key: timestamp + type + canonical payload.
// encoding/json emits map keys sorted, so the serialization is canonical.
func (e *TraceEvent) Identity() string {
	payload, _ := json.Marshal(e.Payload)
	sum := sha256.Sum256(fmt.Appendf(nil, "%d|%s|%s", e.Timestamp.UnixMilli(), e.Type, payload))
	return hex.EncodeToString(sum[:])
}

// ArtifactKeys collects every artifact key referenced from the payload
// (content_ref, output_ref, or any nested object shaped like an ArtifactRef).
func (e *TraceEvent) ArtifactKeys() []string {
	var keys []string
	collectArtifactKeys(e.Payload, &keys)
	return keys
}

func collectArtifactKeys(v any, keys *[]string) {
	switch val := v.(type) {
	case map[string]any:
		for name, child := range val {
			if name == "content_ref" || name == "output_ref" {
				if ref, ok := child.(map[string]any); ok {
					if key, ok := ref["key"].(string); ok && key != "" {
						*keys = append(*keys, key)
					}
					continue
				}
			}
			collectArtifactKeys(child, keys)
		}
	case []any:
		for _, child := range val {
			collectArtifactKeys(child, keys)
		}
	}
}

// EventsDigest fingerprints an ordered event log. Stored beside a report so a
// verdict can be traced back to the exact timeline it was computed from.
func EventsDigest(events []TraceEvent) string {
	h := sha256.New()
	for i := range events {
		fmt.Fprintf(h, "%s\n", events[i].Identity())
	}
	return hex.EncodeToString(h.Sum(nil))
}
