package kernel

import (
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/inquest-ai/inquest/internal/core/domain"
)

// ingestSpec is the schema contract for ingested events. Validation runs
// against this document so SDK authors and the kernel agree on one source of
// truth for the wire shape.
const ingestSpec = `
openapi: 3.0.3
info:
  title: Inquest Ingest API
  version: "1.0"
paths: {}
components:
  schemas:
    TraceContext:
      type: object
      required: [trace_id]
      properties:
        trace_id:
          type: string
          minLength: 1
        span_id:
          type: string
        parent_span_id:
          type: string
    TraceEvent:
      type: object
      required: [type, trace_context, timestamp, payload]
      properties:
        type:
          type: string
          enum: [user_input, tool_call, model_output, memory_op, system_state]
        trace_context:
          $ref: '#/components/schemas/TraceContext'
        timestamp:
          oneOf:
            - type: number
            - type: string
              format: date-time
        payload:
          type: object
`

// eventSchema is resolved once at startup; a broken embedded document is a
// programming error, not a runtime condition.
var eventSchema = mustLoadEventSchema()

func mustLoadEventSchema() *openapi3.Schema {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData([]byte(ingestSpec))
	if err != nil {
		panic(fmt.Sprintf("load ingest spec: %v", err))
	}
	if err := doc.Validate(loader.Context); err != nil {
		panic(fmt.Sprintf("validate ingest spec: %v", err))
	}
	return doc.Components.Schemas["TraceEvent"].Value
}

// validateEvent checks one raw event against the schema, then decodes it into
// the domain type. Schema violations come back as domain.ErrValidation so the
// boundary can answer 400 uniformly.
func validateEvent(raw json.RawMessage) (domain.TraceEvent, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return domain.TraceEvent{}, fmt.Errorf("%w: event is not valid JSON: %v", domain.ErrValidation, err)
	}
	if err := eventSchema.VisitJSON(value); err != nil {
		return domain.TraceEvent{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	var event domain.TraceEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return domain.TraceEvent{}, fmt.Errorf("%w: decode event: %v", domain.ErrValidation, err)
	}
	return event, nil
}
