package batch

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// extractedInsight is the wire shape the extraction call asks the model for.
type extractedInsight struct {
	Type       string  `json:"type" jsonschema:"enum=action_item,enum=decision,enum=risk,enum=question,enum=key_point,enum=missing_info,enum=contradiction,enum=related_discussion"`
	Priority   string  `json:"priority" jsonschema:"enum=low,enum=medium,enum=high,enum=critical"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

// extractionPayload is the top-level structured output for insight extraction.
type extractionPayload struct {
	Insights []extractedInsight `json:"insights"`
}

// followUpPayload is the structured output for the follow-up phase.
type followUpPayload struct {
	Suggestions []followUpSuggestion `json:"suggestions"`
}

type followUpSuggestion struct {
	Suggestion string  `json:"suggestion"`
	Confidence float64 `json:"confidence"`
}

// generateSchema reflects T into a plain JSON-schema map suitable for the
// provider's structured-output request field.
func generateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)

	b, err := schema.MarshalJSON()
	if err != nil {
		panic(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		panic(err)
	}
	return m
}
