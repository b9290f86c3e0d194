package batch

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/recallio/insight-engine/pkg/core/types"
)

// parseExtraction turns the provider's text into candidate insights. The
// happy path is a strict decode of the structured output; malformed output is
// recovered in stages rather than failing the segment: first a lenient gjson
// walk over whatever JSON-ish payload is present, then a last-resort scan for
// quoted substrings treated as key points.
func parseExtraction(text string) ([]extractedInsight, bool) {
	body := jsonBody(text)

	var payload extractionPayload
	if err := json.Unmarshal([]byte(body), &payload); err == nil && payload.Insights != nil {
		return payload.Insights, true
	}

	if gjson.Valid(body) {
		if arr := gjson.Get(body, "insights"); arr.IsArray() {
			var out []extractedInsight
			arr.ForEach(func(_, item gjson.Result) bool {
				ins := extractedInsight{
					Type:       item.Get("type").String(),
					Priority:   item.Get("priority").String(),
					Content:    item.Get("content").String(),
					Confidence: item.Get("confidence").Float(),
				}
				if ins.Content != "" {
					out = append(out, ins)
				}
				return true
			})
			if len(out) > 0 {
				return out, true
			}
		}
	}

	return scrapeQuoted(text), false
}

var quotedRe = regexp.MustCompile(`"((?:[^"\\]|\\.){20,})"`)

// scrapeQuoted pulls quoted substrings of meaningful length out of otherwise
// unusable output and downgrades them to low-confidence key points.
func scrapeQuoted(text string) []extractedInsight {
	var out []extractedInsight
	for _, m := range quotedRe.FindAllStringSubmatch(text, -1) {
		content := strings.TrimSpace(m[1])
		if looksLikeJSONKey(content) {
			continue
		}
		out = append(out, extractedInsight{
			Type:       string(types.InsightKeyPoint),
			Priority:   string(types.PriorityLow),
			Content:    content,
			Confidence: 0.3,
		})
	}
	return out
}

func looksLikeJSONKey(s string) bool {
	return !strings.ContainsAny(s, " \t")
}

// parseFollowUps decodes the follow-up phase's output, tolerating malformed
// JSON with a lenient walk.
func parseFollowUps(text string) []followUpSuggestion {
	body := jsonBody(text)

	var payload followUpPayload
	if err := json.Unmarshal([]byte(body), &payload); err == nil {
		return payload.Suggestions
	}
	if !gjson.Valid(body) {
		return nil
	}
	var out []followUpSuggestion
	gjson.Get(body, "suggestions").ForEach(func(_, item gjson.Result) bool {
		out = append(out, followUpSuggestion{
			Suggestion: item.Get("suggestion").String(),
			Confidence: item.Get("confidence").Float(),
		})
		return true
	})
	return out
}

// jsonBody trims markdown fences and surrounding prose down to the outermost
// JSON object.
func jsonBody(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

// toInsight validates and converts one extracted candidate. Unknown types and
// priorities are normalized rather than rejected.
func toInsight(raw extractedInsight, id, segmentRef string) (types.Insight, bool) {
	content := strings.TrimSpace(raw.Content)
	if content == "" {
		return types.Insight{}, false
	}
	insightType := types.InsightType(raw.Type)
	if !types.ValidInsightType(insightType) {
		insightType = types.InsightKeyPoint
	}
	priority := types.Priority(raw.Priority)
	if priority.Rank() == 0 {
		priority = types.PriorityMedium
	}
	confidence := raw.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return types.Insight{
		ID:               id,
		Type:             insightType,
		Priority:         priority,
		Content:          content,
		SourceSegmentRef: segmentRef,
		Confidence:       confidence,
	}, true
}
