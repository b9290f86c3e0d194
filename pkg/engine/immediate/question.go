package immediate

import (
	"regexp"
	"strings"
)

// QuestionKind tags a detected question; it scopes how the grounding query is
// built.
type QuestionKind string

const (
	QuestionFactual QuestionKind = "factual"
	QuestionOpinion QuestionKind = "opinion"
	QuestionAction  QuestionKind = "action"
)

var (
	// A sentence that ends in a question mark, or an interrogative-led clause.
	questionRe = regexp.MustCompile(`(?i)(?:^|[.!?]\s+)([^.!?]*\?)`)

	interrogativeLeadRe = regexp.MustCompile(`(?i)^\s*(who|what|when|where|why|how|which|whose)\b`)

	opinionRe = regexp.MustCompile(`(?i)\b(think|feel|opinion|believe|prefer|better|worth)\b`)
	actionRe  = regexp.MustCompile(`(?i)^\s*(can|could|should|will|would|shall)\s+(we|you|i|someone|anyone)\b`)
)

// DetectQuestion scans the chunk text, with a short trailing window of prior
// context prepended, for the most recent question. Returns the question text
// and whether one was found.
//
// Known gap: a question split across two consecutive chunks (cut off
// mid-sentence by the chunk boundary) is only caught when the tail of the
// prior chunk sits inside the trailing window; there is no merge heuristic
// for the general case.
func DetectQuestion(chunkText, trailingContext string) (string, bool) {
	combined := strings.TrimSpace(trailingContext)
	if combined != "" && chunkText != "" {
		combined += " "
	}
	combined += strings.TrimSpace(chunkText)
	if combined == "" {
		return "", false
	}

	matches := questionRe.FindAllStringSubmatch(combined, -1)
	if len(matches) == 0 {
		return "", false
	}
	question := strings.TrimSpace(matches[len(matches)-1][1])
	if question == "" || question == "?" {
		return "", false
	}
	// Only react to questions the current chunk participates in; a question
	// answered chunks ago should not fire again.
	if !strings.Contains(strings.TrimSpace(chunkText), lastWords(question, 3)) {
		return "", false
	}
	return question, true
}

// ClassifyQuestion tags a question for query scoping.
func ClassifyQuestion(question string) QuestionKind {
	if actionRe.MatchString(question) {
		return QuestionAction
	}
	if opinionRe.MatchString(question) {
		return QuestionOpinion
	}
	if interrogativeLeadRe.MatchString(question) {
		return QuestionFactual
	}
	return QuestionFactual
}

// lastWords returns the final n whitespace-separated words of s.
func lastWords(s string, n int) string {
	fields := strings.Fields(strings.TrimSuffix(strings.TrimSpace(s), "?"))
	if len(fields) == 0 {
		return s
	}
	if len(fields) > n {
		fields = fields[len(fields)-n:]
	}
	return strings.Join(fields, " ")
}
