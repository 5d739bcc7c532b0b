package advisory

import (
	"encoding/json"
	"strings"
)

const textFallbackReason = "AI decision (parsed from text)"

// Decision is the advisory verdict on one payment.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// ParseResult is either a decision parsed from JSON or the raw text that
// could not be parsed.
type ParseResult interface {
	isParseResult()
}

// Parsed holds a decision decoded from the reply's first JSON object.
type Parsed struct {
	Decision Decision
}

// Unparseable holds a reply with no decodable JSON object.
type Unparseable struct {
	Raw string
}

func (Parsed) isParseResult()      {}
func (Unparseable) isParseResult() {}

type rawDecision struct {
	Allowed interface{} `json:"allowed"`
	Reason  string      `json:"reason"`
}

// ParseDecision extracts the span from the first '{' to the last '}' of text
// and decodes it. Only a literal true allows; any other allowed value denies.
func ParseDecision(text string) ParseResult {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Unparseable{Raw: text}
	}

	var raw rawDecision
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return Unparseable{Raw: text}
	}

	allowed, _ := raw.Allowed.(bool)
	reason := raw.Reason
	if reason == "" {
		reason = "AI evaluation"
	}
	return Parsed{Decision: Decision{Allowed: allowed, Reason: reason}}
}

// KeywordDecision is the heuristic for replies without JSON: the text allows
// when it mentions "allowed" or "approve".
func KeywordDecision(raw string) Decision {
	lower := strings.ToLower(raw)
	return Decision{
		Allowed: strings.Contains(lower, "allowed") || strings.Contains(lower, "approve"),
		Reason:  textFallbackReason,
	}
}

// Resolve turns any ParseResult into a Decision.
func Resolve(result ParseResult) Decision {
	switch r := result.(type) {
	case Parsed:
		return r.Decision
	case Unparseable:
		return KeywordDecision(r.Raw)
	default:
		return Decision{Allowed: false, Reason: "unknown advisory result"}
	}
}
