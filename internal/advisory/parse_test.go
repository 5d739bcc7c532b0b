package advisory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecisionJSON(t *testing.T) {
	result := ParseDecision(`{"allowed": true, "reason": "normal game fee"}`)
	parsed, ok := result.(Parsed)
	require.True(t, ok)
	assert.Equal(t, Decision{Allowed: true, Reason: "normal game fee"}, parsed.Decision)
}

func TestParseDecisionEmbeddedInProse(t *testing.T) {
	text := "Sure. Here is my answer:\n```json\n{\"allowed\": false, \"reason\": \"suspicious amount\"}\n```\nHope that helps."
	d := Resolve(ParseDecision(text))
	assert.False(t, d.Allowed)
	assert.Equal(t, "suspicious amount", d.Reason)
}

func TestParseDecisionMissingReason(t *testing.T) {
	d := Resolve(ParseDecision(`{"allowed": true}`))
	assert.True(t, d.Allowed)
	assert.Equal(t, "AI evaluation", d.Reason)
}

func TestParseDecisionNonBoolAllowedDenies(t *testing.T) {
	for _, text := range []string{
		`{"allowed": "true", "reason": "x"}`,
		`{"allowed": 1, "reason": "x"}`,
		`{"allowed": null, "reason": "x"}`,
	} {
		d := Resolve(ParseDecision(text))
		assert.False(t, d.Allowed, text)
	}
}

func TestParseDecisionUnparseableFallsBackToKeywords(t *testing.T) {
	tests := []struct {
		text    string
		allowed bool
	}{
		{"The payment is allowed.", true},
		{"I APPROVE this transaction", true},
		{"Reject: too large", false},
		{"{not json at all}", false},
		{"", false},
	}

	for _, tt := range tests {
		result := ParseDecision(tt.text)
		_, ok := result.(Unparseable)
		require.True(t, ok, tt.text)

		d := Resolve(result)
		assert.Equal(t, tt.allowed, d.Allowed, tt.text)
		assert.Equal(t, "AI decision (parsed from text)", d.Reason)
	}
}
