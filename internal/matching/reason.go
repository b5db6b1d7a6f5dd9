package matching

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxReasonBytes is the storage cap on a serialized Reason.
	MaxReasonBytes  = 1024
	maxFactors      = 12
	maxFactorLength = 80
	redacted        = "[REDACTED]"
)

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)api[_-]?key`),
	regexp.MustCompile(`(?i)password`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.]+`),
}

// Reason is the justification stored next to a tier selection.
type Reason struct {
	MatchingLogic   string   `json:"matching_logic"`
	DecisionFactors []string `json:"decision_factors"`
	ConfidenceScore float64  `json:"confidence_score"`
}

// Redact replaces credential-shaped substrings.
func Redact(text string) string {
	for _, p := range sensitivePatterns {
		text = p.ReplaceAllString(text, redacted)
	}
	return text
}

// shrinkStep rewrites r in place to make it smaller.
type shrinkStep func(r *Reason)

// shrinkSteps are applied in order, each only while the encoded reason is
// still over MaxReasonBytes. The last step always fits.
var shrinkSteps = []shrinkStep{
	func(r *Reason) { r.MatchingLogic = ellipsize(r.MatchingLogic, 300) },
	func(r *Reason) {
		if len(r.DecisionFactors) > 6 {
			r.DecisionFactors = r.DecisionFactors[:6]
		}
	},
	func(r *Reason) {
		for i, f := range r.DecisionFactors {
			r.DecisionFactors[i] = truncateRunes(f, 24)
		}
	},
	func(r *Reason) {
		r.MatchingLogic = ellipsize(r.MatchingLogic, 64)
		r.DecisionFactors = []string{}
	},
}

// NormalizeReason clamps, redacts and bounds r, returning its JSON encoding,
// which is never longer than MaxReasonBytes.
func NormalizeReason(r Reason) string {
	out := Reason{ConfidenceScore: r.ConfidenceScore}
	if out.ConfidenceScore < 0 {
		out.ConfidenceScore = 0
	}
	if out.ConfidenceScore > 1 {
		out.ConfidenceScore = 1
	}

	out.MatchingLogic = strings.TrimSpace(Redact(r.MatchingLogic))
	if out.MatchingLogic == "" {
		out.MatchingLogic = "n/a"
	}

	out.DecisionFactors = make([]string, 0, len(r.DecisionFactors))
	for _, f := range r.DecisionFactors {
		if strings.TrimSpace(f) == "" {
			continue
		}
		out.DecisionFactors = append(out.DecisionFactors, truncateRunes(Redact(f), maxFactorLength))
		if len(out.DecisionFactors) == maxFactors {
			break
		}
	}

	encoded := encode(out)
	for _, step := range shrinkSteps {
		if len(encoded) <= MaxReasonBytes {
			break
		}
		step(&out)
		encoded = encode(out)
	}
	return encoded
}

// ParseReason decodes a stored reason. It returns nil for NULL or malformed
// values.
func ParseReason(raw string) *Reason {
	if raw == "" {
		return nil
	}
	var r Reason
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil
	}
	return &r
}

func encode(r Reason) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(r)
	return strings.TrimSuffix(buf.String(), "\n")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// ellipsize cuts s to n runes and marks the cut with "…". Short input is
// returned as is.
func ellipsize(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return truncateRunes(s, n) + "…"
}
