package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

// redactionRule is one pattern class the policy gate scrubs before a
// snippet may leave the compiler (§4.8 step 5: "redaction (emails,
// IPs, long hex, JWT-like, API-key-like patterns)").
type redactionRule struct {
	label string
	re    *regexp.Regexp
}

// Order matters: JWT and API-key patterns are more specific than the
// generic long-hex rule and must run first, or their own matches
// could be partially consumed by it.
var redactionRules = []redactionRule{
	{"JWT", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\b`)},
	{"API_KEY", regexp.MustCompile(`\b(?:sk|pk|api|key|tok)[-_][A-Za-z0-9]{16,}\b`)},
	{"EMAIL", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{"IPV4", regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)},
	{"HEX", regexp.MustCompile(`\b[a-fA-F0-9]{32,}\b`)},
}

func redactionToken(label, match string) string {
	sum := sha256.Sum256([]byte(match))
	return "[REDACTED:" + label + ":" + hex.EncodeToString(sum[:])[:12] + "]"
}

// Redact replaces every pattern match in text with a stable token
// derived from the match's hash, then re-scans the result. A second
// pass that still matches a rule means the first pass could not
// guarantee completeness — the caller must refuse the hit rather than
// emit a partially redacted snippet (§4.8: "If redaction cannot
// guarantee completeness ... refuse to include the hit").
func Redact(text string) (redacted string, residue bool) {
	out := text
	for _, rule := range redactionRules {
		out = rule.re.ReplaceAllStringFunc(out, func(m string) string {
			return redactionToken(rule.label, m)
		})
	}
	for _, rule := range redactionRules {
		if rule.re.MatchString(out) {
			return out, true
		}
	}
	return out, false
}
