// Package redact applies a small, bounded set of default-on secret
// redaction rules to strings before they are attached as span attributes
// or written to the trace JSONL. It is intentionally minimal: a handful of
// high-confidence patterns rather than an attempt at exhaustive secret
// detection.
package redact

import "regexp"

type Applied struct {
	Names []string
}

var (
	reGitHubTokenClassic = regexp.MustCompile(`\bgh[po]_[A-Za-z0-9]{10,}\b`)
	reGitHubTokenFine    = regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{10,}\b`)
	reOpenAIKey          = regexp.MustCompile(`\bsk-[A-Za-z0-9]{10,}\b`)
	reAnthropicKey       = regexp.MustCompile(`\bsk-ant-[A-Za-z0-9-]{10,}\b`)
	reSlackToken         = regexp.MustCompile(`\bxox[bpras]-[A-Za-z0-9-]{10,}\b`)
	reAWSAccessKeyID     = regexp.MustCompile(`\b(AKIA|ASIA)[A-Z0-9]{16}\b`)
	reJWT                = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{5,}\.[A-Za-z0-9_-]{5,}\.[A-Za-z0-9_-]{10,}\b`)
	reBearerToken        = regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9._~+/=-]{16,})`)
	rePrivateKeyBlock    = regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`)
)

// Text scans s for known secret shapes and replaces each match with a
// `[REDACTED:<KIND>]` marker, returning the redacted string and the set of
// rule names that fired. Order matters: the Anthropic-specific key pattern
// runs before the more general OpenAI-style `sk-` pattern so an Anthropic
// key is never misclassified.
func Text(s string) (string, Applied) {
	applied := Applied{}
	out := s

	if rePrivateKeyBlock.MatchString(out) {
		out = rePrivateKeyBlock.ReplaceAllString(out, "[REDACTED:PRIVATE_KEY]")
		applied.Names = append(applied.Names, "private_key")
	}
	if reGitHubTokenFine.MatchString(out) {
		out = reGitHubTokenFine.ReplaceAllString(out, "[REDACTED:GITHUB_TOKEN]")
		applied.Names = append(applied.Names, "github_token")
	}
	if reGitHubTokenClassic.MatchString(out) {
		out = reGitHubTokenClassic.ReplaceAllString(out, "[REDACTED:GITHUB_TOKEN]")
		if !hasName(applied.Names, "github_token") {
			applied.Names = append(applied.Names, "github_token")
		}
	}
	if reAnthropicKey.MatchString(out) {
		out = reAnthropicKey.ReplaceAllString(out, "[REDACTED:ANTHROPIC_KEY]")
		applied.Names = append(applied.Names, "anthropic_key")
	}
	if reOpenAIKey.MatchString(out) {
		out = reOpenAIKey.ReplaceAllString(out, "[REDACTED:OPENAI_KEY]")
		applied.Names = append(applied.Names, "openai_key")
	}
	if reSlackToken.MatchString(out) {
		out = reSlackToken.ReplaceAllString(out, "[REDACTED:SLACK_TOKEN]")
		applied.Names = append(applied.Names, "slack_token")
	}
	if reAWSAccessKeyID.MatchString(out) {
		out = reAWSAccessKeyID.ReplaceAllString(out, "[REDACTED:AWS_ACCESS_KEY_ID]")
		applied.Names = append(applied.Names, "aws_access_key_id")
	}
	if reJWT.MatchString(out) {
		out = reJWT.ReplaceAllString(out, "[REDACTED:JWT]")
		applied.Names = append(applied.Names, "jwt")
	}
	if reBearerToken.MatchString(out) {
		out = reBearerToken.ReplaceAllString(out, "${1}[REDACTED:BEARER_TOKEN]")
		applied.Names = append(applied.Names, "bearer_token")
	}

	return out, applied
}

func hasName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
