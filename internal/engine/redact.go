package engine

import "regexp"

const redactedMarker = "[redacted]"

// Secret-shaped patterns scrubbed before anything is persisted. Recall over
// precision: a false positive costs one garbled token, a false negative
// leaks a credential into durable memory.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{16,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]{16,}=*`),
	regexp.MustCompile(`(?i)\b(api[_-]?key|apikey|secret[_-]?key|access[_-]?token|auth[_-]?token)\b\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)\b(password|passwd|pwd)\b\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`),
}

// Redact scrubs probable secrets from free text. Runs first and
// unconditionally in the write pipeline.
func Redact(text string) string {
	for _, re := range redactPatterns {
		text = re.ReplaceAllString(text, redactedMarker)
	}
	return text
}

// Sensitive-context markers: extraction rules drop any candidate whose
// surrounding text matches one of these, so redacted-adjacent content never
// launders into structured facts.
var sensitivePattern = regexp.MustCompile(`(?i)\b(api[ _-]?key|password|passwd|secret|private key|token|ssn|social security|credit card)\b`)

func isSensitiveContext(text string) bool {
	return sensitivePattern.MatchString(text)
}
