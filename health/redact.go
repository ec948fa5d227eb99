package health

import "regexp"

// redactions run in order: URLs before paths, since URLs contain paths.
var redactions = []struct {
	pattern *regexp.Regexp
	with    string
}{
	{regexp.MustCompile(`(?:https?|wss?|nats|tls|tcp)://\S+`), "[URL]"},
	{regexp.MustCompile(`(?i)\b(?:password|passwd|token|secret|credential|api[_-]?key)\b\s*[:=]\s*[^,\s}]+`), "[REDACTED]"},
	{regexp.MustCompile(`[A-Za-z]:\\[^:\s]+`), "[PATH]"},
	{regexp.MustCompile(`/[A-Za-z0-9/_.-]+`), "[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
}

// redact strips addresses, paths and credentials from a probe error before
// it is served on /health.
func redact(msg string) string {
	for _, r := range redactions {
		msg = r.pattern.ReplaceAllString(msg, r.with)
	}
	return msg
}
