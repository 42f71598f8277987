package llm

import "regexp"

type scrubPattern struct {
	re          *regexp.Regexp
	replacement string
}

// Order matters: more specific patterns first.
var scrubPatterns = []scrubPattern{
	{regexp.MustCompile(`(OPENAI_API_KEY|ANTHROPIC_API_KEY|GITHUB_TOKEN|GITLAB_TOKEN|AWS_SECRET_ACCESS_KEY)\s*=\s*([^\s]+)`), "$1=[REDACTED:ENV_SECRET]"},
	{regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`), "[REDACTED:ANTHROPIC_KEY]"},
	{regexp.MustCompile(`sk-[A-Za-z0-9]{32,}`), "[REDACTED:OPENAI_KEY]"},
	{regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`), "[REDACTED:GITHUB_TOKEN]"},
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*["']?\s*([^"'\s]+)["']?`), "$1=[REDACTED:API_KEY]"},
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.=]+`), "[REDACTED:BEARER_TOKEN]"},
	{regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*["']?\s*([^"'\s]+)["']?`), "$1=[REDACTED:PASSWORD]"},
}

// ScrubSecrets masks credentials in text sent to a provider for summaries.
func ScrubSecrets(s string) string {
	for _, p := range scrubPatterns {
		s = p.re.ReplaceAllString(s, p.replacement)
	}
	return s
}
