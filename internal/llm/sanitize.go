package llm

import "strings"

// StripCodeFence removes a markdown code-fence wrapper from model
// output: a leading ``` marker with an optional json or html tag, and
// a trailing ``` marker, plus surrounding whitespace. The markers need
// not sit on their own lines. Interior content is left untouched.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = s[3:]
		if strings.HasPrefix(s, "json") || strings.HasPrefix(s, "html") {
			s = s[4:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
