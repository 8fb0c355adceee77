package intent

import "regexp"

var (
	urlPattern = regexp.MustCompile(`https?://\S+`)
	// Bare numeric build instance ids are at least 6 digits.
	instanceIDPattern = regexp.MustCompile(`\b\d{6,}\b`)
)

// ExtractBuildReference pulls a build-log locator out of free text: the
// first absolute URL wins, then a bare numeric instance id of at least six
// digits. Returns an empty string when neither pattern matches. Idempotent.
func ExtractBuildReference(text string) string {
	if match := urlPattern.FindString(text); match != "" {
		return match
	}
	return instanceIDPattern.FindString(text)
}
