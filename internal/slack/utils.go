package slack

import "strings"

// ParseAppMentionText strips the leading "<@BOTID>" mention and returns the rest.
//
// For example, given text "<@B123> hello world" and botID "B123",
// it returns "hello world". With an empty botID any leading mention is
// stripped.
func ParseAppMentionText(text, botID string) string {
	trimmed := strings.TrimSpace(text)
	if botID == "" {
		if strings.HasPrefix(trimmed, "<@") {
			if end := strings.IndexByte(trimmed, '>'); end > 0 {
				return strings.TrimSpace(trimmed[end+1:])
			}
		}
		return trimmed
	}
	prefix := "<@" + botID + ">"
	if strings.HasPrefix(trimmed, prefix) {
		// Slice off the prefix length, then trim spaces again
		return strings.TrimSpace(trimmed[len(prefix):])
	}
	return trimmed
}

// boolToInt helps record a boolean as an int attribute.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
