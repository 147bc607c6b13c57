package utils

// TruncateString shortens a string to maxLength runes, appending "..." when
// truncation happened. Used to keep error summaries and logged payload
// previews bounded.
func TruncateString(input string, maxLength int) string {
	if maxLength <= 0 {
		return ""
	}

	runes := []rune(input)
	if len(runes) <= maxLength {
		return input
	}

	return string(runes[:maxLength]) + "..."
}
