package provider

import "strings"

// NoOutputSentinel is the result recorded when a context completed without
// producing any assistant output.
const NoOutputSentinel = "(no output)"

const truncationMarker = "\n... [truncated]"

// LatestAssistantText extracts the text of the most recent assistant message,
// joining its text parts and truncating to charLimit with a marker. It
// returns NoOutputSentinel when no assistant message exists.
func LatestAssistantText(messages []Message, charLimit int) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if !strings.EqualFold(strings.TrimSpace(messages[i].Role), "assistant") {
			continue
		}
		parts := make([]string, 0, len(messages[i].Parts))
		for _, p := range messages[i].Parts {
			if p.Type != "" && !strings.EqualFold(p.Type, "text") {
				continue
			}
			if t := strings.TrimSpace(p.Text); t != "" {
				parts = append(parts, t)
			}
		}
		text := strings.Join(parts, "\n")
		if text == "" {
			continue
		}
		return truncate(text, charLimit)
	}
	return NoOutputSentinel
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + truncationMarker
}
