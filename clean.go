package pitchiq

import "strings"

const (
	jsonFence = "```json"
	bareFence = "```"
)

// CleanOutput strips surrounding whitespace and every literal markdown
// fence marker from a model reply. It is a plain substitution, not a
// markdown parser: "```json" is removed first, then any remaining "```".
func CleanOutput(text string) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, jsonFence, "")
	text = strings.ReplaceAll(text, bareFence, "")
	return strings.TrimSpace(text)
}
