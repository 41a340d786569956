// Package query implements the two-step query parser: splitting a
// free-form query string into a short search phrase and a longer task
// context, per the [SEARCH]/[TASK] marker convention.
package query

import "strings"

const (
	searchMarker = "[SEARCH]"
	taskMarker   = "[TASK]"
)

// Parse splits s into (searchPhrase, taskContext) using marker precedence:
// explicit [SEARCH]/[TASK] markers, else a pipe delimiter, else the full
// string for both. When both parts are present, taskContext is formatted as
// "{task}\n\nRelevant concepts: {search}"; the fallback never exposes marker
// tokens to the caller.
func Parse(s string) (searchPhrase, taskContext string) {
	if phrase, task, ok := parseMarkers(s); ok {
		return phrase, formatTaskContext(task, phrase)
	}
	if phrase, task, ok := parsePipe(s); ok {
		return phrase, formatTaskContext(task, phrase)
	}

	trimmed := strings.TrimSpace(s)
	return trimmed, trimmed
}

func parseMarkers(s string) (phrase, task string, ok bool) {
	searchIdx := strings.Index(s, searchMarker)
	taskIdx := strings.Index(s, taskMarker)
	if searchIdx < 0 || taskIdx < 0 || taskIdx <= searchIdx {
		return "", "", false
	}

	phrase = strings.TrimSpace(s[searchIdx+len(searchMarker) : taskIdx])
	task = strings.TrimSpace(s[taskIdx+len(taskMarker):])
	if phrase == "" || task == "" {
		return "", "", false
	}
	return phrase, task, true
}

func parsePipe(s string) (phrase, task string, ok bool) {
	idx := strings.Index(s, "|")
	if idx < 0 {
		return "", "", false
	}
	phrase = strings.TrimSpace(s[:idx])
	task = strings.TrimSpace(s[idx+1:])
	if phrase == "" || task == "" {
		return "", "", false
	}
	return phrase, task, true
}

func formatTaskContext(task, phrase string) string {
	return task + "\n\nRelevant concepts: " + phrase
}
