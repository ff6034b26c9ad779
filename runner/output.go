package runner

import "github.com/hupe1980/medmesh/core"

// FinalOutput recovers the textual output of an activation that produced no
// text of its own: the most recent successful string tool result in
// items[offset:], searching backwards. It returns "" when there is none.
func FinalOutput(items []core.Content, offset int) string {
	if offset < 0 {
		offset = 0
	}
	for i := len(items) - 1; i >= offset; i-- {
		responses := items[i].FunctionResponses()
		for j := len(responses) - 1; j >= 0; j-- {
			if text, ok := responses[j].Text(); ok {
				return text
			}
		}
	}
	return ""
}

// outputOf returns the model text when present, else the FinalOutput fallback.
func outputOf(last core.Content, items []core.Content, offset int) string {
	if text := last.Text(); text != "" {
		return text
	}
	return FinalOutput(items, offset)
}
