package extract

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docpipe/internal/model"
)

// extractJSON pulls the JSON payload out of a model response that may
// wrap it in a markdown code fence or surrounding prose.
func extractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + len("```json")
		if end := strings.Index(text[start:], "```"); end >= 0 {
			return strings.TrimSpace(text[start : start+end])
		}
	}
	if idx := strings.Index(text, "```"); idx >= 0 {
		start := idx + len("```")
		if end := strings.Index(text[start:], "```"); end >= 0 {
			return strings.TrimSpace(text[start : start+end])
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// decodeTimetable parses the response text and enforces the minimal
// structural requirement: at least one timeblock.
func decodeTimetable(text string) (*model.Timetable, error) {
	var t model.Timetable
	if err := json.Unmarshal([]byte(extractJSON(text)), &t); err != nil {
		return nil, eris.Wrap(err, "extract: parse response")
	}
	if len(t.TimeBlocks) == 0 {
		return nil, eris.New("extract: response missing timeblocks")
	}
	return &t, nil
}
