package script

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/capitalize-ai/chat-demo/internal/model"
)

// SourceGenerated marks scripts written by an LLM.
const SourceGenerated = "generated"

// ParseGenerated extracts a JSON array of script events from LLM output.
// Markdown code fences and prose around the array are ignored.
func ParseGenerated(id, title, content string) (model.Script, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return model.Script{}, fmt.Errorf("%w: no JSON event array in model output", ErrInvalidScript)
	}

	var events []model.ScriptEvent
	if err := json.Unmarshal([]byte(content[start:end+1]), &events); err != nil {
		return model.Script{}, fmt.Errorf("%w: decode events: %v", ErrInvalidScript, err)
	}
	if len(events) == 0 {
		return model.Script{}, fmt.Errorf("%w: model returned no events", ErrInvalidScript)
	}

	s := model.Script{
		ID:     id,
		Title:  title,
		Events: events,
		Source: SourceGenerated,
	}
	if err := Validate(s); err != nil {
		return model.Script{}, err
	}
	return s, nil
}
