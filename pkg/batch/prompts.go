package batch

import "encoding/json"

// PromptRecord is the description of one output as exported for reuse.
type PromptRecord struct {
	ImageID string          `json:"image_id"`
	Details json.RawMessage `json:"prompt_details"`
}

// ExtractPrompts returns the description of each output. JSON descriptions
// are embedded as-is; free-form prompts, such as those of a regenerated
// output, are wrapped as {"raw_prompt": ...}.
func ExtractPrompts(outputs []Output) []PromptRecord {
	records := make([]PromptRecord, 0, len(outputs))
	for _, o := range outputs {
		details := json.RawMessage(o.Description)
		if !json.Valid(details) {
			details, _ = json.Marshal(map[string]string{"raw_prompt": o.Description})
		}
		records = append(records, PromptRecord{ImageID: o.ID, Details: details})
	}
	return records
}
