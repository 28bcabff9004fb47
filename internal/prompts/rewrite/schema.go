package rewrite

// RewriteSchema is the JSON schema for reference resolution output.
var RewriteSchema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "reference_resolution",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"needs_resolution": map[string]any{
					"type":        "boolean",
					"description": "False when the reference is not needed to understand the pair",
				},
				"relevant_context": map[string]any{
					"type":        "string",
					"description": "The information taken from the referenced pair",
				},
				"rewritten_question": map[string]any{
					"type": "string",
				},
				"rewritten_answer": map[string]any{
					"type": "string",
				},
				"answer_was_modified": map[string]any{
					"type": "boolean",
				},
			},
			"required":             []string{"needs_resolution", "relevant_context", "rewritten_question", "rewritten_answer", "answer_was_modified"},
			"additionalProperties": false,
		},
	},
}

// Result represents the parsed rewrite output.
type Result struct {
	NeedsResolution   bool   `json:"needs_resolution"`
	RelevantContext   string `json:"relevant_context"`
	RewrittenQuestion string `json:"rewritten_question"`
	RewrittenAnswer   string `json:"rewritten_answer"`
	AnswerWasModified bool   `json:"answer_was_modified"`
}
