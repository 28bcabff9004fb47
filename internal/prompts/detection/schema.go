package detection

// DetectionSchema is the JSON schema for reference detection output.
var DetectionSchema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "reference_detection",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"has_references": map[string]any{
					"type": "boolean",
				},
				"references": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"reference_text": map[string]any{
								"type":        "string",
								"description": "The exact phrase containing the reference",
							},
							"reference_type": map[string]any{
								"type": "string",
								"enum": []string{"question", "theorem", "remark", "definition", "equation", "section", "implicit", "other"},
							},
							"reference_id": map[string]any{
								"type":        []string{"string", "null"},
								"description": "Identifier if printed (e.g. '2.2', '3.4a'), null otherwise",
							},
							"is_essential": map[string]any{
								"type":        "boolean",
								"description": "Whether the pair cannot be understood without the reference",
							},
							"context_needed": map[string]any{
								"type": "string",
							},
						},
						"required":             []string{"reference_text", "reference_type", "reference_id", "is_essential", "context_needed"},
						"additionalProperties": false,
					},
				},
				"is_self_contained": map[string]any{
					"type": "boolean",
				},
			},
			"required":             []string{"has_references", "references", "is_self_contained"},
			"additionalProperties": false,
		},
	},
}

// Result represents the parsed detection output.
type Result struct {
	HasReferences   bool        `json:"has_references"`
	References      []Reference `json:"references"`
	IsSelfContained bool        `json:"is_self_contained"`
}

// Reference is one detected reference.
type Reference struct {
	Text          string  `json:"reference_text"`
	Type          string  `json:"reference_type"`
	ID            *string `json:"reference_id"`
	IsEssential   bool    `json:"is_essential"`
	ContextNeeded string  `json:"context_needed"`
}
