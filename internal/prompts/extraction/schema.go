package extraction

// ExtractionSchema is the JSON schema for page extraction output.
var ExtractionSchema = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "page_extraction",
		"strict": true,
		"schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"questions": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"question_id": map[string]any{
								"type":        []string{"string", "null"},
								"description": "Identifier as printed (e.g. '2.7'), null if none is printed",
							},
							"parts": map[string]any{
								"type":  "array",
								"items": partSchema,
							},
						},
						"required":             []string{"question_id", "parts"},
						"additionalProperties": false,
					},
				},
			},
			"required":             []string{"questions"},
			"additionalProperties": false,
		},
	},
}

var partSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"part_id": map[string]any{
			"type":        []string{"string", "null"},
			"description": "Part letter (e.g. 'a', 'b'), null if the question has no parts",
		},
		"question_latex": map[string]any{
			"type": "string",
		},
		"answer_latex": map[string]any{
			"type": "string",
		},
		"continues_next_page": map[string]any{
			"type": "boolean",
		},
		"continued_from_previous": map[string]any{
			"type": "boolean",
		},
		"figures": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"figure_id": map[string]any{
						"type": "string",
					},
					"kind": map[string]any{
						"type": "string",
						"enum": []string{"figure", "table", "graph", "diagram"},
					},
					"description": map[string]any{
						"type": []string{"string", "null"},
					},
				},
				"required":             []string{"figure_id", "kind", "description"},
				"additionalProperties": false,
			},
		},
	},
	"required": []string{
		"part_id",
		"question_latex",
		"answer_latex",
		"continues_next_page",
		"continued_from_previous",
		"figures",
	},
	"additionalProperties": false,
}

// Result represents the parsed extraction output.
type Result struct {
	Questions []Question `json:"questions"`
}

// Question is one printed question with its parts.
type Question struct {
	QuestionID *string `json:"question_id"`
	Parts      []Part  `json:"parts"`
}

// Part is one part of a question, or the whole question when unlettered.
type Part struct {
	PartID                *string  `json:"part_id"`
	QuestionLatex         string   `json:"question_latex"`
	AnswerLatex           string   `json:"answer_latex"`
	ContinuesNextPage     bool     `json:"continues_next_page"`
	ContinuedFromPrevious bool     `json:"continued_from_previous"`
	Figures               []Figure `json:"figures"`
}

// Figure is a figure reference on the page.
type Figure struct {
	FigureID    string  `json:"figure_id"`
	Kind        string  `json:"kind"`
	Description *string `json:"description"`
}
