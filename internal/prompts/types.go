// Package prompts manages the LLM prompts with embedded defaults and
// optional file overrides.
//
// Embedded .tmpl files are the source of truth. A prompt can be overridden
// by placing <key>.tmpl in the configured override directory, which lets a
// user tune extraction for one book without rebuilding.
//
// Every resolved prompt carries a content hash (CID) that is recorded with
// each LLM call, linking traces to the exact prompt text used.
package prompts

// ResolvedPrompt is the text to use for a prompt key.
type ResolvedPrompt struct {
	Key        string   `json:"key"`
	Text       string   `json:"text"`
	Variables  []string `json:"variables,omitempty"`
	IsOverride bool     `json:"is_override"`
	CID        string   `json:"cid"`
}

// EmbeddedPrompt represents a prompt loaded from an embedded .tmpl file.
type EmbeddedPrompt struct {
	Key         string   // hierarchical key: extraction.system
	Text        string   // Go template text
	Description string   // human-readable description
	Variables   []string // extracted template variables
	Hash        string   // SHA256 of Text
}
