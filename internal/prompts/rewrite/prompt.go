// Package rewrite holds the reference resolution prompt, which rewrites a
// unit so it no longer depends on a referenced unit.
package rewrite

import (
	_ "embed"

	"github.com/jackzampolin/quire/internal/prompts"
)

//go:embed system.tmpl
var systemPrompt string

//go:embed user.tmpl
var userPromptTmpl string

// Prompt keys
const (
	SystemPromptKey = "rewrite.system"
	UserPromptKey   = "rewrite.user"
)

// UserPromptData is the data for the user template.
type UserPromptData struct {
	ID          string
	Question    string
	Answer      string
	RefID       string
	RefQuestion string
	RefAnswer   string
}

// SystemPrompt returns the embedded system prompt.
func SystemPrompt() string {
	return systemPrompt
}

// UserPrompt renders the user prompt, using override when non-empty.
func UserPrompt(data UserPromptData, override string) (string, error) {
	tmpl := userPromptTmpl
	if override != "" {
		tmpl = override
	}
	return prompts.Render(UserPromptKey, tmpl, data)
}

// RegisterPrompts registers the rewrite prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         SystemPromptKey,
		Text:        systemPrompt,
		Description: "Reference resolution system prompt",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         UserPromptKey,
		Text:        userPromptTmpl,
		Description: "Reference resolution user prompt - current and referenced pair",
	})
}

// UserPromptTemplate returns the embedded user template text.
func UserPromptTemplate() string {
	return userPromptTmpl
}
