// Package extraction holds the page extraction prompt: the vision request
// that turns one page image into candidate fragments.
package extraction

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
	SystemPromptKey = "extraction.system"
	UserPromptKey   = "extraction.user"
)

// UserPromptData is the data for the user template.
type UserPromptData struct {
	Page           int
	TotalPages     int
	HasContext     bool
	PreviousPage   int
	Summary        string
	LastIdentifier string
}

// SystemPrompt returns the embedded system prompt.
func SystemPrompt() string {
	return systemPrompt
}

// UserPrompt renders the user prompt. A non-empty override replaces the
// embedded template.
func UserPrompt(data UserPromptData, override string) (string, error) {
	tmpl := userPromptTmpl
	if override != "" {
		tmpl = override
	}
	return prompts.Render(UserPromptKey, tmpl, data)
}

// RegisterPrompts registers the extraction prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         SystemPromptKey,
		Text:        systemPrompt,
		Description: "Page extraction system prompt - transcribes questions and answers from a page image",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         UserPromptKey,
		Text:        userPromptTmpl,
		Description: "Page extraction user prompt - carries the previous page's continuation hint",
	})
}

// UserPromptTemplate returns the embedded user template text.
func UserPromptTemplate() string {
	return userPromptTmpl
}
