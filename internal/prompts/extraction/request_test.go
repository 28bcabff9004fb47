package extraction

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/jackzampolin/quire/internal/ident"
	"github.com/jackzampolin/quire/internal/types"
)

func TestBuildRequest(t *testing.T) {
	t.Run("first page has no continuation hint", func(t *testing.T) {
		req, err := BuildRequest(Input{Page: 1, TotalPages: 10, Image: []byte("img")})
		if err != nil {
			t.Fatalf("BuildRequest() error = %v", err)
		}
		user := req.Messages[1]
		if strings.Contains(user.Content, "Context from previous page") {
			t.Errorf("unexpected context on first page: %q", user.Content)
		}
		if !strings.Contains(user.Content, "page 1 of 10") {
			t.Errorf("user prompt = %q", user.Content)
		}
		if len(user.Images) != 1 {
			t.Errorf("expected page image on user message")
		}
		if req.ResponseFormat == nil || !strings.Contains(string(req.ResponseFormat.JSONSchema), "page_extraction") {
			t.Errorf("missing response format")
		}
	})

	t.Run("continuation hint names last identifier", func(t *testing.T) {
		req, err := BuildRequest(Input{
			Page:       5,
			TotalPages: 10,
			Context: types.ContinuationContext{
				Page:           4,
				LastIdentifier: ident.MustParse("3.4b"),
				Summary:        []ident.Identifier{ident.MustParse("3.3"), ident.MustParse("3.4a"), ident.MustParse("3.4b")},
			},
		})
		if err != nil {
			t.Fatalf("BuildRequest() error = %v", err)
		}
		user := req.Messages[1].Content
		for _, want := range []string{"page 4", "3.3, 3.4a, 3.4b", "continuations of 3.4b"} {
			if !strings.Contains(user, want) {
				t.Errorf("user prompt missing %q:\n%s", want, user)
			}
		}
	})

	t.Run("override template", func(t *testing.T) {
		req, err := BuildRequest(Input{Page: 2, TotalPages: 3, UserPromptOverride: "custom {{.Page}}"})
		if err != nil {
			t.Fatalf("BuildRequest() error = %v", err)
		}
		if req.Messages[1].Content != "custom 2" {
			t.Errorf("content = %q", req.Messages[1].Content)
		}
	})

	t.Run("bad override", func(t *testing.T) {
		if _, err := BuildRequest(Input{Page: 2, UserPromptOverride: "{{.Nope}}"}); err == nil {
			t.Fatal("expected error for unknown field")
		}
	})
}

func TestResult_Fragments(t *testing.T) {
	raw := json.RawMessage(`{"questions":[
		{"question_id":null,"parts":[
			{"part_id":null,"question_latex":"is bounded.","answer_latex":"By 3.2 ...","continues_next_page":false,"continued_from_previous":true,"figures":[]}
		]},
		{"question_id":"3.5","parts":[
			{"part_id":"a","question_latex":" Find $x$. ","answer_latex":"$x=1$","continues_next_page":false,"continued_from_previous":false,"figures":[{"figure_id":"fig-3","kind":"graph","description":"plot of f"}]},
			{"part_id":"(b)","question_latex":"Find $y$.","answer_latex":"","continues_next_page":true,"continued_from_previous":false,"figures":[]}
		]},
		{"question_id":null,"parts":[
			{"part_id":"c","question_latex":"Find $z$.","answer_latex":"","continues_next_page":false,"continued_from_previous":false,"figures":[]}
		]}
	]}`)

	result, err := ParseResult(raw)
	if err != nil {
		t.Fatalf("ParseResult() error = %v", err)
	}
	frags := result.Fragments(7)
	if len(frags) != 4 {
		t.Fatalf("got %d fragments, want 4", len(frags))
	}

	want := []struct {
		label string
		cont  bool
		from  bool
	}{
		{"", false, true},
		{"3.5a", false, false},
		{"3.5b", true, false},
		{"(c)", false, false},
	}
	for i, w := range want {
		f := frags[i]
		if f.Label != w.label || f.ContinuesNextPage != w.cont || f.ContinuedFromPrevious != w.from || f.Page != 7 {
			t.Errorf("fragment %d = %+v, want label %q cont %v from %v", i, f, w.label, w.cont, w.from)
		}
	}
	if frags[1].QuestionText != "Find $x$." {
		t.Errorf("question text not trimmed: %q", frags[1].QuestionText)
	}
	if len(frags[1].Figures) != 1 || frags[1].Figures[0].Caption != "plot of f" || frags[1].Figures[0].Page != 7 {
		t.Errorf("figures = %+v", frags[1].Figures)
	}
}

func TestResult_FragmentsCanonicalLabels(t *testing.T) {
	raw := json.RawMessage(`{"questions":[
		{"question_id":" 4.2A ","parts":[
			{"part_id":null,"question_latex":"upper","answer_latex":"","continues_next_page":false,"continued_from_previous":false,"figures":[]}
		]},
		{"question_id":"4.3","parts":[
			{"part_id":"B","question_latex":"upper part","answer_latex":"","continues_next_page":false,"continued_from_previous":false,"figures":[]}
		]},
		{"question_id":"~p3.1","parts":[
			{"part_id":null,"question_latex":"odd label","answer_latex":"","continues_next_page":false,"continued_from_previous":false,"figures":[]}
		]}
	]}`)
	result, err := ParseResult(raw)
	if err != nil {
		t.Fatalf("ParseResult() error = %v", err)
	}
	frags := result.Fragments(3)
	if len(frags) != 3 {
		t.Fatalf("got %d fragments, want 3", len(frags))
	}
	for i, want := range []string{"4.2a", "4.3b"} {
		if frags[i].Label != want {
			t.Errorf("fragment %d label = %q, want %q", i, frags[i].Label, want)
		}
		if _, err := ident.Parse(frags[i].Label); err != nil {
			t.Errorf("label %q does not parse: %v", frags[i].Label, err)
		}
	}
	if _, err := ident.Parse(frags[2].Label); err == nil {
		t.Errorf("placeholder-shaped label %q should not parse", frags[2].Label)
	}
}
