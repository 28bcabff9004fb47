package rewrite

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/jackzampolin/quire/internal/ident"
	"github.com/jackzampolin/quire/internal/types"
)

func TestBuildRequest(t *testing.T) {
	req, err := BuildRequest(Input{
		Unit:       types.Unit{ID: ident.MustParse("2.8"), QuestionText: "Using 2.7, find $L$.", AnswerText: "$L=0$"},
		Referenced: types.Unit{ID: ident.MustParse("2.7"), QuestionText: "Show $|a_n| \\le 1/n$.", AnswerText: "Trivial."},
	})
	if err != nil {
		t.Fatalf("BuildRequest() error = %v", err)
	}
	user := req.Messages[1].Content
	for _, want := range []string{"(ID: 2.8)", "(ID: 2.7)", `$|a_n| \le 1/n$`} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q:\n%s", want, user)
		}
	}
}

func TestParseResult(t *testing.T) {
	t.Run("rewrite", func(t *testing.T) {
		r, err := ParseResult(json.RawMessage(`{"needs_resolution":true,"relevant_context":"bound","rewritten_question":"Given $|a_n| \\le 1/n$, find $L$.","rewritten_answer":"$L=0$","answer_was_modified":false}`))
		if err != nil {
			t.Fatalf("ParseResult() error = %v", err)
		}
		if !r.NeedsResolution || !strings.HasPrefix(r.RewrittenQuestion, "Given") {
			t.Errorf("result = %+v", r)
		}
	})
	t.Run("empty rewrite rejected", func(t *testing.T) {
		_, err := ParseResult(json.RawMessage(`{"needs_resolution":true,"relevant_context":"","rewritten_question":" ","rewritten_answer":"","answer_was_modified":false}`))
		if err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("not needed", func(t *testing.T) {
		r, err := ParseResult(json.RawMessage(`{"needs_resolution":false,"relevant_context":"","rewritten_question":"","rewritten_answer":"","answer_was_modified":false}`))
		if err != nil || r.NeedsResolution {
			t.Fatalf("got %+v, %v", r, err)
		}
	})
}
