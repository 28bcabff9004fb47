package resolve

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/jackzampolin/quire/internal/ident"
	"github.com/jackzampolin/quire/internal/types"
)

// Detector finds the identifiers a unit's text depends on.
type Detector interface {
	Detect(ctx context.Context, unit types.Unit) ([]ident.Identifier, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, unit types.Unit) ([]ident.Identifier, error)

func (f DetectorFunc) Detect(ctx context.Context, unit types.Unit) ([]ident.Identifier, error) {
	return f(ctx, unit)
}

var referencePatterns = []*regexp.Regexp{
	// "question 2.5", "Exercise 3", "problem 4.1b", "part 2.3a"
	regexp.MustCompile(`(?i)\b(?:question|exercise|problem|part)s?\s+(\d+(?:\.\d+)*[a-z]?)\b`),
	// "from 2.5", "in 2.5", "see 2.5", "of 2.5": dotted identifiers only
	regexp.MustCompile(`(?i)\b(?:from|in|see|of|using)\s+(\d+\.\d+(?:\.\d+)*[a-z]?)\b`),
	// "(2.5)"
	regexp.MustCompile(`\((\d+\.\d+(?:\.\d+)*[a-z]?)\)`),
}

// PatternDetector finds references with local regular expressions. It never
// fails and is used when the external detector is disabled or errors.
type PatternDetector struct{}

// Detect returns referenced identifiers in order of first appearance across
// the question and then the answer.
func (PatternDetector) Detect(_ context.Context, unit types.Unit) ([]ident.Identifier, error) {
	return FindReferences(unit.QuestionText + "\n" + unit.AnswerText), nil
}

// FindReferences scans text for identifier references.
func FindReferences(text string) []ident.Identifier {
	type hit struct {
		pos int
		id  ident.Identifier
	}
	var hits []hit
	for _, re := range referencePatterns {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			id, err := ident.Parse(strings.ToLower(text[m[2]:m[3]]))
			if err != nil {
				continue
			}
			hits = append(hits, hit{pos: m[2], id: id})
		}
	}
	slices.SortStableFunc(hits, func(a, b hit) int { return a.pos - b.pos })

	seen := make(map[string]bool, len(hits))
	var out []ident.Identifier
	for _, h := range hits {
		key := h.id.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, h.id)
	}
	return out
}

// Union runs every detector and merges their results in order, dropping
// duplicates. The first detector error is returned.
func Union(detectors ...Detector) Detector {
	return DetectorFunc(func(ctx context.Context, unit types.Unit) ([]ident.Identifier, error) {
		seen := make(map[string]bool)
		var out []ident.Identifier
		for _, d := range detectors {
			refs, err := d.Detect(ctx, unit)
			if err != nil {
				return nil, err
			}
			for _, id := range refs {
				if key := id.String(); !seen[key] {
					seen[key] = true
					out = append(out, id)
				}
			}
		}
		return out, nil
	})
}
