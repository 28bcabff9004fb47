package stitch

import (
	"fmt"
	"strings"

	"github.com/jackzampolin/quire/internal/ident"
	"github.com/jackzampolin/quire/internal/types"
)

const whitespace = " \t\r\n"

// JoinText concatenates text split across a page boundary. A leading
// ellipsis on the continuation is dropped, so "Show that..." followed by
// "...is bounded." becomes "Show that... is bounded.".
func JoinText(a, b string) string {
	a = strings.TrimRight(a, whitespace)
	b = strings.TrimLeft(b, whitespace)
	for _, mark := range []string{"...", "…"} {
		if strings.HasPrefix(b, mark) {
			b = strings.TrimLeft(strings.TrimPrefix(b, mark), whitespace)
			break
		}
	}
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}

// unionFigures keeps the first occurrence of every figure ID. Figures
// without an ID are always kept.
func unionFigures(a, b []types.FigureRef) []types.FigureRef {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(a)+len(b))
	var out []types.FigureRef
	for _, fig := range append(append([]types.FigureRef(nil), a...), b...) {
		if fig.ID != "" {
			if seen[fig.ID] {
				continue
			}
			seen[fig.ID] = true
		}
		out = append(out, fig)
	}
	return out
}

// Dedupe makes identifiers unique across a document. Units are expected in
// document order; every repeat after the first keeps its content under a
// placeholder identifier and is flagged for review.
func Dedupe(units []types.Unit) []types.Unit {
	nextOrdinal := make(map[int]int)
	for _, u := range units {
		if u.ID.IsPlaceholder() {
			page, ord, _ := u.ID.PlaceholderPosition()
			if ord >= nextOrdinal[page] {
				nextOrdinal[page] = ord + 1
			}
		}
	}

	out := types.CloneUnits(units)
	seen := make(map[string]bool, len(out))
	for i := range out {
		key := out[i].ID.String()
		if !seen[key] {
			seen[key] = true
			continue
		}
		page := out[i].PageRange.First()
		if nextOrdinal[page] == 0 {
			nextOrdinal[page] = 1
		}
		ph := ident.Placeholder(page, nextOrdinal[page])
		nextOrdinal[page]++
		out[i].ID = ph
		out[i].AddAnomaly(types.Anomaly{
			Kind:     types.KindDuplicateIdentifier,
			Severity: types.SeverityReview,
			Message:  fmt.Sprintf("identifier %s already used earlier in the document", key),
			Page:     page,
			Related:  []string{key},
		})
		seen[ph.String()] = true
	}
	return out
}
