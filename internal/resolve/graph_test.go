package resolve

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jackzampolin/quire/internal/ident"
)

func graphOf(t *testing.T, ids []string, edges map[string][]string) *Graph {
	t.Helper()
	parsed := make([]ident.Identifier, len(ids))
	for i, s := range ids {
		parsed[i] = ident.MustParse(s)
	}
	g := NewGraph(parsed)
	for from, tos := range edges {
		fi, ok := g.Lookup(ident.MustParse(from))
		if !ok {
			t.Fatalf("unknown node %s", from)
		}
		for _, to := range tos {
			ti, ok := g.Lookup(ident.MustParse(to))
			if !ok {
				t.Fatalf("unknown node %s", to)
			}
			g.AddEdge(fi, ti)
		}
	}
	return g
}

func layerNames(g *Graph) [][]string {
	var out [][]string
	for _, layer := range g.Layers() {
		var names []string
		for _, comp := range layer {
			ids := componentIDs(g, comp)
			for _, id := range ids {
				names = append(names, id.String())
			}
		}
		out = append(out, names)
	}
	return out
}

func TestGraph_LayersChain(t *testing.T) {
	g := graphOf(t, []string{"2.5", "2.6", "2.7"}, map[string][]string{
		"2.7": {"2.6"},
		"2.6": {"2.5"},
	})
	want := [][]string{{"2.5"}, {"2.6"}, {"2.7"}}
	if diff := cmp.Diff(want, layerNames(g)); diff != "" {
		t.Errorf("layers (-want +got):\n%s", diff)
	}
}

func TestGraph_CycleIsOneComponent(t *testing.T) {
	g := graphOf(t, []string{"1.1", "2.5", "2.6", "3.1"}, map[string][]string{
		"2.5": {"2.6", "1.1"},
		"2.6": {"2.5"},
		"3.1": {"2.6"},
	})
	comps := g.Components()
	if len(comps) != 3 {
		t.Fatalf("components = %v", comps)
	}
	want := [][]string{{"1.1"}, {"2.5", "2.6"}, {"3.1"}}
	if diff := cmp.Diff(want, layerNames(g)); diff != "" {
		t.Errorf("layers (-want +got):\n%s", diff)
	}
}

func TestGraph_AddEdge(t *testing.T) {
	g := graphOf(t, []string{"1", "2"}, nil)
	if g.AddEdge(0, 0) {
		t.Error("self edge should be ignored")
	}
	if !g.AddEdge(0, 1) || g.AddEdge(0, 1) {
		t.Error("duplicate edge handling wrong")
	}
	if len(g.Edges(0)) != 1 {
		t.Errorf("edges = %v", g.Edges(0))
	}
}

func TestGraph_IndependentUnitsShareLayer(t *testing.T) {
	g := graphOf(t, []string{"1", "2", "3", "4"}, map[string][]string{
		"3": {"1"},
		"4": {"2"},
	})
	want := [][]string{{"1", "2"}, {"3", "4"}}
	got := layerNames(g)
	for _, layer := range got {
		ident.SortBy(layer, ident.MustParse)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("layers (-want +got):\n%s", diff)
	}
}
