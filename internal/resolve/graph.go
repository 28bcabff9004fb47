package resolve

import (
	"github.com/jackzampolin/quire/internal/ident"
)

// Graph is the reference graph over a document's units. Nodes live in an
// arena indexed by position; an edge u -> v means u references v, so v must
// be resolved first.
type Graph struct {
	nodes []ident.Identifier
	index map[string]int
	edges [][]int
}

// NewGraph creates a graph with one node per identifier.
func NewGraph(ids []ident.Identifier) *Graph {
	g := &Graph{
		nodes: append([]ident.Identifier(nil), ids...),
		index: make(map[string]int, len(ids)),
		edges: make([][]int, len(ids)),
	}
	for i, id := range ids {
		g.index[id.String()] = i
	}
	return g
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the identifier at index i.
func (g *Graph) Node(i int) ident.Identifier { return g.nodes[i] }

// Lookup returns the node index of id.
func (g *Graph) Lookup(id ident.Identifier) (int, bool) {
	i, ok := g.index[id.String()]
	return i, ok
}

// AddEdge records that from references to. Self references and repeated
// edges are ignored; it reports whether the edge was added.
func (g *Graph) AddEdge(from, to int) bool {
	if from == to {
		return false
	}
	for _, e := range g.edges[from] {
		if e == to {
			return false
		}
	}
	g.edges[from] = append(g.edges[from], to)
	return true
}

// Edges returns the targets of node i in the order they were added.
func (g *Graph) Edges(i int) []int { return g.edges[i] }

// Components returns the strongly connected components in reverse
// topological order: every component appears after all components it
// references.
func (g *Graph) Components() [][]int {
	t := tarjan{
		g:       g,
		index:   make([]int, len(g.nodes)),
		low:     make([]int, len(g.nodes)),
		onStack: make([]bool, len(g.nodes)),
	}
	for i := range t.index {
		t.index[i] = -1
	}
	for v := range g.nodes {
		if t.index[v] < 0 {
			t.strongConnect(v)
		}
	}
	return t.components
}

type tarjan struct {
	g          *Graph
	next       int
	index      []int
	low        []int
	onStack    []bool
	stack      []int
	components [][]int
}

func (t *tarjan) strongConnect(v int) {
	t.index[v] = t.next
	t.low[v] = t.next
	t.next++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, w := range t.g.edges[v] {
		switch {
		case t.index[w] < 0:
			t.strongConnect(w)
			t.low[v] = min(t.low[v], t.low[w])
		case t.onStack[w]:
			t.low[v] = min(t.low[v], t.index[w])
		}
	}

	if t.low[v] != t.index[v] {
		return
	}
	var comp []int
	for {
		w := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[w] = false
		comp = append(comp, w)
		if w == v {
			break
		}
	}
	t.components = append(t.components, comp)
}

// Layers groups components so that every component only references
// components in earlier layers. Layer 0 holds the leaves.
func (g *Graph) Layers() [][][]int {
	comps := g.Components()
	compOf := make([]int, len(g.nodes))
	for ci, comp := range comps {
		for _, v := range comp {
			compOf[v] = ci
		}
	}

	depth := make([]int, len(comps))
	var layers [][][]int
	for ci, comp := range comps {
		d := 0
		for _, v := range comp {
			for _, w := range g.edges[v] {
				if cw := compOf[w]; cw != ci {
					d = max(d, depth[cw]+1)
				}
			}
		}
		depth[ci] = d
		for len(layers) <= d {
			layers = append(layers, nil)
		}
		layers[d] = append(layers[d], comp)
	}
	return layers
}
