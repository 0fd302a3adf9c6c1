package common

// GraphNode is a node in the exchange shape handed to the web layer.
type GraphNode struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphEdge is an edge in the exchange shape handed to the web layer.
type GraphEdge struct {
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphResult is the {nodes, edges} document returned by graph queries.
type GraphResult struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// GraphBuilder accumulates a GraphResult while dropping duplicate nodes and
// edges.
type GraphBuilder struct {
	nodes    []GraphNode
	edges    []GraphEdge
	seenNode map[string]struct{}
	seenEdge map[string]struct{}
}

func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		seenNode: make(map[string]struct{}),
		seenEdge: make(map[string]struct{}),
	}
}

func (b *GraphBuilder) AddNode(n GraphNode) {
	if _, ok := b.seenNode[n.ID]; ok {
		return
	}
	b.seenNode[n.ID] = struct{}{}
	b.nodes = append(b.nodes, n)
}

func (b *GraphBuilder) AddEdge(e GraphEdge) {
	key := e.Source + "\x1f" + e.Target + "\x1f" + e.Label
	if _, ok := b.seenEdge[key]; ok {
		return
	}
	b.seenEdge[key] = struct{}{}
	b.edges = append(b.edges, e)
}

func (b *GraphBuilder) HasNode(id string) bool {
	_, ok := b.seenNode[id]
	return ok
}

func (b *GraphBuilder) Len() int {
	return len(b.nodes)
}

func (b *GraphBuilder) Result() *GraphResult {
	nodes := b.nodes
	if nodes == nil {
		nodes = []GraphNode{}
	}
	edges := b.edges
	if edges == nil {
		edges = []GraphEdge{}
	}
	return &GraphResult{Nodes: nodes, Edges: edges}
}
