package neo4j

import (
	"fmt"

	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/store"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// resultConverter turns driver values into a GraphResult. Relationships are
// resolved on Result so their endpoints may arrive in any order.
type resultConverter struct {
	gb      *common.GraphBuilder
	ids     map[string]string
	rels    []neo4jv5.Relationship
	matched map[string][]string
}

func newResultConverter() *resultConverter {
	return &resultConverter{
		gb:      common.NewGraphBuilder(),
		ids:     make(map[string]string),
		matched: make(map[string][]string),
	}
}

func (c *resultConverter) Add(v any) {
	switch val := v.(type) {
	case neo4jv5.Node:
		c.addNode(val)
	case neo4jv5.Relationship:
		c.rels = append(c.rels, val)
	case neo4jv5.Path:
		for _, n := range val.Nodes {
			c.addNode(n)
		}
		c.rels = append(c.rels, val.Relationships...)
	case []any:
		for _, item := range val {
			c.Add(item)
		}
	case map[string]any:
		for _, item := range val {
			c.Add(item)
		}
	}
}

func (c *resultConverter) addNode(n neo4jv5.Node) {
	if _, ok := c.ids[n.ElementId]; ok {
		return
	}
	id, label, key := nodeIdentity(n)
	c.ids[n.ElementId] = id
	if key != "" {
		c.matched[label] = append(c.matched[label], key)
	}

	props := make(map[string]any, len(n.Props))
	for k, v := range n.Props {
		if k == "embedding" {
			continue
		}
		props[k] = v
	}
	c.gb.AddNode(common.GraphNode{ID: id, Label: label, Properties: props})
}

func (c *resultConverter) Result() *common.GraphResult {
	for _, r := range c.rels {
		props := make(map[string]any, len(r.Props))
		for k, v := range r.Props {
			props[k] = v
		}
		c.gb.AddEdge(common.GraphEdge{
			Source:     c.endpoint(r.StartElementId),
			Target:     c.endpoint(r.EndElementId),
			Label:      r.Type,
			Properties: props,
		})
	}
	c.rels = nil
	return c.gb.Result()
}

func (c *resultConverter) endpoint(elementID string) string {
	if id, ok := c.ids[elementID]; ok {
		return id
	}
	return "node:" + elementID
}

// nodeIdentity derives the stable result id of a node from its label and key
// property. Nodes without a known label fall back to the element id.
func nodeIdentity(n neo4jv5.Node) (id, label, key string) {
	for _, l := range n.Labels {
		switch l {
		case store.LabelArticle:
			if k := stringProp(n.Props, "id"); k != "" {
				return store.ArticleNodeID(k), l, k
			}
		case store.LabelEntity:
			if k := stringProp(n.Props, "normalizedId"); k != "" {
				return store.EntityNodeID(k), l, k
			}
		case store.LabelAuthor:
			if k := stringProp(n.Props, "name"); k != "" {
				return store.AuthorNodeID(k), l, k
			}
		}
	}
	label = ""
	if len(n.Labels) > 0 {
		label = n.Labels[0]
	}
	return "node:" + n.ElementId, label, ""
}

func stringProp(props map[string]any, key string) string {
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
