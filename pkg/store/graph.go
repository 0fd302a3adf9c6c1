package store

import (
	"github.com/pubgraph/backend/pkg/common"
)

// Node labels and edge types of the persisted graph.
const (
	LabelArticle = "Article"
	LabelEntity  = "Entity"
	LabelAuthor  = "Author"

	EdgeMentions  = "MENTIONS"
	EdgeRelation  = "RELATION"
	EdgeSimilarTo = "SIMILAR_TO"
	EdgeAuthored  = "AUTHORED"
)

// Node ids in query results carry their label so an article and an entity
// with the same raw id never collide.
func ArticleNodeID(id string) string { return "article:" + id }
func EntityNodeID(key string) string { return "entity:" + key }
func AuthorNodeID(name string) string { return "author:" + name }

func ArticleNode(a common.Article) common.GraphNode {
	props := map[string]any{
		"id":       a.ID,
		"title":    a.Title,
		"abstract": a.Abstract,
	}
	if a.Journal != "" {
		props["journal"] = a.Journal
	}
	if a.Year != "" {
		props["year"] = a.Year
	}
	if a.PMCID != "" {
		props["pmcid"] = a.PMCID
	}
	if len(a.Authors) > 0 {
		props["authors"] = a.Authors
	}
	return common.GraphNode{ID: ArticleNodeID(a.ID), Label: LabelArticle, Properties: props}
}

func EntityGraphNode(e common.Entity) common.GraphNode {
	return common.GraphNode{
		ID:    EntityNodeID(e.Key),
		Label: LabelEntity,
		Properties: map[string]any{
			"normalizedId": e.Key,
			"type":         e.Type,
			"name":         e.Name,
		},
	}
}

func AuthorNode(name string) common.GraphNode {
	return common.GraphNode{ID: AuthorNodeID(name), Label: LabelAuthor, Properties: map[string]any{"name": name}}
}

func MentionEdge(articleID, entityKey string, count int) common.GraphEdge {
	return common.GraphEdge{
		Source:     ArticleNodeID(articleID),
		Target:     EntityNodeID(entityKey),
		Label:      EdgeMentions,
		Properties: map[string]any{"count": count},
	}
}

func RelationGraphEdge(r RelationEdge) common.GraphEdge {
	props := map[string]any{"type": r.Type, "article": r.ArticleID}
	if r.Score != 0 {
		props["score"] = r.Score
	}
	return common.GraphEdge{
		Source:     EntityNodeID(r.Source),
		Target:     EntityNodeID(r.Target),
		Label:      EdgeRelation,
		Properties: props,
	}
}

func SimilarityGraphEdge(e common.SimilarityEdge) common.GraphEdge {
	return common.GraphEdge{
		Source:     ArticleNodeID(e.A),
		Target:     ArticleNodeID(e.B),
		Label:      EdgeSimilarTo,
		Properties: map[string]any{"score": e.Score},
	}
}

func AuthoredEdge(name, articleID string) common.GraphEdge {
	return common.GraphEdge{Source: AuthorNodeID(name), Target: ArticleNodeID(articleID), Label: EdgeAuthored}
}
