package common

import (
	"fmt"
	"strings"
)

// Passage names used for annotation spans.
const (
	PassageTitle    = "title"
	PassageAbstract = "abstract"
)

// Article represents a single parsed PubTator record. It is the unit of work
// for the ingestion pipeline and is immutable once returned by the parser.
//
// An article contains:
//   - Mentions: the raw annotation spans found in the title and abstract
//   - Relations: the typed entity pairs asserted by the document
//   - Metadata: journal, year, PMC id and author list when present
type Article struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Abstract  string          `json:"abstract"`
	Journal   string          `json:"journal,omitempty"`
	Year      string          `json:"year,omitempty"`
	PMCID     string          `json:"pmcid,omitempty"`
	Authors   []string        `json:"authors,omitempty"`
	Mentions  []EntityMention `json:"mentions"`
	Relations []Relation      `json:"relations"`
}

// Span locates a mention inside a passage. Offset and Length count runes and
// are relative to the start of the passage text.
type Span struct {
	Passage string `json:"passage"`
	Offset  int    `json:"offset"`
	Length  int    `json:"length"`
}

// EntityMention is one annotation of an entity inside an article. Several
// mentions of the same entity collapse into a single Entity node keyed by
// Key().
type EntityMention struct {
	ID         string `json:"id"`
	ArticleID  string `json:"article_id"`
	Type       string `json:"type"`
	Text       string `json:"text"`
	Identifier string `json:"identifier,omitempty"`
	Spans      []Span `json:"spans"`
}

// Key returns the deduplication key of the mentioned entity.
func (m EntityMention) Key() string {
	return EntityKey(m.Type, m.Identifier, m.Text)
}

// Entity is the deduplicated node for all mentions sharing a key.
type Entity struct {
	Key        string `json:"key"`
	Type       string `json:"type"`
	Name       string `json:"name"`
	Identifier string `json:"identifier,omitempty"`
}

// EntityRef points at an entity by type and normalized identifier, as found
// in the role infons of a relation ("Gene|7157").
type EntityRef struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
}

// Key returns the deduplication key the reference resolves to.
func (r EntityRef) Key() string {
	return EntityKey(r.Type, r.Identifier, r.Identifier)
}

// ParseEntityRef splits a role infon of the form "Type|Identifier". A value
// without a separator is treated as a bare identifier.
func ParseEntityRef(role string) (EntityRef, bool) {
	role = strings.TrimSpace(role)
	if role == "" {
		return EntityRef{}, false
	}
	typ, id, found := strings.Cut(role, "|")
	if !found {
		return EntityRef{Identifier: role}, true
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return EntityRef{}, false
	}
	return EntityRef{Type: strings.TrimSpace(typ), Identifier: id}, true
}

// Relation is a directed, typed association between two entities asserted by
// one article. Its identity is (article, source key, target key, type).
type Relation struct {
	ID        string    `json:"id"`
	ArticleID string    `json:"article_id"`
	Type      string    `json:"type"`
	Source    EntityRef `json:"source"`
	Target    EntityRef `json:"target"`
	Score     float64   `json:"score,omitempty"`
}

// Key returns the identity of the relation within the graph.
func (r Relation) Key() string {
	return r.ArticleID + "\x1f" + r.Source.Key() + "\x1f" + r.Target.Key() + "\x1f" + r.Type
}

// SimilarityEdge is an undirected similarity between two distinct articles.
// A always sorts before B so an unordered pair has exactly one representation.
type SimilarityEdge struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Score float64 `json:"score"`
}

// NewSimilarityEdge canonicalises the pair order and rejects self pairs.
func NewSimilarityEdge(a, b string, score float64) (SimilarityEdge, error) {
	if a == b {
		return SimilarityEdge{}, fmt.Errorf("similarity edge from %q to itself", a)
	}
	if b < a {
		a, b = b, a
	}
	return SimilarityEdge{A: a, B: b, Score: score}, nil
}

// Key returns the canonical pair key.
func (e SimilarityEdge) Key() string {
	return e.A + "\x1f" + e.B
}

// EntityKey builds the deduplication key for an entity. A resolvable
// normalized identifier wins, otherwise the key falls back to the entity type
// and the lowercased surface text.
func EntityKey(typ, identifier, text string) string {
	if IsResolvableIdentifier(identifier) {
		return strings.TrimSpace(identifier)
	}
	return strings.ToLower(strings.TrimSpace(typ)) + ":" + strings.ToLower(strings.TrimSpace(text))
}

// IsResolvableIdentifier reports whether a normalized identifier can be used
// as an entity key. PubTator uses "-" for unresolved concepts.
func IsResolvableIdentifier(identifier string) bool {
	identifier = strings.TrimSpace(identifier)
	return identifier != "" && identifier != "-"
}

// Entities collapses the mentions of an article into entity nodes and counts
// how often each key was mentioned. The first mention of a key names the node.
func (a *Article) Entities() ([]Entity, map[string]int) {
	counts := make(map[string]int, len(a.Mentions))
	out := make([]Entity, 0, len(a.Mentions))
	for _, m := range a.Mentions {
		key := m.Key()
		if _, ok := counts[key]; !ok {
			id := ""
			if IsResolvableIdentifier(m.Identifier) {
				id = strings.TrimSpace(m.Identifier)
			}
			out = append(out, Entity{Key: key, Type: m.Type, Name: m.Text, Identifier: id})
		}
		counts[key] += max(len(m.Spans), 1)
	}
	return out, counts
}

// Text returns the title and abstract joined the way they are embedded.
func (a *Article) Text() string {
	return ComposeText(a.Title, a.Abstract)
}

// ComposeText joins title and abstract with a single space. An empty abstract
// is omitted.
func ComposeText(title, abstract string) string {
	title = strings.TrimSpace(title)
	abstract = strings.TrimSpace(abstract)
	if abstract == "" {
		return title
	}
	if title == "" {
		return abstract
	}
	return title + " " + abstract
}
