// Package loader defines where raw BioC XML records come from. Sources
// return the bytes of one collection per article id; parsing happens in the
// pipeline.
package loader

import (
	"context"
	"strings"
)

// ArticleSource fetches the raw BioC XML of one article. Unknown ids yield a
// *common.NotFoundError.
type ArticleSource interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// Searcher resolves a literature query to article ids.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// Lister enumerates the article ids a source holds.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// ValidID reports whether id can be used as part of a file name or object
// key without leaving the source's directory.
func ValidID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/\\\x00") && !strings.Contains(id, "..")
}

// FileNames returns the file names an article may be stored under, in lookup
// order.
func FileNames(id string) []string {
	return []string{"article_" + id + ".xml", id + ".xml"}
}

// IDFromFileName is the inverse of FileNames. ok is false for files that do
// not hold an article.
func IDFromFileName(name string) (id string, ok bool) {
	if !strings.HasSuffix(name, ".xml") {
		return "", false
	}
	id = strings.TrimSuffix(name, ".xml")
	id = strings.TrimPrefix(id, "article_")
	if id == "" {
		return "", false
	}
	return id, true
}
