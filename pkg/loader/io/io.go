package io

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/loader"
)

// IOArticleSource reads BioC XML files from a local directory. Files are
// named article_<id>.xml or <id>.xml. Results are cached.
type IOArticleSource struct {
	dir   string
	cache *loader.Cache
}

func NewIOArticleSource(dir string) *IOArticleSource {
	return &IOArticleSource{dir: dir, cache: loader.NewCache()}
}

func (s *IOArticleSource) Fetch(ctx context.Context, id string) ([]byte, error) {
	if !loader.ValidID(id) {
		return nil, &common.NotFoundError{ID: id}
	}
	return s.cache.Get(ctx, id, func(ctx context.Context) ([]byte, error) {
		for _, name := range loader.FileNames(id) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			b, err := os.ReadFile(filepath.Join(s.dir, name))
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", name, err)
			}
			return b, nil
		}
		return nil, &common.NotFoundError{ID: id}
	})
}

// List returns the ids of all article files in the directory, sorted.
func (s *IOArticleSource) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}
	seen := make(map[string]struct{}, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := loader.IDFromFileName(e.Name())
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
