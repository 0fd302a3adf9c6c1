// Package similarity derives SIMILAR_TO edges from article embeddings.
package similarity

import (
	"context"
	"math"
	"sort"

	"github.com/pubgraph/backend/pkg/common"
)

const DefaultThreshold = 0.8

// Vector is the embedding of one article.
type Vector struct {
	ID     string
	Values []float32
}

// HistorySource pages through previously persisted vectors. Vectors whose id
// is in exclude must not be returned.
type HistorySource interface {
	ScanEmbeddings(ctx context.Context, pageSize int, exclude []string, fn func([]Vector) error) error
}

// Engine selects which article pairs become edges. A pair is kept when its
// cosine similarity is strictly greater than Threshold. With MaxNeighbors > 0
// an edge must also rank among the MaxNeighbors best edges of at least one of
// its endpoints. The cap only sees the edges of one call: a persisted article
// keeps the edges of earlier runs, so across runs it can end up with more than
// MaxNeighbors.
type Engine struct {
	Threshold    float64
	MaxNeighbors int
}

func New(threshold float64, maxNeighbors int) *Engine {
	return &Engine{Threshold: threshold, MaxNeighbors: maxNeighbors}
}

// Cosine returns dot(a, b) / (|a| |b|) clamped to [-1, 1]. Vectors of
// different length or with zero norm yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	return cosineFrom(dot, math.Sqrt(na), math.Sqrt(nb))
}

func cosineFrom(dot, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / (na * nb)
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	case math.IsNaN(s):
		return 0
	}
	return s
}

type prepared struct {
	id   string
	vals []float32
	norm float64
}

func prepare(vs []Vector) []prepared {
	// last occurrence of an id wins, first position is kept
	pos := make(map[string]int, len(vs))
	out := make([]prepared, 0, len(vs))
	for _, v := range vs {
		if v.ID == "" {
			continue
		}
		p := prepared{id: v.ID, vals: v.Values, norm: norm(v.Values)}
		if i, ok := pos[v.ID]; ok {
			out[i] = p
			continue
		}
		pos[v.ID] = len(out)
		out = append(out, p)
	}
	return out
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func score(a, b prepared) float64 {
	if len(a.vals) != len(b.vals) || len(a.vals) == 0 {
		return 0
	}
	var dot float64
	for i := range a.vals {
		dot += float64(a.vals[i]) * float64(b.vals[i])
	}
	return cosineFrom(dot, a.norm, b.norm)
}

// Compare scores all pairs of the batch.
func (e *Engine) Compare(batch []Vector) []common.SimilarityEdge {
	ps := prepare(batch)
	acc := newCollector()
	e.pairsWithin(ps, acc)
	return e.finish(acc)
}

// CompareWithHistory scores all pairs of the batch plus every batch vector
// against the persisted vectors served page by page by history. Only the batch
// and a single page are held in memory.
func (e *Engine) CompareWithHistory(ctx context.Context, batch []Vector, history HistorySource, pageSize int) ([]common.SimilarityEdge, error) {
	ps := prepare(batch)
	acc := newCollector()
	e.pairsWithin(ps, acc)

	if history != nil && len(ps) > 0 {
		exclude := make([]string, len(ps))
		inBatch := make(map[string]struct{}, len(ps))
		for i, p := range ps {
			exclude[i] = p.id
			inBatch[p.id] = struct{}{}
		}

		err := history.ScanEmbeddings(ctx, pageSize, exclude, func(page []Vector) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, hv := range page {
				if _, ok := inBatch[hv.ID]; ok || hv.ID == "" {
					continue
				}
				h := prepared{id: hv.ID, vals: hv.Values, norm: norm(hv.Values)}
				for _, p := range ps {
					e.consider(p, h, acc)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return e.finish(acc), nil
}

func (e *Engine) pairsWithin(ps []prepared, acc *collector) {
	for i := 0; i < len(ps); i++ {
		for j := i + 1; j < len(ps); j++ {
			e.consider(ps[i], ps[j], acc)
		}
	}
}

func (e *Engine) consider(a, b prepared, acc *collector) {
	if a.id == b.id {
		return
	}
	s := score(a, b)
	if s <= e.Threshold {
		return
	}
	edge, err := common.NewSimilarityEdge(a.id, b.id, s)
	if err != nil {
		return
	}
	acc.add(edge)
}

type collector struct {
	edges map[string]common.SimilarityEdge
}

func newCollector() *collector {
	return &collector{edges: make(map[string]common.SimilarityEdge)}
}

func (c *collector) add(e common.SimilarityEdge) {
	c.edges[e.Key()] = e
}

func (e *Engine) finish(acc *collector) []common.SimilarityEdge {
	out := make([]common.SimilarityEdge, 0, len(acc.edges))
	for _, edge := range acc.edges {
		out = append(out, edge)
	}
	if e.MaxNeighbors > 0 {
		out = topNeighbors(out, e.MaxNeighbors)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// topNeighbors keeps an edge when it is among the n best edges of either
// endpoint. Ties are broken by the id of the other endpoint.
func topNeighbors(edges []common.SimilarityEdge, n int) []common.SimilarityEdge {
	incident := make(map[string][]int)
	for i, e := range edges {
		incident[e.A] = append(incident[e.A], i)
		incident[e.B] = append(incident[e.B], i)
	}

	keep := make([]bool, len(edges))
	for node, idx := range incident {
		other := func(i int) string {
			if edges[i].A == node {
				return edges[i].B
			}
			return edges[i].A
		}
		sort.Slice(idx, func(x, y int) bool {
			ex, ey := edges[idx[x]], edges[idx[y]]
			if ex.Score != ey.Score {
				return ex.Score > ey.Score
			}
			return other(idx[x]) < other(idx[y])
		})
		for k := 0; k < len(idx) && k < n; k++ {
			keep[idx[k]] = true
		}
	}

	out := edges[:0]
	for i, e := range edges {
		if keep[i] {
			out = append(out, e)
		}
	}
	return out
}
