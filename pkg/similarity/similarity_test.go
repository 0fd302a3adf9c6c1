package similarity

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1},
		{"zero norm", []float32{0, 0}, []float32{1, 1}, 0},
		{"both zero", []float32{0, 0}, []float32{0, 0}, 0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCosineProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	randVec := func() []float32 {
		v := make([]float32, 16)
		for i := range v {
			v[i] = float32(rng.NormFloat64() * 1e3)
		}
		return v
	}
	for i := 0; i < 200; i++ {
		a, b := randVec(), randVec()
		ab, ba := Cosine(a, b), Cosine(b, a)
		if ab < -1 || ab > 1 {
			t.Fatalf("expected score within [-1, 1], got %v", ab)
		}
		if ab != ba {
			t.Fatalf("expected symmetric score, got %v and %v", ab, ba)
		}
		if self := Cosine(a, a); math.Abs(self-1) > 1e-9 {
			t.Fatalf("expected self similarity 1, got %v", self)
		}
	}
}

func TestCompare(t *testing.T) {
	e := New(0.8, 0)
	batch := []Vector{
		{ID: "3", Values: []float32{1, 0, 0}},
		{ID: "1", Values: []float32{1, 0, 0}},
		{ID: "2", Values: []float32{0.9, 0.1, 0}},
		{ID: "4", Values: []float32{0, 1, 0}},
		{ID: "5", Values: []float32{0, 0, 0}},
	}
	edges := e.Compare(batch)

	want := [][2]string{{"1", "2"}, {"1", "3"}, {"2", "3"}}
	if len(edges) != len(want) {
		t.Fatalf("expected %d edges, got %+v", len(want), edges)
	}
	for i, w := range want {
		if edges[i].A != w[0] || edges[i].B != w[1] {
			t.Fatalf("expected edge %v at %d, got %+v", w, i, edges[i])
		}
		if edges[i].A >= edges[i].B {
			t.Fatalf("expected canonical order, got %+v", edges[i])
		}
	}
	if math.Abs(edges[1].Score-1) > 1e-9 {
		t.Fatalf("expected identical vectors to score 1, got %v", edges[1].Score)
	}
}

func TestCompareThresholdIsExclusive(t *testing.T) {
	batch := []Vector{{ID: "a", Values: []float32{1, 0}}, {ID: "b", Values: []float32{1, 0}}}
	if edges := New(1, 0).Compare(batch); len(edges) != 0 {
		t.Fatalf("expected no edge at score equal to threshold, got %+v", edges)
	}
}

func TestCompareCollapsesDuplicateIDs(t *testing.T) {
	batch := []Vector{
		{ID: "a", Values: []float32{1, 0}},
		{ID: "b", Values: []float32{1, 0}},
		{ID: "a", Values: []float32{0, 1}},
	}
	edges := New(0.5, 0).Compare(batch)
	if len(edges) != 0 {
		t.Fatalf("expected last vector of a to win and no edge, got %+v", edges)
	}
	for _, e := range New(-1, 0).Compare(batch) {
		if e.A == e.B {
			t.Fatalf("expected no self edge, got %+v", e)
		}
	}
}

func TestMaxNeighbors(t *testing.T) {
	// hub is close to everyone, leaves are only close to hub
	batch := []Vector{
		{ID: "hub", Values: []float32{1, 1, 1, 1}},
		{ID: "l1", Values: []float32{1, 1, 1, 0.9}},
		{ID: "l2", Values: []float32{1, 1, 0.9, 1}},
		{ID: "l3", Values: []float32{1, 0.9, 1, 1}},
	}
	all := New(0.9, 0).Compare(batch)
	limited := New(0.9, 1).Compare(batch)
	if len(limited) >= len(all) {
		t.Fatalf("expected fewer edges with a neighbour limit, got %d of %d", len(limited), len(all))
	}
	degree := map[string]int{}
	for _, e := range limited {
		degree[e.A]++
		degree[e.B]++
	}
	for _, id := range []string{"l1", "l2", "l3"} {
		if degree[id] == 0 {
			t.Fatalf("expected %s to keep its best edge, got %+v", id, limited)
		}
	}
}

type pagedHistory struct {
	vectors []Vector
	pages   int
}

func (h *pagedHistory) ScanEmbeddings(ctx context.Context, pageSize int, exclude []string, fn func([]Vector) error) error {
	skip := map[string]bool{}
	for _, id := range exclude {
		skip[id] = true
	}
	var page []Vector
	for _, v := range h.vectors {
		if skip[v.ID] {
			continue
		}
		page = append(page, v)
		if len(page) == pageSize {
			h.pages++
			if err := fn(page); err != nil {
				return err
			}
			page = nil
		}
	}
	if len(page) > 0 {
		h.pages++
		return fn(page)
	}
	return nil
}

func TestCompareWithHistoryMatchesFullComparison(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	base := []float32{1, 1, 1, 1, 1, 1}
	var all []Vector
	for i := 0; i < 30; i++ {
		v := make([]float32, len(base))
		for d := range v {
			v[d] = base[d] + float32(rng.Float64()*0.8)
		}
		all = append(all, Vector{ID: string(rune('A' + i)), Values: v})
	}
	batch, old := all[:10], all[10:]

	e := New(0.97, 0)
	history := &pagedHistory{vectors: append(append([]Vector{}, old...), batch[0])}
	got, err := e.CompareWithHistory(context.Background(), batch, history, 4)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if history.pages != 5 {
		t.Fatalf("expected 5 pages of 4 vectors, got %d", history.pages)
	}

	// brute force: every pair touching the batch
	full := e.Compare(all)
	inBatch := map[string]bool{}
	for _, v := range batch {
		inBatch[v.ID] = true
	}
	var want = full[:0]
	for _, edge := range full {
		if inBatch[edge.A] || inBatch[edge.B] {
			want = append(want, edge)
		}
	}
	if len(want) == 0 {
		t.Fatal("expected test data to produce edges")
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %d edges, got %d", len(want), len(got))
	}
}

func TestCompareWithHistoryPropagatesErrors(t *testing.T) {
	boom := errors.New("db down")
	_, err := New(0.8, 0).CompareWithHistory(context.Background(),
		[]Vector{{ID: "a", Values: []float32{1}}}, failingHistory{boom}, 10)
	if !errors.Is(err, boom) {
		t.Fatalf("expected history error, got %v", err)
	}
}

type failingHistory struct{ err error }

func (f failingHistory) ScanEmbeddings(context.Context, int, []string, func([]Vector) error) error {
	return f.err
}
