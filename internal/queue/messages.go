package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pubgraph/backend/internal/util"
)

// IngestMsg asks the worker to ingest articles. Either IDs or Query must be
// set; a query is resolved to ids through the source's search.
type IngestMsg struct {
	RunID string   `json:"run_id"`
	IDs   []string `json:"ids,omitempty"`
	Query string   `json:"query,omitempty"`
	Limit int      `json:"limit,omitempty"`
}

// SimilarityMsg asks the worker to recompute all similarity edges.
type SimilarityMsg struct {
	RunID string `json:"run_id"`
}

var (
	ErrEmptyIngest = errors.New("ingest message needs ids or a query")
	ErrInvalidID   = errors.New("invalid article id")
)

// Normalize cleans the ids and fills in a run id. Ids must be PubMed ids.
func (m *IngestMsg) Normalize() error {
	m.IDs = util.ParseArticleIDs(m.IDs...)
	m.Query = strings.TrimSpace(m.Query)
	if len(m.IDs) == 0 && m.Query == "" {
		return ErrEmptyIngest
	}
	for _, id := range m.IDs {
		if !util.IsNumericID(id) {
			return fmt.Errorf("%w %q", ErrInvalidID, id)
		}
	}
	if m.RunID == "" {
		m.RunID = util.NewRunID()
	}
	return nil
}

func DecodeIngestMsg(body []byte) (*IngestMsg, error) {
	msg := new(IngestMsg)
	if err := json.Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("decode ingest message: %w", err)
	}
	if err := msg.Normalize(); err != nil {
		return nil, err
	}
	return msg, nil
}

// PublishIngest normalises msg and puts it on the ingest queue.
func PublishIngest(ctx context.Context, ch Channel, msg IngestMsg) (*IngestMsg, error) {
	if err := msg.Normalize(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if err := PublishFIFO(ctx, ch, IngestQueue, b); err != nil {
		return nil, err
	}
	return &msg, nil
}

func PublishSimilarityRebuild(ctx context.Context, ch Channel) (*SimilarityMsg, error) {
	msg := SimilarityMsg{RunID: util.NewRunID()}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if err := PublishFIFO(ctx, ch, SimilarityQueue, b); err != nil {
		return nil, err
	}
	return &msg, nil
}
