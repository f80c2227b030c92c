package index

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"docstream/internal/keywords"
)

// Memory implements Store in-process. The vector leg ranks by cosine
// similarity and the FTS leg by keyword-token overlap, which is enough to
// exercise the merge contract in tests.
type Memory struct {
	mu       sync.RWMutex
	records  map[string]*Record // key: documentID + "\x00" + segmentID
	embedder Embedder
}

// NewMemory creates an in-memory hybrid index backed by embedder.
func NewMemory(embedder Embedder) *Memory {
	return &Memory{
		records:  make(map[string]*Record),
		embedder: embedder,
	}
}

func recKey(documentID, segmentID string) string {
	return documentID + "\x00" + segmentID
}

// Upsert adds or replaces by (document_id, segment_id).
func (m *Memory) Upsert(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[recKey(rec.DocumentID, rec.SegmentID)] = &cp
	return nil
}

// UpdateStatus patches status for one segment or the whole document.
func (m *Memory) UpdateStatus(ctx context.Context, documentID, segmentID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, rec := range m.records {
		if rec.DocumentID != documentID {
			continue
		}
		if segmentID != "" && rec.SegmentID != segmentID {
			continue
		}
		rec.Status = status
		rec.UpdatedAt = now
	}
	return nil
}

// GetSegments returns document records in ascending segment_index.
func (m *Memory) GetSegments(ctx context.Context, documentID string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Record
	for _, rec := range m.records {
		if rec.DocumentID == documentID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SegmentIndex < out[j].SegmentIndex })
	return out, nil
}

// Search mirrors the Postgres implementation: independent vector and FTS legs
// merged with the fixed algorithm.
func (m *Memory) Search(ctx context.Context, query string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 10
	}

	vecs, err := m.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	queryVec := vecs[0]

	m.mu.RLock()
	all := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		cp := *rec
		all = append(all, &cp)
	}
	m.mu.RUnlock()

	type scored struct {
		rec   *Record
		score float64
	}

	var vectorHits []scored
	for _, rec := range all {
		if isZero(queryVec) || rec.ZeroVector {
			continue
		}
		vectorHits = append(vectorHits, scored{rec, cosine(queryVec, rec.Vector)})
	}
	sort.SliceStable(vectorHits, func(i, j int) bool { return vectorHits[i].score > vectorHits[j].score })

	queryTokens := strings.Fields(keywords.Extract(query))
	var ftsHits []scored
	if len(queryTokens) > 0 {
		for _, rec := range all {
			overlap := tokenOverlap(queryTokens, strings.Fields(rec.Keywords))
			if overlap > 0 {
				ftsHits = append(ftsHits, scored{rec, float64(overlap)})
			}
		}
		sort.SliceStable(ftsHits, func(i, j int) bool { return ftsHits[i].score > ftsHits[j].score })
	}

	take := func(hits []scored) []*Record {
		n := min(limit, len(hits))
		out := make([]*Record, 0, n)
		for _, h := range hits[:n] {
			out = append(out, h.rec)
		}
		return out
	}

	return MergeResults(take(vectorHits), take(ftsHits), limit), nil
}

// DeleteByWorkflow removes every record owned by the workflow.
func (m *Memory) DeleteByWorkflow(ctx context.Context, workflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, rec := range m.records {
		if rec.WorkflowID == workflowID {
			delete(m.records, key)
		}
	}
	return nil
}

var _ Store = (*Memory)(nil)

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func tokenOverlap(query, doc []string) int {
	set := make(map[string]struct{}, len(doc))
	for _, tok := range doc {
		set[strings.ToLower(tok)] = struct{}{}
	}
	n := 0
	for _, tok := range query {
		if _, ok := set[strings.ToLower(tok)]; ok {
			n++
		}
	}
	return n
}
