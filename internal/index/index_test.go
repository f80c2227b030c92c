package index

import (
	"context"
	"hash/fnv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bagEmbedder is a deterministic bag-of-words embedder for tests: each token
// hashes to a dimension, so texts sharing words land near each other.
type bagEmbedder struct{ dims int }

func (e bagEmbedder) Dimensions() int { return e.dims }

func (e bagEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, e.dims)
		for _, tok := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(tok))
			vec[int(h.Sum32())%e.dims]++
		}
		out[i] = vec
	}
	return out, nil
}

func rec(doc, seg string, idx int, kw string) *Record {
	return &Record{
		DocumentID:   doc,
		SegmentID:    seg,
		SegmentIndex: idx,
		WorkflowID:   "wf-" + doc,
		Status:       "completed",
		Keywords:     kw,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
}

func TestMergeResults_VectorFirstDedupTruncate(t *testing.T) {
	t.Parallel()
	a := rec("d1", "s1", 0, "")
	b := rec("d1", "s2", 1, "")
	c := rec("d2", "s1", 0, "")

	merged := MergeResults([]*Record{a, b}, []*Record{b, c}, 10)
	require.Len(t, merged, 3)
	// Vector hits lead; re-appearance of b keeps the earlier occurrence.
	assert.Same(t, a, merged[0])
	assert.Same(t, b, merged[1])
	assert.Same(t, c, merged[2])

	truncated := MergeResults([]*Record{a, b}, []*Record{c}, 2)
	require.Len(t, truncated, 2)
	assert.Same(t, a, truncated[0])
	assert.Same(t, b, truncated[1])
}

func TestMergeResults_NeverExceedsLimit(t *testing.T) {
	t.Parallel()
	var vector, fts []*Record
	for i := 0; i < 20; i++ {
		vector = append(vector, rec("d1", "v"+string(rune('a'+i)), i, ""))
		fts = append(fts, rec("d2", "f"+string(rune('a'+i)), i, ""))
	}
	assert.Len(t, MergeResults(vector, fts, 5), 5)
}

func TestMemory_UpsertIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory(bagEmbedder{dims: 16})

	r := rec("d1", "s1", 0, "alpha")
	r.ContentCombined = "first"
	require.NoError(t, m.Upsert(ctx, r))

	r2 := rec("d1", "s1", 0, "alpha")
	r2.ContentCombined = "second"
	require.NoError(t, m.Upsert(ctx, r2))

	segs, err := m.GetSegments(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "second", segs[0].ContentCombined)
}

func TestMemory_GetSegmentsOrdered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory(bagEmbedder{dims: 16})

	for _, i := range []int{2, 0, 1} {
		r := rec("d1", "s"+string(rune('0'+i)), i, "")
		require.NoError(t, m.Upsert(ctx, r))
	}
	segs, err := m.GetSegments(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, segs, 3)
	for i, s := range segs {
		assert.Equal(t, i, s.SegmentIndex)
	}
}

func TestMemory_SearchFindsZeroVectorViaFTS(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	emb := bagEmbedder{dims: 16}
	m := NewMemory(emb)

	good := rec("d1", "s0", 0, "alpha")
	vecs, err := emb.EmbedTexts(ctx, []string{"alpha"})
	require.NoError(t, err)
	good.Vector = vecs[0]
	require.NoError(t, m.Upsert(ctx, good))

	// Embedder failed for this one: zero vector, but keywords are intact.
	failed := rec("d1", "s1", 1, "beta")
	failed.Vector = make([]float32, 16)
	failed.ZeroVector = true
	require.NoError(t, m.Upsert(ctx, failed))

	hits, err := m.Search(ctx, "beta", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.SegmentID)
	}
	assert.Contains(t, ids, "s1")
}

func TestMemory_DeleteByWorkflow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory(bagEmbedder{dims: 16})

	require.NoError(t, m.Upsert(ctx, rec("d1", "s0", 0, "")))
	require.NoError(t, m.Upsert(ctx, rec("d1", "s1", 1, "")))
	require.NoError(t, m.Upsert(ctx, rec("d2", "s0", 0, "")))

	require.NoError(t, m.DeleteByWorkflow(ctx, "wf-d1"))

	segs, err := m.GetSegments(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, segs)

	segs, err = m.GetSegments(ctx, "d2")
	require.NoError(t, err)
	assert.Len(t, segs, 1)
}
