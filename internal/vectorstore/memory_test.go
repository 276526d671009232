package vectorstore

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedTaxRecords(t *testing.T) *MemoryCollection {
	t.Helper()
	c := NewMemoryCollection("manifestos")
	err := c.Upsert(t.Context(),
		[]string{"a", "b"},
		[][]float32{{1, 0}, {0, 1}},
		[]map[string]any{{"partyName": "Blue"}, {"partyName": "Red"}},
		[]string{"tax cut", "tax hike"},
	)
	require.NoError(t, err)
	return c
}

func TestMemoryCollection_TaxScenario(t *testing.T) {
	t.Parallel()
	c := seedTaxRecords(t)

	got := c.Query(t.Context(), [][]float32{{1, 0}}, 1)
	assert.Equal(t, [][]string{{"tax cut"}}, got)

	got = c.Query(t.Context(), [][]float32{{0, 1}}, 2)
	assert.Equal(t, [][]string{{"tax hike", "tax cut"}}, got)
}

func TestMemoryCollection_SelfRetrieval(t *testing.T) {
	t.Parallel()
	c := NewMemoryCollection("self")
	vectors := [][]float32{
		{0.9, 0.1, 0.0},
		{0.1, 0.9, 0.2},
		{0.0, 0.3, 0.95},
		{-0.5, 0.5, 0.1},
	}
	ids := make([]string, len(vectors))
	docs := make([]string, len(vectors))
	for i := range vectors {
		ids[i] = fmt.Sprintf("chunk-%d", i)
		docs[i] = fmt.Sprintf("content %d", i)
	}
	require.NoError(t, c.Upsert(t.Context(), ids, vectors, nil, docs))

	for i, v := range vectors {
		got := c.Query(t.Context(), [][]float32{v}, 1)
		require.Len(t, got, 1)
		assert.Equal(t, []string{docs[i]}, got[0], "vector %d", i)
	}
}

func TestMemoryCollection_UpsertReplaces(t *testing.T) {
	t.Parallel()
	c := seedTaxRecords(t)

	err := c.Upsert(t.Context(),
		[]string{"a"},
		[][]float32{{0.6, 0.8}},
		[]map[string]any{{"partyName": "Green"}},
		[]string{"tax reform"},
	)
	require.NoError(t, err)

	n, err := c.Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{0.6, 0.8}, rec.Embedding)
	assert.Equal(t, "Green", rec.Metadata["partyName"])
	assert.Equal(t, "tax reform", rec.Content)
}

func TestMemoryCollection_UpsertKeepsAbsentFields(t *testing.T) {
	t.Parallel()
	c := seedTaxRecords(t)

	// Only the content is supplied; embedding and metadata stay.
	require.NoError(t, c.Upsert(t.Context(), []string{"a"}, nil, nil, []string{"tax cut v2"}))
	rec, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0}, rec.Embedding)
	assert.Equal(t, "Blue", rec.Metadata["partyName"])
	assert.Equal(t, "tax cut v2", rec.Content)

	// A nil entry inside a non-nil slice is also absent.
	require.NoError(t, c.Upsert(t.Context(), []string{"a"}, [][]float32{nil}, []map[string]any{nil}, nil))
	rec, _ = c.Get("a")
	assert.Equal(t, []float32{1, 0}, rec.Embedding)
	assert.Equal(t, "tax cut v2", rec.Content)
}

func TestMemoryCollection_UpsertCopiesInput(t *testing.T) {
	t.Parallel()
	c := NewMemoryCollection("copy")
	vec := []float32{1, 0}
	require.NoError(t, c.Upsert(t.Context(), []string{"a"}, [][]float32{vec}, nil, []string{"x"}))

	vec[0] = 0
	rec, _ := c.Get("a")
	assert.Equal(t, []float32{1, 0}, rec.Embedding)
}

func TestMemoryCollection_KLargerThanCount(t *testing.T) {
	t.Parallel()
	c := seedTaxRecords(t)

	got := c.Query(t.Context(), [][]float32{{0.2, 1}}, 10)
	assert.Equal(t, [][]string{{"tax hike", "tax cut"}}, got)
}

func TestMemoryCollection_NonPositiveK(t *testing.T) {
	t.Parallel()
	c := seedTaxRecords(t)

	for _, k := range []int{0, -3} {
		got := c.Query(t.Context(), [][]float32{{1, 0}}, k)
		require.Len(t, got, 1)
		assert.Empty(t, got[0], "k=%d", k)
	}
}

func TestMemoryCollection_MismatchedDimensionsExcluded(t *testing.T) {
	t.Parallel()
	c := seedTaxRecords(t)
	require.NoError(t, c.Upsert(t.Context(),
		[]string{"c"},
		[][]float32{{1, 0, 0}},
		nil,
		[]string{"three dims"},
	))

	got := c.Query(t.Context(), [][]float32{{1, 0}}, 5)
	assert.Equal(t, [][]string{{"tax cut", "tax hike"}}, got)
}

func TestMemoryCollection_NoMatchingDimensionFallsBackToInsertionOrder(t *testing.T) {
	t.Parallel()
	c := seedTaxRecords(t)

	got := c.Query(t.Context(), [][]float32{{1, 0, 0, 0}}, 1)
	assert.Equal(t, [][]string{{"tax cut"}}, got)
}

func TestMemoryCollection_EmptyQueryFallsBackToInsertionOrder(t *testing.T) {
	t.Parallel()
	c := seedTaxRecords(t)

	got := c.Query(t.Context(), [][]float32{{}}, 2)
	assert.Equal(t, [][]string{{"tax cut", "tax hike"}}, got)
}

func TestMemoryCollection_RecordsWithoutEmbeddingAreNotRanked(t *testing.T) {
	t.Parallel()
	c := NewMemoryCollection("partial")
	require.NoError(t, c.Upsert(t.Context(), []string{"bare"}, nil, nil, []string{"no vector"}))
	require.NoError(t, c.Upsert(t.Context(), []string{"v"}, [][]float32{{0, 1}}, nil, []string{"vector"}))

	got := c.Query(t.Context(), [][]float32{{1, 0}}, 2)
	assert.Equal(t, [][]string{{"vector"}}, got)
}

func TestMemoryCollection_TiesKeepInsertionOrder(t *testing.T) {
	t.Parallel()
	c := NewMemoryCollection("ties")
	require.NoError(t, c.Upsert(t.Context(),
		[]string{"first", "second", "third"},
		[][]float32{{1, 2}, {1, 2}, {1, 2}},
		nil,
		[]string{"first", "second", "third"},
	))

	got := c.Query(t.Context(), [][]float32{{1, 1}}, 3)
	assert.Equal(t, [][]string{{"first", "second", "third"}}, got)
}

func TestMemoryCollection_MultipleQueries(t *testing.T) {
	t.Parallel()
	c := seedTaxRecords(t)

	got := c.Query(t.Context(), [][]float32{{1, 0}, {0, 1}}, 1)
	assert.Equal(t, [][]string{{"tax cut"}, {"tax hike"}}, got)
}

func TestMemoryCollection_LengthMismatch(t *testing.T) {
	t.Parallel()
	c := NewMemoryCollection("bad")

	err := c.Upsert(t.Context(), []string{"a", "b"}, [][]float32{{1}}, nil, nil)
	require.ErrorIs(t, err, ErrLengthMismatch)

	err = c.Upsert(t.Context(), []string{"a"}, nil, nil, []string{"x", "y"})
	require.ErrorIs(t, err, ErrLengthMismatch)

	n, _ := c.Count(t.Context())
	assert.Zero(t, n)
}

func TestMemoryCollection_EmptyIDRejected(t *testing.T) {
	t.Parallel()
	c := NewMemoryCollection("bad")

	err := c.Upsert(t.Context(), []string{"a", ""}, nil, nil, []string{"x", "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index 1")
}

func TestMemoryCollection_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	c := NewMemoryCollection("concurrent")

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				id := fmt.Sprintf("w%d-%d", w, i)
				_ = c.Upsert(t.Context(), []string{id}, [][]float32{{float32(w), float32(i)}}, nil, []string{id})
				_ = c.Query(t.Context(), [][]float32{{1, 1}}, 3)
			}
		}()
	}
	wg.Wait()

	n, err := c.Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 400, n)
}
