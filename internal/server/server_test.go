package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/manifesto-rag/internal/ingestion"
	"github.com/54b3r/manifesto-rag/internal/rag"
	"github.com/54b3r/manifesto-rag/internal/vectorstore"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeRetriever records the last call and returns canned values.
type fakeRetriever struct {
	mu         sync.Mutex
	fragments  []string
	err        error
	collection string
	gotQuery   string
	gotTopK    int
	gotColl    string
}

func (f *fakeRetriever) RetrieveFrom(_ context.Context, collection, query string, topK int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotColl, f.gotQuery, f.gotTopK = collection, query, topK
	return f.fragments, f.err
}

func (f *fakeRetriever) Collection() string {
	if f.collection == "" {
		return rag.DefaultCollection
	}
	return f.collection
}

// fakeEmbedder returns vec for every input.
type fakeEmbedder struct{ vec []float32 }

func (f *fakeEmbedder) GenerateEmbedding(context.Context, string) []float32 { return f.vec }

// fakeIngester records the chunks it receives.
type fakeIngester struct {
	report ingestion.Report
	err    error
	got    []rag.Chunk
}

func (f *fakeIngester) Ingest(_ context.Context, chunks []rag.Chunk, progress func(string)) (ingestion.Report, error) {
	f.got = chunks
	progress("done")
	return f.report, f.err
}

func (f *fakeIngester) Collection() string { return rag.DefaultCollection }

// fakeCounter records which collections were counted.
type fakeCounter struct {
	mu      sync.Mutex
	counted []string
}

func (f *fakeCounter) Count(_ context.Context, collection string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counted = append(f.counted, collection)
	return 0, nil
}

func (f *fakeCounter) Backend() string { return "fake" }

// newTestServer builds a bare *Server for calling handlers directly.
func newTestServer() *Server {
	return &Server{
		retriever: &fakeRetriever{},
		embedder:  &fakeEmbedder{},
		cfg:       &Config{RequestTimeout: 5 * time.Second, IngestTimeout: 5 * time.Second, MaxIngestBytes: 1 << 20},
		log:       slog.Default(),
		metrics:   newServerMetrics(prometheus.NewRegistry()),
	}
}

// newWiredServer builds a Server through New so routing and middleware are
// exercised.
func newWiredServer(t *testing.T, deps Deps, cfg *Config) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Logger = slog.Default()
	cfg.MetricsRegistry = reg
	cfg.MetricsGatherer = reg
	s, err := New(deps, cfg)
	require.NoError(t, err)
	t.Cleanup(s.stopRL)
	return s, reg
}

func post(t *testing.T, h http.Handler, path, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_RequiresRetrieverAndEmbedder(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{Embedder: &fakeEmbedder{}}, nil)
	assert.Error(t, err)

	_, err = New(Deps{Retriever: &fakeRetriever{}}, nil)
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	s, _ := newWiredServer(t, Deps{Retriever: &fakeRetriever{}, Embedder: &fakeEmbedder{}}, nil)
	assert.Equal(t, "127.0.0.1:8080", s.Addr())
	assert.Greater(t, s.cfg.WriteTimeout, s.cfg.IngestTimeout)
}

func TestNew_OptionalRoutesAbsent(t *testing.T) {
	t.Parallel()

	s, _ := newWiredServer(t, Deps{Retriever: &fakeRetriever{}, Embedder: &fakeEmbedder{}}, nil)

	w := post(t, s.Handler(), "/api/ingest", `[]`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ---------------------------------------------------------------------------
// POST /api/retrieve
// ---------------------------------------------------------------------------

func TestHandleRetrieve_Success(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{fragments: []string{"cut income tax", "freeze fuel duty"}}
	s := newTestServer()
	s.retriever = r

	w := httptest.NewRecorder()
	s.handleRetrieve(w, httptest.NewRequest(http.MethodPost, "/api/retrieve",
		strings.NewReader(`{"query":"  tax policy ","topK":2}`)))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp retrieveResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, []string{"cut income tax", "freeze fuel duty"}, resp.Fragments)
	assert.Equal(t, rag.DefaultCollection, resp.Collection)
	assert.Empty(t, resp.Message)
	assert.Equal(t, "tax policy", r.gotQuery)
	assert.Equal(t, 2, r.gotTopK)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.retrieveTotal.WithLabelValues(outcomeOK)))
}

func TestHandleRetrieve_CollectionOverride(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{fragments: []string{"x"}}
	s, _ := newWiredServer(t, Deps{Retriever: r, Embedder: &fakeEmbedder{}},
		&Config{Collections: []string{"manifestos-2019", " "}})

	w := post(t, s.Handler(), "/api/retrieve", `{"query":"q","collection":"manifestos-2019"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "manifestos-2019", r.gotColl)
}

func TestHandleRetrieve_UnknownCollectionRejected(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{fragments: []string{"x"}}
	s, _ := newWiredServer(t, Deps{Retriever: r, Embedder: &fakeEmbedder{}},
		&Config{Collections: []string{"manifestos-2019"}})

	w := post(t, s.Handler(), "/api/retrieve", `{"query":"q","collection":"attacker-made"}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"unknown collection \"attacker-made\""}`, w.Body.String())
	assert.Empty(t, r.gotQuery, "retriever must not be called for an unknown collection")
}

func TestHandleRetrieve_IngesterCollectionAllowed(t *testing.T) {
	t.Parallel()

	r := &fakeRetriever{collection: "retrieval-only", fragments: []string{"x"}}
	s, _ := newWiredServer(t, Deps{Retriever: r, Embedder: &fakeEmbedder{}, Ingester: &fakeIngester{}}, nil)

	w := post(t, s.Handler(), "/api/retrieve",
		fmt.Sprintf(`{"query":"q","collection":%q}`, rag.DefaultCollection))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, rag.DefaultCollection, r.gotColl)
}

func TestHandleRetrieve_NoEmbeddingIs502(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.retriever = &fakeRetriever{err: rag.ErrNoEmbedding}

	w := httptest.NewRecorder()
	s.handleRetrieve(w, httptest.NewRequest(http.MethodPost, "/api/retrieve",
		strings.NewReader(`{"query":"q"}`)))

	require.Equal(t, http.StatusBadGateway, w.Code)
	var resp errorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, msgNoEmbedding, resp.Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.retrieveTotal.WithLabelValues(outcomeNoEmbedding)))
}

func TestHandleRetrieve_EmptyResultCarriesMessage(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.retriever = &fakeRetriever{}

	w := httptest.NewRecorder()
	s.handleRetrieve(w, httptest.NewRequest(http.MethodPost, "/api/retrieve",
		strings.NewReader(`{"query":"q"}`)))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t,
		fmt.Sprintf(`{"query":"q","collection":%q,"fragments":[],"message":%q}`, rag.DefaultCollection, msgNoContext),
		w.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.retrieveTotal.WithLabelValues(outcomeEmpty)))
}

func TestHandleRetrieve_OtherErrorIs500(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.retriever = &fakeRetriever{err: errors.New("boom")}

	w := httptest.NewRecorder()
	s.handleRetrieve(w, httptest.NewRequest(http.MethodPost, "/api/retrieve",
		strings.NewReader(`{"query":"q"}`)))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestHandleRetrieve_Validation(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"invalid json":  `not-json`,
		"missing query": `{"topK":3}`,
		"blank query":   `{"query":"   "}`,
		"negative topK": `{"query":"q","topK":-1}`,
		"topK too big":  `{"query":"q","topK":51}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer()
			w := httptest.NewRecorder()
			s.handleRetrieve(w, httptest.NewRequest(http.MethodPost, "/api/retrieve", strings.NewReader(body)))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

// ---------------------------------------------------------------------------
// POST /api/embed
// ---------------------------------------------------------------------------

func TestHandleEmbed(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.embedder = &fakeEmbedder{vec: []float32{0.25, -0.5, 1}}

	w := httptest.NewRecorder()
	s.handleEmbed(w, httptest.NewRequest(http.MethodPost, "/api/embed", strings.NewReader(`{"text":"hello"}`)))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"dimensions":3,"embedding":[0.25,-0.5,1]}`, w.Body.String())
}

func TestHandleEmbed_NoEmbeddingIs502(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.embedder = &fakeEmbedder{vec: []float32{}}

	w := httptest.NewRecorder()
	s.handleEmbed(w, httptest.NewRequest(http.MethodPost, "/api/embed", strings.NewReader(`{"text":"hello"}`)))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), msgNoEmbedding)
}

func TestHandleEmbed_MissingText(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	w := httptest.NewRecorder()
	s.handleEmbed(w, httptest.NewRequest(http.MethodPost, "/api/embed", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ---------------------------------------------------------------------------
// POST /api/ingest
// ---------------------------------------------------------------------------

func TestHandleIngest_JSONLines(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{report: ingestion.Report{Total: 2, Upserted: 1, NoEmbedding: 1}}
	s := newTestServer()
	s.ingester = ing

	body := `{"id":"a","content":"one","partyName":"Green"}
{"id":"b","content":"two","partyName":"Green"}`
	w := httptest.NewRecorder()
	s.handleIngest(w, httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, ing.got, 2)
	assert.Equal(t, "b", ing.got[1].ID)

	var rep ingestion.Report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rep))
	assert.Equal(t, ing.report, rep)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.ingestChunksTotal.WithLabelValues("upserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.ingestChunksTotal.WithLabelValues("no_embedding")))
}

func TestHandleIngest_UpsertFailureIs502(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.ingester = &fakeIngester{err: errors.New("ingestion: upsert batch of 1: chroma down")}

	w := httptest.NewRecorder()
	s.handleIngest(w, httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(`[{"content":"x"}]`)))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "chroma down")
}

func TestHandleIngest_BadBodies(t *testing.T) {
	t.Parallel()

	for name, body := range map[string]string{
		"empty":     ``,
		"empty arr": `[]`,
		"bad line":  "{\"content\":\"ok\"}\n{oops",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer()
			s.ingester = &fakeIngester{}
			w := httptest.NewRecorder()
			s.handleIngest(w, httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(body)))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleIngest_TooLarge(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.ingester = &fakeIngester{}
	s.cfg.MaxIngestBytes = 16

	w := httptest.NewRecorder()
	s.handleIngest(w, httptest.NewRequest(http.MethodPost, "/api/ingest",
		strings.NewReader(`[{"content":"this body is longer than sixteen bytes"}]`)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

// ---------------------------------------------------------------------------
// Wired routes: auth, stats, metrics, request id
// ---------------------------------------------------------------------------

func TestRoutes_AuthProtectsPOST(t *testing.T) {
	t.Parallel()

	s, _ := newWiredServer(t,
		Deps{Retriever: &fakeRetriever{fragments: []string{"x"}}, Embedder: &fakeEmbedder{}},
		&Config{APIKey: "secret"},
	)

	w := post(t, s.Handler(), "/api/retrieve", `{"query":"q"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(t, s.Handler(), "/api/retrieve", `{"query":"q"}`, "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, w.Code)

	// Liveness stays open.
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoutes_StatsAgainstMemoryStore(t *testing.T) {
	t.Parallel()

	vs := vectorstore.NewMemory()
	require.NoError(t, vs.Upsert(t.Context(), "manifestos", []string{"a", "b"},
		[][]float32{{1, 0}, {0, 1}}, nil, []string{"a", "b"}))

	s, _ := newWiredServer(t, Deps{Retriever: &fakeRetriever{}, Embedder: &fakeEmbedder{}, Counter: vs},
		&Config{Collections: []string{"manifestos"}})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats?collection=manifestos", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"backend":"memory","collection":"manifestos","count":2}`, rec.Body.String())
}

func TestRoutes_StatsUnknownCollectionDoesNotCreateIt(t *testing.T) {
	t.Parallel()

	c := &fakeCounter{}
	s, _ := newWiredServer(t, Deps{Retriever: &fakeRetriever{}, Embedder: &fakeEmbedder{}, Counter: c}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats?collection=made-up", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, c.counted)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{rag.DefaultCollection}, c.counted)
}

func TestRoutes_MetricsExposesRequestCounters(t *testing.T) {
	t.Parallel()

	s, reg := newWiredServer(t, Deps{Retriever: &fakeRetriever{}, Embedder: &fakeEmbedder{}}, nil)

	post(t, s.Handler(), "/api/retrieve", `{"query":"q"}`)

	n, err := testutil.GatherAndCount(reg, "mrag_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `mrag_retrieve_requests_total{outcome="empty"} 1`)
}

func TestRoutes_RequestIDEchoed(t *testing.T) {
	t.Parallel()

	s, _ := newWiredServer(t, Deps{Retriever: &fakeRetriever{}, Embedder: &fakeEmbedder{}}, nil)

	w := post(t, s.Handler(), "/api/retrieve", `{"query":"q"}`, requestIDHeader, "trace-42")
	assert.Equal(t, "trace-42", w.Header().Get(requestIDHeader))

	w = post(t, s.Handler(), "/api/retrieve", `{"query":"q"}`, requestIDHeader, "bad id with spaces")
	assert.Len(t, w.Header().Get(requestIDHeader), 16)
}
