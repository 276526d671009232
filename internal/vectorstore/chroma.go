package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/54b3r/manifesto-rag/internal/logging"
)

// maxChromaResponseBytes caps how much of a Chroma response body is read.
const maxChromaResponseBytes = 32 << 20

// ChromaConfig holds connection parameters for a Chroma-compatible server.
type ChromaConfig struct {
	// URL is the server base URL, e.g. http://localhost:8000.
	URL string

	// Token is sent as a bearer token when non-empty.
	Token string

	// Timeout bounds each HTTP call. Defaults to 30s.
	Timeout time.Duration
}

// chromaBackend creates ChromaCollections against one server.
type chromaBackend struct {
	// base is the server URL with the v1 API prefix appended.
	base string
	// token is the optional bearer token.
	token string
	// client is shared by every collection of this backend.
	client *http.Client
	// m records operation outcomes; may be nil.
	m *metrics
}

func newChromaBackend(cfg ChromaConfig, m *metrics) (*chromaBackend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("chroma: URL is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("chroma: invalid URL %q", cfg.URL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &chromaBackend{
		base:   strings.TrimRight(cfg.URL, "/") + "/api/v1",
		token:  cfg.Token,
		client: &http.Client{Timeout: timeout},
		m:      m,
	}, nil
}

func (b *chromaBackend) name() string { return backendChroma }

// chromaCollectionInfo is the subset of the collection resource we use.
type chromaCollectionInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// getOrCreate creates the collection with get_or_create semantics. Servers
// that predate get_or_create answer 409 or a 4xx/5xx carrying "already exists";
// both are resolved by fetching the existing collection by name.
func (b *chromaBackend) getOrCreate(ctx context.Context, name string) (Collection, error) {
	start := time.Now()
	defer b.m.since(backendChroma, opCreate, start)

	body := map[string]any{
		"name":          name,
		"get_or_create": true,
		"metadata":      map[string]any{"hnsw:space": "cosine"},
	}
	status, raw, err := b.do(ctx, http.MethodPost, "/collections", body)
	if err != nil {
		b.m.observe(backendChroma, opCreate, outcomeError)
		return nil, fmt.Errorf("chroma: create collection %q: %w", name, err)
	}

	if status == http.StatusConflict || (status >= 400 && strings.Contains(strings.ToLower(string(raw)), "already exists")) {
		status, raw, err = b.do(ctx, http.MethodGet, "/collections/"+url.PathEscape(name), nil)
		if err != nil {
			b.m.observe(backendChroma, opCreate, outcomeError)
			return nil, fmt.Errorf("chroma: get collection %q: %w", name, err)
		}
	}
	if !isSuccess(status) {
		b.m.observe(backendChroma, opCreate, outcomeError)
		return nil, fmt.Errorf("chroma: create collection %q: status %d: %s", name, status, snippet(raw))
	}

	var info chromaCollectionInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		b.m.observe(backendChroma, opCreate, outcomeError)
		return nil, fmt.Errorf("chroma: decode collection %q: %w", name, err)
	}
	if info.ID == "" {
		b.m.observe(backendChroma, opCreate, outcomeError)
		return nil, fmt.Errorf("chroma: collection %q response has no id", name)
	}

	b.m.observe(backendChroma, opCreate, outcomeOK)
	return &ChromaCollection{backend: b, id: info.ID, name: name}, nil
}

// ping calls the heartbeat endpoint.
func (b *chromaBackend) ping(ctx context.Context) error {
	status, raw, err := b.do(ctx, http.MethodGet, "/heartbeat", nil)
	if err != nil {
		return fmt.Errorf("chroma: heartbeat: %w", err)
	}
	if !isSuccess(status) {
		return fmt.Errorf("chroma: heartbeat: status %d: %s", status, snippet(raw))
	}
	return nil
}

func (b *chromaBackend) close() error {
	b.client.CloseIdleConnections()
	return nil
}

// do sends body as JSON (when non-nil) and returns the status and the
// size-limited response body. Only transport failures are errors.
func (b *chromaBackend) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.base+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxChromaResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// ChromaCollection is a Collection held by a Chroma-compatible server.
type ChromaCollection struct {
	// backend owns the HTTP client and base URL.
	backend *chromaBackend
	// id is the server-assigned collection id used in request paths.
	id string
	// name is the collection name.
	name string
}

// Name returns the collection name.
func (c *ChromaCollection) Name() string { return c.name }

// ID returns the server-assigned collection id.
func (c *ChromaCollection) ID() string { return c.id }

// chromaUpsertRequest omits absent parallel slices so the server leaves
// those fields untouched.
type chromaUpsertRequest struct {
	IDs        []string         `json:"ids"`
	Embeddings [][]float32      `json:"embeddings,omitempty"`
	Metadatas  []map[string]any `json:"metadatas,omitempty"`
	Documents  []string         `json:"documents,omitempty"`
}

// Upsert sends the records to the collection's upsert endpoint. Transport
// failures and non-2xx responses are returned.
func (c *ChromaCollection) Upsert(ctx context.Context, ids []string, embeddings [][]float32, metadatas []map[string]any, documents []string) error {
	if err := validateUpsert(ids, embeddings, metadatas, documents); err != nil {
		c.backend.m.observe(backendChroma, opUpsert, outcomeError)
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	start := time.Now()
	defer c.backend.m.since(backendChroma, opUpsert, start)

	req := chromaUpsertRequest{IDs: ids, Embeddings: embeddings, Metadatas: metadatas, Documents: documents}
	status, raw, err := c.backend.do(ctx, http.MethodPost, c.path("upsert"), req)
	if err != nil {
		c.backend.m.observe(backendChroma, opUpsert, outcomeError)
		return fmt.Errorf("chroma: upsert into %q: %w", c.name, err)
	}
	if !isSuccess(status) {
		c.backend.m.observe(backendChroma, opUpsert, outcomeError)
		return fmt.Errorf("chroma: upsert into %q: status %d: %s", c.name, status, snippet(raw))
	}

	c.backend.m.observe(backendChroma, opUpsert, outcomeOK)
	return nil
}

type chromaQueryRequest struct {
	QueryEmbeddings [][]float32 `json:"query_embeddings"`
	NResults        int         `json:"n_results"`
	Include         []string    `json:"include"`
}

type chromaQueryResponse struct {
	Documents [][]*string `json:"documents"`
}

// Query asks the server for the k nearest documents per query embedding.
// Any failure is logged at WARN and yields empty results.
func (c *ChromaCollection) Query(ctx context.Context, queryEmbeddings [][]float32, k int) [][]string {
	if len(queryEmbeddings) == 0 {
		return [][]string{}
	}
	if k <= 0 {
		return emptyResult(len(queryEmbeddings))
	}

	log := logging.FromContext(ctx)
	start := time.Now()
	defer c.backend.m.since(backendChroma, opQuery, start)

	fail := func(reason string, attrs ...any) [][]string {
		c.backend.m.observe(backendChroma, opQuery, outcomeError)
		log.Warn("chroma: query failed, returning no results",
			append([]any{slog.String("collection", c.name), slog.String("reason", reason)}, attrs...)...,
		)
		return emptyResult(len(queryEmbeddings))
	}

	req := chromaQueryRequest{QueryEmbeddings: queryEmbeddings, NResults: k, Include: []string{"documents"}}
	status, raw, err := c.backend.do(ctx, http.MethodPost, c.path("query"), req)
	if err != nil {
		return fail("transport", slog.String("error", err.Error()))
	}
	if !isSuccess(status) {
		return fail("status", slog.Int("status", status), slog.String("body", snippet(raw)))
	}

	var resp chromaQueryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fail("decode", slog.String("error", err.Error()))
	}

	out := emptyResult(len(queryEmbeddings))
	for i := range out {
		if i >= len(resp.Documents) {
			break
		}
		for _, doc := range resp.Documents[i] {
			if doc == nil {
				continue
			}
			out[i] = append(out[i], *doc)
		}
	}

	c.backend.m.observe(backendChroma, opQuery, outcomeOK)
	return out
}

// Count returns the number of records held by the server.
func (c *ChromaCollection) Count(ctx context.Context) (int, error) {
	status, raw, err := c.backend.do(ctx, http.MethodGet, c.path("count"), nil)
	if err != nil {
		c.backend.m.observe(backendChroma, opCount, outcomeError)
		return 0, fmt.Errorf("chroma: count %q: %w", c.name, err)
	}
	if !isSuccess(status) {
		c.backend.m.observe(backendChroma, opCount, outcomeError)
		return 0, fmt.Errorf("chroma: count %q: status %d: %s", c.name, status, snippet(raw))
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		c.backend.m.observe(backendChroma, opCount, outcomeError)
		return 0, fmt.Errorf("chroma: decode count %q: %w", c.name, err)
	}
	c.backend.m.observe(backendChroma, opCount, outcomeOK)
	return n, nil
}

func (c *ChromaCollection) path(action string) string {
	return "/collections/" + url.PathEscape(c.id) + "/" + action
}

func isSuccess(status int) bool { return status >= 200 && status < 300 }

// snippet truncates a response body for error messages.
func snippet(raw []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(raw))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
