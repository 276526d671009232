package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// maxResponseBytes caps how much of an embedding response body is read.
const maxResponseBytes = 32 << 20

// candidatePaths are the embedding endpoint conventions probed in order.
var candidatePaths = []string{"/api/embeddings", "/api/embed", "/embed"}

// httpEmbedRequest carries the text under both field names in use by
// embedding servers: prompt for the legacy Ollama API, input elsewhere.
type httpEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Input  string `json:"input"`
}

// embedHTTP runs tier 2. The remembered working path is tried first; when it
// fails it is forgotten and the full candidate list is probed in order.
func (p *Provider) embedHTTP(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	body, err := json.Marshal(httpEmbedRequest{Model: p.model, Prompt: text, Input: text})
	if err != nil {
		p.m.attempt(tierHTTP, outcomeError, start)
		return nil, fmt.Errorf("http: marshal request: %w", err)
	}

	var misses []error
	if cached := p.working.Load(); cached != nil {
		vec, err := p.postEmbedding(ctx, *cached, body)
		if err == nil {
			p.m.attempt(tierHTTP, outcomeOK, start)
			return vec, nil
		}
		misses = append(misses, err)
		p.working.CompareAndSwap(cached, nil)
		if ctx.Err() != nil {
			p.m.attempt(tierHTTP, outcomeMiss, start)
			return nil, fmt.Errorf("http: %w", errors.Join(misses...))
		}
	}

	for _, path := range candidatePaths {
		vec, err := p.postEmbedding(ctx, path, body)
		if err != nil {
			misses = append(misses, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		p.working.Store(&path)
		p.m.attempt(tierHTTP, outcomeOK, start)
		return vec, nil
	}

	p.m.attempt(tierHTTP, outcomeMiss, start)
	return nil, fmt.Errorf("http: %w", errors.Join(misses...))
}

// WorkingEndpoint returns the remembered tier-2 path, or "" when none.
func (p *Provider) WorkingEndpoint() string {
	if cached := p.working.Load(); cached != nil {
		return *cached
	}
	return ""
}

// postEmbedding POSTs body to one candidate path and parses the response.
func (p *Provider) postEmbedding(ctx context.Context, path string, body []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, fmt.Errorf("%s: HTTP %d", path, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", path, err)
	}

	vec := ParseEmbedding(raw)
	if len(vec) == 0 {
		return nil, fmt.Errorf("%s: %w", path, errEmptyVector)
	}
	return vec, nil
}

// ParseEmbedding extracts a vector from an embedding server response. It
// accepts, in order, a top-level "embedding" array, the first element of a
// top-level "embeddings" array, or a bare top-level array. Numbers and
// numeric strings become elements; other values are skipped. The first shape
// that yields a non-empty vector wins; nil means nothing usable was found.
func ParseEmbedding(raw []byte) []float32 {
	if !gjson.ValidBytes(raw) {
		return nil
	}
	root := gjson.ParseBytes(raw)

	shapes := []gjson.Result{root}
	if root.IsObject() {
		shapes = []gjson.Result{root.Get("embedding"), root.Get("embeddings.0")}
	}
	for _, shape := range shapes {
		if !shape.IsArray() {
			continue
		}
		if vec := coerceArray(shape); len(vec) > 0 {
			return vec
		}
	}
	return nil
}

// coerceArray converts the elements of a JSON array to float32.
func coerceArray(arr gjson.Result) []float32 {
	elems := arr.Array()
	out := make([]float32, 0, len(elems))
	for _, e := range elems {
		switch e.Type {
		case gjson.Number:
			out = append(out, float32(e.Float()))
		case gjson.String:
			f, err := strconv.ParseFloat(strings.TrimSpace(e.Str), 64)
			if err != nil {
				continue
			}
			out = append(out, float32(f))
		}
	}
	return out
}
