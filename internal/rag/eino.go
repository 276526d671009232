package rag

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
)

// Metadata keys set on documents returned by EinoRetriever.
const (
	MetaCollection = "collection"
	MetaRank       = "rank"
)

// EinoRetriever adapts a DefaultRetriever to eino's retriever.Retriever so
// an eino chain or graph can use manifesto retrieval as a component.
// retriever.WithTopK overrides the retriever's default k and
// retriever.WithIndex selects a collection other than the configured one.
type EinoRetriever struct {
	// inner performs the embed → query → trim flow.
	inner *DefaultRetriever
}

var _ retriever.Retriever = (*EinoRetriever)(nil)

// NewEinoRetriever wraps r for use inside eino compositions.
func NewEinoRetriever(r *DefaultRetriever) (*EinoRetriever, error) {
	if r == nil {
		return nil, fmt.Errorf("rag: retriever must not be nil")
	}
	return &EinoRetriever{inner: r}, nil
}

// Retrieve returns the ranked fragments as eino documents. Document IDs are
// positional ("<collection>#<rank>") because the store returns texts only.
func (e *EinoRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := e.inner.cfg.DefaultTopK
	collection := e.inner.cfg.Collection
	o := retriever.GetCommonOptions(&retriever.Options{TopK: &topK, Index: &collection}, opts...)
	if o.TopK != nil {
		topK = *o.TopK
	}
	if o.Index != nil && *o.Index != "" {
		collection = *o.Index
	}

	fragments, err := e.inner.RetrieveFrom(ctx, collection, query, topK)
	if err != nil {
		return nil, err
	}

	docs := make([]*schema.Document, 0, len(fragments))
	for i, f := range fragments {
		docs = append(docs, &schema.Document{
			ID:      fmt.Sprintf("%s#%d", collection, i),
			Content: f,
			MetaData: map[string]any{
				MetaCollection: collection,
				MetaRank:       i,
			},
		})
	}
	return docs, nil
}
