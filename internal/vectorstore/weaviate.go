// Package vectorstore opens the per-domain similarity indexes.
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/liliang-cn/mindrag/internal/domain"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// NewWeaviateClient connects to a Weaviate server
func NewWeaviateClient(host, scheme, apiKey string) (*weaviate.Client, error) {
	cfg := weaviate.Config{
		Host:   host,
		Scheme: scheme,
	}
	if apiKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: apiKey}
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return client, nil
}

// WeaviateIndex searches one Weaviate class by vector
type WeaviateIndex struct {
	client *weaviate.Client
	class  string
}

// NewWeaviateIndex creates an index over a class holding one domain's chunks
func NewWeaviateIndex(client *weaviate.Client, class string) *WeaviateIndex {
	return &WeaviateIndex{client: client, class: class}
}

// Search implements domain.VectorIndex. Certainty is used as the score.
func (w *WeaviateIndex) Search(ctx context.Context, vector []float32, topN int) ([]domain.Match, error) {
	nearVector := w.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "title"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(topN).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search error: %s", result.Errors[0].Message)
	}

	return parseMatches(result, w.class)
}

type chunkResult struct {
	Content    string `json:"content"`
	Source     string `json:"source"`
	Title      string `json:"title"`
	Additional struct {
		ID        string  `json:"id"`
		Certainty float64 `json:"certainty"`
	} `json:"_additional"`
}

func parseMatches(resp *models.GraphQLResponse, class string) ([]domain.Match, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var parsed struct {
		Get map[string][]chunkResult `json:"Get"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse GraphQL response: %w", err)
	}

	rows := parsed.Get[class]
	matches := make([]domain.Match, 0, len(rows))
	for _, r := range rows {
		m := domain.Match{
			ID:    r.Additional.ID,
			Text:  r.Content,
			Score: r.Additional.Certainty,
		}
		if r.Source != "" || r.Title != "" {
			m.Metadata = map[string]any{}
			if r.Source != "" {
				m.Metadata["source"] = r.Source
			}
			if r.Title != "" {
				m.Metadata["title"] = r.Title
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}
