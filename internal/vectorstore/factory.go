package vectorstore

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/liliang-cn/mindrag/internal/config"
	"github.com/liliang-cn/mindrag/internal/domain"
	"github.com/liliang-cn/mindrag/internal/registry"
	"github.com/liliang-cn/mindrag/internal/repository"
)

// NewFactory returns the index factory for the configured backend.
// chunks is only required by the sqlite backend.
func NewFactory(cfg config.VectorConfig, chunks *repository.ChunkRepository) (registry.IndexFactory, error) {
	switch cfg.Backend {
	case "sqlite", "":
		if chunks == nil {
			return nil, errors.New("sqlite vector backend requires a chunk repository")
		}
		return func(d config.DomainConfig) (domain.VectorIndex, error) {
			return chunks.Index(d.ID), nil
		}, nil
	case "weaviate":
		client, err := NewWeaviateClient(cfg.WeaviateHost, cfg.WeaviateScheme, cfg.WeaviateAPIKey)
		if err != nil {
			return nil, err
		}
		return func(d config.DomainConfig) (domain.VectorIndex, error) {
			class := d.Class
			if class == "" {
				class = ClassName(d.ID)
			}
			return NewWeaviateIndex(client, class), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown vector backend: %s", cfg.Backend)
	}
}

// ClassName derives a Weaviate class name from a domain id: "mind_over_mood" -> "MindOverMood"
func ClassName(id string) string {
	var b strings.Builder
	upper := true
	for _, r := range id {
		if r == '_' || r == '-' || r == ' ' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
