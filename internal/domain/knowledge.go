package domain

import "context"

// Match is one raw hit returned by a similarity index
type Match struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// VectorIndex is a per-domain similarity search handle. Higher scores are more similar.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, topN int) ([]Match, error)
}

// Chunk is a pre-embedded passage stored in a local index
type Chunk struct {
	ID        string         `json:"id"`
	DomainID  string         `json:"domain_id"`
	Text      string         `json:"text"`
	Embedding []float32      `json:"embedding"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// KnowledgeDomain is an independently queryable knowledge partition
type KnowledgeDomain struct {
	ID          string      `json:"id"`
	Description string      `json:"description"`
	Keywords    []string    `json:"keywords,omitempty"`
	Weight      float64     `json:"weight"`
	Priority    int         `json:"priority"`
	Style       bool        `json:"style"`
	ScaleMin    *float64    `json:"scale_min,omitempty"`
	ScaleMax    *float64    `json:"scale_max,omitempty"`
	Index       VectorIndex `json:"-"`
}

// DomainScore is one ranked routing entry
type DomainScore struct {
	DomainID   string  `json:"domain_id"`
	Confidence float64 `json:"confidence"`
}

// RoutingDecision is the ranked list of domains selected for one message
type RoutingDecision struct {
	Domains  []DomainScore `json:"domains"`
	Degraded bool          `json:"degraded"`
}

// Confidence returns the routing confidence for a domain, zero when unselected
func (d RoutingDecision) Confidence(domainID string) float64 {
	for _, s := range d.Domains {
		if s.DomainID == domainID {
			return s.Confidence
		}
	}
	return 0
}

// Top returns the highest ranked domain id, or "" for an empty decision
func (d RoutingDecision) Top() string {
	if len(d.Domains) == 0 {
		return ""
	}
	return d.Domains[0].DomainID
}

// RetrievedChunk is a passage returned for one request
type RetrievedChunk struct {
	DomainID   string         `json:"domain_id"`
	Text       string         `json:"text"`
	Score      float64        `json:"score"`
	Normalized float64        `json:"normalized"`
	Composite  float64        `json:"composite"`
	Rank       int            `json:"rank"`
	Style      bool           `json:"style,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Citation returns the title or source recorded at ingestion, if any
func (c RetrievedChunk) Citation() string {
	for _, key := range []string{"title", "source"} {
		if v, ok := c.Metadata[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
