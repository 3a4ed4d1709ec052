package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/liliang-cn/mindrag/internal/domain"
)

// ChunkRepository stores pre-embedded passages for the local vector index
type ChunkRepository struct {
	db *DB
}

// NewChunkRepository creates a new chunk repository
func NewChunkRepository(db *DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// Add stores a chunk, replacing any chunk with the same id
func (r *ChunkRepository) Add(ctx context.Context, chunk *domain.Chunk) error {
	if chunk.ID == "" {
		chunk.ID = uuid.New().String()
	}
	embeddingJSON, err := json.Marshal(chunk.Embedding)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}
	metadataJSON, _ := json.Marshal(chunk.Metadata)

	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO chunks (id, domain, content, embedding, metadata)
		VALUES (?, ?, ?, ?, ?)
	`, chunk.ID, chunk.DomainID, chunk.Text, string(embeddingJSON), string(metadataJSON))
	return err
}

// CountByDomain returns the number of stored chunks per domain
func (r *ChunkRepository) CountByDomain(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT domain, COUNT(*) FROM chunks GROUP BY domain`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var d string
		var n int
		if err := rows.Scan(&d, &n); err != nil {
			return nil, err
		}
		counts[d] = n
	}
	return counts, rows.Err()
}

// Index returns the similarity index over one domain's chunks
func (r *ChunkRepository) Index(domainID string) *ChunkIndex {
	return &ChunkIndex{repo: r, domainID: domainID}
}

// ChunkIndex is an exhaustive cosine-similarity index over one domain
type ChunkIndex struct {
	repo     *ChunkRepository
	domainID string
}

// Search implements domain.VectorIndex
func (i *ChunkIndex) Search(ctx context.Context, vector []float32, topN int) ([]domain.Match, error) {
	rows, err := i.repo.db.QueryContext(ctx, `
		SELECT id, content, embedding, metadata
		FROM chunks WHERE domain = ?
		ORDER BY id
	`, i.domainID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		var m domain.Match
		var embeddingJSON string
		var metadataJSON sql.NullString
		if err := rows.Scan(&m.ID, &m.Text, &embeddingJSON, &metadataJSON); err != nil {
			return nil, err
		}
		var embedding []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &embedding); err != nil {
			return nil, fmt.Errorf("chunk %s: bad embedding: %w", m.ID, err)
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &m.Metadata); err != nil {
				return nil, fmt.Errorf("chunk %s: bad metadata: %w", m.ID, err)
			}
		}
		m.Score = cosine(vector, embedding)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Score > matches[b].Score
	})
	if topN > 0 && len(matches) > topN {
		matches = matches[:topN]
	}
	return matches, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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
