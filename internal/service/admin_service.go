package service

import (
	"context"

	"github.com/liliang-cn/mindrag/internal/domain"
	"github.com/liliang-cn/mindrag/internal/registry"
	"github.com/liliang-cn/mindrag/internal/repository"
	"github.com/liliang-cn/mindrag/internal/session"
)

// AdminService handles admin operations
type AdminService struct {
	sessions   *session.Manager
	registry   *registry.Registry
	crisisRepo *repository.CrisisRepository
	chunkRepo  *repository.ChunkRepository
}

// NewAdminService creates a new admin service
func NewAdminService(
	sessions *session.Manager,
	reg *registry.Registry,
	crisisRepo *repository.CrisisRepository,
	chunkRepo *repository.ChunkRepository,
) *AdminService {
	return &AdminService{
		sessions:   sessions,
		registry:   reg,
		crisisRepo: crisisRepo,
		chunkRepo:  chunkRepo,
	}
}

// Session operations

func (s *AdminService) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	return s.sessions.List(ctx)
}

func (s *AdminService) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return s.sessions.Get(ctx, id)
}

// Domain operations

func (s *AdminService) ListDomains(ctx context.Context) ([]domain.DomainInfo, error) {
	counts := map[string]int{}
	if s.chunkRepo != nil {
		var err error
		if counts, err = s.chunkRepo.CountByDomain(ctx); err != nil {
			return nil, err
		}
	}

	domains := s.registry.Domains()
	out := make([]domain.DomainInfo, 0, len(domains))
	for _, d := range domains {
		out = append(out, domain.DomainInfo{
			ID:          d.ID,
			Description: d.Description,
			Keywords:    d.Keywords,
			Weight:      d.Weight,
			Priority:    d.Priority,
			Style:       d.Style,
			ChunkCount:  counts[d.ID],
		})
	}
	return out, nil
}

// Crisis audit operations

func (s *AdminService) ListCrisisEvents(ctx context.Context, limit int) ([]*domain.CrisisEvent, error) {
	if s.crisisRepo == nil {
		return []*domain.CrisisEvent{}, nil
	}
	return s.crisisRepo.List(ctx, limit)
}

// Stats

func (s *AdminService) GetStats(ctx context.Context) (*domain.Stats, error) {
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &domain.Stats{
		ActiveSessions: len(sessions),
		Domains:        s.registry.Len(),
	}
	for _, sess := range sessions {
		stats.TotalTurns += sess.TurnCount
	}
	if s.crisisRepo != nil {
		if stats.CrisisEvents, err = s.crisisRepo.Count(ctx); err != nil {
			return nil, err
		}
	}
	return stats, nil
}
