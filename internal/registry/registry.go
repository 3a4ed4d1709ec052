// Package registry holds the static catalog of knowledge domains.
package registry

import (
	"fmt"

	"github.com/liliang-cn/mindrag/internal/config"
	"github.com/liliang-cn/mindrag/internal/domain"
)

// IndexFactory opens the similarity index backing one domain
type IndexFactory func(cfg config.DomainConfig) (domain.VectorIndex, error)

// Registry is an immutable, ordered set of knowledge domains. Order is
// configuration order and doubles as the routing tie-break priority.
type Registry struct {
	domains []domain.KnowledgeDomain
	byID    map[string]int
	style   int
}

// New builds a registry from configuration, opening one index per domain
func New(cfgs []config.DomainConfig, open IndexFactory) (*Registry, error) {
	domains := make([]domain.KnowledgeDomain, 0, len(cfgs))
	for i, c := range cfgs {
		var index domain.VectorIndex
		if open != nil {
			idx, err := open(c)
			if err != nil {
				return nil, fmt.Errorf("failed to open index for domain %s: %w", c.ID, err)
			}
			index = idx
		}
		domains = append(domains, domain.KnowledgeDomain{
			ID:          c.ID,
			Description: c.Description,
			Keywords:    append([]string(nil), c.Keywords...),
			Weight:      c.Weight,
			Priority:    i,
			Style:       c.Style,
			ScaleMin:    c.ScaleMin,
			ScaleMax:    c.ScaleMax,
			Index:       index,
		})
	}
	return FromDomains(domains)
}

// FromDomains builds a registry from prepared domains, assigning priority by position
func FromDomains(domains []domain.KnowledgeDomain) (*Registry, error) {
	if len(domains) == 0 {
		return nil, domain.ErrNoDomains
	}
	r := &Registry{
		domains: make([]domain.KnowledgeDomain, len(domains)),
		byID:    make(map[string]int, len(domains)),
		style:   -1,
	}
	for i, d := range domains {
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate domain id: %s", d.ID)
		}
		d.Priority = i
		r.domains[i] = d
		r.byID[d.ID] = i
		if d.Style && r.style < 0 {
			r.style = i
		}
	}
	if r.style < 0 {
		return nil, fmt.Errorf("no style domain configured")
	}
	return r, nil
}

// Domains returns the domains in priority order
func (r *Registry) Domains() []domain.KnowledgeDomain {
	out := make([]domain.KnowledgeDomain, len(r.domains))
	copy(out, r.domains)
	return out
}

// Get returns a domain by id
func (r *Registry) Get(id string) (domain.KnowledgeDomain, bool) {
	i, ok := r.byID[id]
	if !ok {
		return domain.KnowledgeDomain{}, false
	}
	return r.domains[i], true
}

// Style returns the conversational-style domain used as the routing fallback
func (r *Registry) Style() domain.KnowledgeDomain {
	return r.domains[r.style]
}

// Len returns the number of domains
func (r *Registry) Len() int {
	return len(r.domains)
}
