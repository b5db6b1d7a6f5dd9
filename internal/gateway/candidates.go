package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/nulzo/model-gateway/internal/provider"
)

const selectorSep = "::"

// Candidate is a (provider, upstream model) pair the router may attempt. An
// empty UpstreamModel leaves the request's model untouched.
type Candidate struct {
	Provider      provider.Provider
	UpstreamModel string
}

// ParseSelector splits "provider-id::upstream-model". For anything else it
// returns an empty provider id and the trimmed reference as the model.
func ParseSelector(ref string) (providerID, model string) {
	s := strings.TrimSpace(ref)
	if left, right, ok := strings.Cut(s, selectorSep); ok {
		left, right = strings.TrimSpace(left), strings.TrimSpace(right)
		if left != "" && right != "" {
			return left, right
		}
	}
	return "", s
}

// ResolveCandidates turns a logical model reference into the ordered list of
// candidates to try.
//
//  1. "provider::model" puts that provider first when it is enabled.
//  2. An enabled alias with a priority chain yields exactly that chain,
//     restricted to enabled providers.
//  3. Otherwise the default provider (or first enabled one) goes first.
//
// In cases 1 and 3 every other enabled provider follows in registry order.
func (s *service) ResolveCandidates(ctx context.Context, modelRef string) ([]Candidate, error) {
	providerID, model := ParseSelector(modelRef)

	if providerID != "" {
		var primary *provider.Provider
		if p, err := s.registry.Provider(ctx, providerID); err == nil && p.Enabled {
			primary = &p
		} else if err != nil && !errors.Is(err, provider.ErrProviderNotFound) {
			return nil, err
		}
		return s.withFallbacks(ctx, primary, model)
	}

	if model != "" {
		chain, err := s.aliasChain(ctx, model)
		if err != nil {
			return nil, err
		}
		if len(chain) > 0 {
			return chain, nil
		}
	}

	primary, ok, err := s.registry.DefaultProvider(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return s.withFallbacks(ctx, &primary, model)
}

func (s *service) aliasChain(ctx context.Context, aliasID string) ([]Candidate, error) {
	if s.models == nil {
		return nil, nil
	}
	alias, err := s.models.Alias(ctx, aliasID)
	if errors.Is(err, provider.ErrAliasNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !alias.Enabled || len(alias.Priority) == 0 {
		return nil, nil
	}

	out := make([]Candidate, 0, len(alias.Priority))
	for _, c := range alias.Priority {
		p, err := s.registry.Provider(ctx, c.ProviderID)
		if errors.Is(err, provider.ErrProviderNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if p.Enabled {
			out = append(out, Candidate{Provider: p, UpstreamModel: c.UpstreamModel})
		}
	}
	return out, nil
}

func (s *service) withFallbacks(ctx context.Context, primary *provider.Provider, model string) ([]Candidate, error) {
	enabled, err := s.registry.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(enabled)+1)
	if primary != nil {
		out = append(out, Candidate{Provider: *primary, UpstreamModel: model})
	}
	for _, p := range enabled {
		if primary != nil && p.ID == primary.ID {
			continue
		}
		out = append(out, Candidate{Provider: p, UpstreamModel: model})
	}
	return out, nil
}
