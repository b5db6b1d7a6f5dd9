package provider

import (
	"context"
	"fmt"
	"strings"
)

// Upsert adds or replaces a provider by id. An empty token keeps the token
// already stored for that provider.
func (r *Registry) Upsert(ctx context.Context, p Provider) (Config, error) {
	cfg, err := r.Get(ctx)
	if err != nil {
		return Config{}, err
	}

	p.ID = strings.TrimSpace(p.ID)
	replaced := false
	for i, existing := range cfg.Providers {
		if existing.ID != p.ID {
			continue
		}
		if p.Auth.Token == "" {
			p.Auth.Token = existing.Auth.Token
		}
		cfg.Providers[i] = p
		replaced = true
		break
	}
	if !replaced {
		cfg.Providers = append(cfg.Providers, p)
	}
	if cfg.DefaultProviderID == "" {
		cfg.DefaultProviderID = p.ID
	}

	if err := r.Save(ctx, cfg); err != nil {
		return Config{}, err
	}
	return r.snapshotConfig(), nil
}

// Delete removes a provider. If it was the default, the first remaining
// provider becomes the default. It returns the previous and new default ids.
func (r *Registry) Delete(ctx context.Context, id string) (oldDefault, newDefault string, err error) {
	cfg, err := r.Get(ctx)
	if err != nil {
		return "", "", err
	}
	if _, ok := cfg.find(id); !ok {
		return "", "", fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}

	oldDefault = cfg.DefaultProviderID
	kept := cfg.Providers[:0]
	for _, p := range cfg.Providers {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	cfg.Providers = kept
	if cfg.DefaultProviderID == id {
		cfg.DefaultProviderID = ""
		if len(kept) > 0 {
			cfg.DefaultProviderID = kept[0].ID
		}
	}

	if err := r.Save(ctx, cfg); err != nil {
		return "", "", err
	}
	return oldDefault, cfg.DefaultProviderID, nil
}

// SetDefault makes id the default provider and returns the previous default.
// An empty id clears the default.
func (r *Registry) SetDefault(ctx context.Context, id string) (string, error) {
	cfg, err := r.Get(ctx)
	if err != nil {
		return "", err
	}
	id = strings.TrimSpace(id)
	if _, ok := cfg.find(id); id != "" && !ok {
		return "", fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	old := cfg.DefaultProviderID
	cfg.DefaultProviderID = id
	if err := r.Save(ctx, cfg); err != nil {
		return "", err
	}
	return old, nil
}
