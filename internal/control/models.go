package control

import (
	"context"
	"fmt"

	"github.com/nulzo/model-gateway/internal/provider"
)

func (s *Service) Aliases(ctx context.Context) ([]provider.Alias, error) {
	return s.models.Aliases(ctx)
}

// UpsertAlias replaces the alias with the same id or appends a new one.
func (s *Service) UpsertAlias(ctx context.Context, a provider.Alias) error {
	aliases, err := s.models.Aliases(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i := range aliases {
		if aliases[i].ID == a.ID {
			aliases[i] = a
			replaced = true
		}
	}
	if !replaced {
		aliases = append(aliases, a)
	}
	return s.models.SaveAliases(ctx, aliases)
}

func (s *Service) DeleteAlias(ctx context.Context, id string) error {
	aliases, err := s.models.Aliases(ctx)
	if err != nil {
		return err
	}
	kept := aliases[:0]
	for _, a := range aliases {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	return s.models.SaveAliases(ctx, kept)
}

type Profiles struct {
	DefaultProfileID string             `json:"default_profile_id,omitempty"`
	Profiles         []provider.Profile `json:"profiles"`
}

func (s *Service) Profiles(ctx context.Context) (*Profiles, error) {
	profiles, def, err := s.models.Profiles(ctx)
	if err != nil {
		return nil, err
	}
	return &Profiles{DefaultProfileID: def, Profiles: profiles}, nil
}

// UpsertProfile replaces or appends a profile. The first profile saved
// without an existing default becomes the default.
func (s *Service) UpsertProfile(ctx context.Context, p provider.Profile) error {
	profiles, def, err := s.models.Profiles(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i := range profiles {
		if profiles[i].ID == p.ID {
			profiles[i] = p
			replaced = true
		}
	}
	if !replaced {
		profiles = append(profiles, p)
	}
	if def == "" {
		def = p.ID
	}
	return s.models.SaveProfiles(ctx, profiles, def)
}

func (s *Service) DeleteProfile(ctx context.Context, id string) error {
	profiles, def, err := s.models.Profiles(ctx)
	if err != nil {
		return err
	}
	kept := profiles[:0]
	for _, p := range profiles {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	if def == id {
		def = ""
		if len(kept) > 0 {
			def = kept[0].ID
		}
	}
	return s.models.SaveProfiles(ctx, kept, def)
}

// SetDefaultProfile makes id the default profile; empty clears it.
func (s *Service) SetDefaultProfile(ctx context.Context, id string) error {
	profiles, _, err := s.models.Profiles(ctx)
	if err != nil {
		return err
	}
	if id != "" {
		if _, err := s.models.Profile(ctx, id); err != nil {
			return fmt.Errorf("set default profile: %w", err)
		}
	}
	return s.models.SaveProfiles(ctx, profiles, id)
}
