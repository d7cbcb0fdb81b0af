package settings

import (
	"context"
	"log/slog"
)

type Settings struct {
	ID              int    `json:"-"`
	GeminiAPIKey    string `json:"gemini_api_key"`
	NamingModel     string `json:"naming_model"`
	AINamingEnabled bool   `json:"ai_naming_enabled"`
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

func (s *Service) Update(ctx context.Context, set *Settings) error {
	return s.repo.Update(ctx, set)
}

// Seed copies environment defaults into fields the stored row leaves empty.
func (s *Service) Seed(ctx context.Context, defaults Settings) error {
	cur, err := s.repo.Get(ctx)
	if err != nil {
		return err
	}
	changed := false
	if cur.GeminiAPIKey == "" && defaults.GeminiAPIKey != "" {
		cur.GeminiAPIKey = defaults.GeminiAPIKey
		changed = true
	}
	if cur.NamingModel == "" && defaults.NamingModel != "" {
		cur.NamingModel = defaults.NamingModel
		changed = true
	}
	if !changed {
		return nil
	}
	slog.InfoContext(ctx, "seeding settings from environment")
	return s.repo.Update(ctx, cur)
}
