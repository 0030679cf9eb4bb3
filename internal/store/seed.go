package store

import (
	"context"

	"github.com/loomhq/loom/internal/apierror"
	"github.com/loomhq/loom/internal/model"
)

// DefaultAssistantName is the name of the seeded global assistant.
const DefaultAssistantName = "default"

// Seed ensures a fresh install can execute runs immediately by creating a
// global default assistant. Idempotent: nothing happens when one exists.
func Seed(ctx context.Context, s Store, defaultModel string) (*model.Assistant, error) {
	existing, err := s.Assistants().All(ctx, map[string]any{"name": DefaultAssistantName})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing[0], nil
	}

	assistant := &model.Assistant{
		Name:  DefaultAssistantName,
		Model: defaultModel,
	}
	if err := s.Assistants().Create(ctx, assistant); err != nil {
		if apierror.IsConflict(err) {
			// Another process seeded concurrently.
			return assistant, nil
		}
		return nil, err
	}
	return assistant, nil
}
