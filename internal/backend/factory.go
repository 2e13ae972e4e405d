package backend

import (
	"context"
	"fmt"

	"github.com/allaspectsdev/modelmux/internal/config"
)

// KeyResolver turns a key_ref such as "keyring://modelmux/openai" or
// "env:OPENAI_API_KEY" into a secret.
type KeyResolver interface {
	ResolveKeyRef(ref string) (string, error)
}

// New builds the Backend described by cfg. Keys are resolved eagerly so a
// bad key_ref fails at startup rather than on the first query.
func New(ctx context.Context, cfg config.BackendConfig, keys KeyResolver) (Backend, error) {
	var apiKey string
	if cfg.KeyRef != "" {
		if keys == nil {
			return nil, fmt.Errorf("backend %s: key_ref set but no key resolver available", cfg.ID)
		}
		k, err := keys.ResolveKeyRef(cfg.KeyRef)
		if err != nil {
			return nil, fmt.Errorf("backend %s: resolving key: %w", cfg.ID, err)
		}
		apiKey = k
	}

	switch cfg.Kind {
	case "anthropic":
		return NewAnthropic(cfg.ID, cfg.Model, apiKey, cfg.APIBase), nil
	case "openai":
		return NewOpenAI(cfg.ID, cfg.Model, apiKey, cfg.APIBase), nil
	case "gemini":
		return NewGemini(ctx, cfg.ID, cfg.Model, apiKey, cfg.APIBase)
	case "http":
		if cfg.APIBase == "" {
			return nil, fmt.Errorf("backend %s: http backends require api_base", cfg.ID)
		}
		return NewHTTP(cfg.ID, cfg.Model, apiKey, cfg.APIBase), nil
	case "synthetic":
		return NewSynthetic(cfg.ID, 0), nil
	default:
		return nil, fmt.Errorf("backend %s: unknown kind %q", cfg.ID, cfg.Kind)
	}
}
