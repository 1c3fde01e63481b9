package provider

import (
	"context"
	"fmt"
	"log/slog"

	"wecomgw/pkg/config"
	provideropenai "wecomgw/pkg/provider/openai"
	"wecomgw/pkg/provider/opencode"
)

// Client is the reply backend behind the resolver: it owns sessions and
// turns prompts into text.
type Client interface {
	Health(ctx context.Context) error
	CreateSession(ctx context.Context, title string) (string, error)
	Prompt(ctx context.Context, sessionID string, prompt string, model string) (string, error)
}

func New(cfg *config.Config) (Client, error) {
	providerID := cfg.Resolver.Provider
	if providerID == "" {
		providerID = "opencode"
	}

	slog.Default().With("component", "provider.factory").Debug("Resolving provider client", "provider", providerID)

	switch providerID {
	case "opencode":
		return opencode.New(cfg)
	case "openai":
		return provideropenai.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerID)
	}
}
