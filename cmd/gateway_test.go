package cmd

import (
	"context"
	"log/slog"
	"testing"

	channelpkg "wecomgw/pkg/channel"
	"wecomgw/pkg/config"
)

type testAdapter struct{ name string }

func (a testAdapter) Name() string { return a.name }

func (a testAdapter) Run(_ context.Context, _ channelpkg.Resolver) error { return nil }

func TestEnabledAdaptersRequiresAtLeastOneChannel(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	if _, err := enabledAdapters(cfg, t.TempDir(), slog.Default()); err == nil {
		t.Fatal("expected error when no channels are enabled")
	}
}

func TestEnabledAdaptersBuildsWecomChannel(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Channels.Wecom.Enabled = true

	adapters, err := enabledAdapters(cfg, t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("enabledAdapters error: %v", err)
	}
	if len(adapters) != 1 {
		t.Fatalf("adapters = %d, want 1", len(adapters))
	}
	if adapters[0].Name() != "wecom" {
		t.Fatalf("adapter name = %q", adapters[0].Name())
	}
}

func TestEnabledChannelNames(t *testing.T) {
	t.Parallel()

	adapters := []channelpkg.Adapter{testAdapter{name: "wecom"}, testAdapter{name: "slack"}}
	if got := enabledChannelNames(adapters); got != "wecom,slack" {
		t.Fatalf("enabledChannelNames = %q, want %q", got, "wecom,slack")
	}
}

func TestImageClientNilWhenUnconfigured(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	if client := imageClient(cfg, t.TempDir(), slog.Default()); client != nil {
		t.Fatal("expected nil image client without credentials")
	}
}
