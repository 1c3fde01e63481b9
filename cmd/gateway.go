package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"wecomgw/pkg/channel"
	"wecomgw/pkg/channel/wecom"
	"wecomgw/pkg/config"
	"wecomgw/pkg/gateway"
	"wecomgw/pkg/images"
	"wecomgw/pkg/logger"
	"wecomgw/pkg/workspace"

	"github.com/spf13/cobra"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the channel gateway",
	Long:  "Runs the WeCom webhook gateway with health and readiness endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.gateway")

		workspaceRoot, err := workspace.ResolveRoot(cfg.Resolver.Workspace)
		if err != nil {
			log.Error("Failed to resolve workspace", "error", err)
			return
		}

		adapters, err := enabledAdapters(cfg, workspaceRoot, log)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := gateway.NewService(cfg, adapters, log)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return
		}

		log.Info("Gateway started", "channels", enabledChannelNames(adapters), "provider", cfg.Resolver.Provider, "model", cfg.Resolver.Model)
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Gateway runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func enabledAdapters(cfg *config.Config, workspaceRoot string, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 1)

	if cfg.Channels.Wecom.Enabled {
		adapter, err := wecom.New(wecom.Options{
			Config:    cfg.Channels.Wecom,
			Workspace: workspaceRoot,
			Images:    imageClient(cfg, workspaceRoot, log),
			Log:       log,
		})
		if err != nil {
			return nil, fmt.Errorf("configure wecom channel: %w", err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

// imageClient builds the image provider if configured; commands that need it
// report the missing configuration to the user at reply time.
func imageClient(cfg *config.Config, workspaceRoot string, log *slog.Logger) wecom.ImageClient {
	client, err := images.New(cfg.Images, workspaceRoot)
	if err != nil {
		if !errors.Is(err, images.ErrNotConfigured) {
			log.Warn("Image provider unavailable", "error", err)
		}
		return nil
	}

	return client
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
