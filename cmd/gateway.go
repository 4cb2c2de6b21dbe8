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

	"github.com/spf13/cobra"

	"botgate/pkg/backend"
	"botgate/pkg/bus"
	"botgate/pkg/channel"
	"botgate/pkg/channel/botframework"
	"botgate/pkg/channel/telegram"
	"botgate/pkg/config"
	"botgate/pkg/gateway"
	"botgate/pkg/logger"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run channel gateway mode",
	Long:  "Runs botgate as a channel gateway with health and readiness endpoints.",
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

		adapters, err := enabledAdapters(cfg, log)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return
		}

		client, err := backend.New(cfg, log)
		if err != nil {
			log.Error("Failed to initialize backend client", "error", err)
			return
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		events := bus.NewBus()
		go logEvents(runCtx, events, log)

		svc, err := gateway.NewService(cfg, client, adapters, events, log)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return
		}

		log.Info("Gateway started", "channels", enabledChannelNames(adapters), "backend", cfg.Backend.BaseURL)
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

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 2)

	if cfg.Channels.BotFramework.Enabled {
		adapter, err := botframework.NewAdapter(cfg.Channels.BotFramework, log)
		if err != nil {
			return nil, fmt.Errorf("configure botframework channel: %w", err)
		}
		adapters = append(adapters, adapter)
	}

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure telegram channel: %w", err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}

// logEvents mirrors gateway telemetry events into the debug log until the
// context ends.
func logEvents(ctx context.Context, events *bus.Bus, log *slog.Logger) {
	ch, unsubscribe := events.Subscribe(ctx, 0)
	defer unsubscribe()

	for event := range ch {
		log.Debug("Gateway event",
			"type", string(event.Type),
			"channel", event.Channel,
			"sender_id", event.SenderID,
			"error", event.Error,
		)
	}
}
