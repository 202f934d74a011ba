package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"nacoshost/internal/config"
	"nacoshost/internal/host"
	"nacoshost/internal/sample"
)

// impls is the fixed set of concrete service implementations this binary
// exposes. A config entry's service.<k>.enable flag turns each on; the key
// must match one of these names.
func impls() map[string]any {
	return map[string]any{
		"demo":  &sample.Demo{},
		"login": &sample.Session{},
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the host: register services, run heartbeats, watch configs, serve RPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader := config.NewLoader(*configPath, "NACOSHOST")
			cfg, err := loader.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			meter := otel.GetMeterProvider().Meter("nacoshost")

			h, err := host.New(cfg, impls(), host.WithMeter(meter))
			if err != nil {
				return fmt.Errorf("build host: %w", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return h.Start(ctx)
		},
	}
}
