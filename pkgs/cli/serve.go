package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/keskad/satbridge/pkgs/app"
)

// NewServeCommand is the daemon entrypoint: parse config, start the
// Coordinator, block until SIGINT/SIGTERM, then let Coordinator.Run shut
// every worker down cleanly before returning.
func NewServeCommand(bridge *app.BridgeApp) *cobra.Command {
	command := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge daemon",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, args []string) error {
			if err := bridge.Initialize(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logrus.Info("satbridge: starting")
			err := bridge.Serve(ctx)
			logrus.Info("satbridge: stopped")
			return err
		},
	}

	return command
}
