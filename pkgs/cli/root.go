package cli

import (
	"errors"

	"github.com/keskad/satbridge/pkgs/app"
	"github.com/spf13/cobra"
)

func NewRootCommand(bridge *app.BridgeApp) *cobra.Command {
	command := &cobra.Command{
		Use:   "satbridge",
		Short: "Bridges a satellite tracking application to a rotator and a transceiver",
		RunE: func(command *cobra.Command, args []string) error {
			return errors.New("please select a command")
		},
	}

	command.PersistentFlags().BoolVarP(&bridge.Debug, "debug", "v", false, "Increase verbosity to the debug level")
	command.AddCommand(NewServeCommand(bridge))

	return command
}
