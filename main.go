package main

import (
	"os"

	"github.com/keskad/satbridge/pkgs/app"
	"github.com/keskad/satbridge/pkgs/cli"
	"github.com/keskad/satbridge/pkgs/output"
)

func main() {
	bridge := app.BridgeApp{P: output.ConsolePrinter{}}
	cmd := cli.NewRootCommand(&bridge)
	args := os.Args
	if args != nil {
		args = args[1:]
		cmd.SetArgs(args)
	}
	err := cmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
