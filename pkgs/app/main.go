package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/keskad/satbridge/pkgs/cat/serialcat"
	"github.com/keskad/satbridge/pkgs/config"
	"github.com/keskad/satbridge/pkgs/coordinator"
	"github.com/keskad/satbridge/pkgs/metrics"
	"github.com/keskad/satbridge/pkgs/output"
	"github.com/keskad/satbridge/pkgs/protoserver/rigctld"
	"github.com/keskad/satbridge/pkgs/protoserver/rotctld"
	"github.com/keskad/satbridge/pkgs/rotator"
)

// BridgeApp is the controller level: Initialize parses arguments/config, then
// Serve wires every component together and blocks for the process lifetime,
// the way LocoApp sequenced Initialize -> initializeCommandStation before a
// one-shot CLI verb could run.
type BridgeApp struct {
	Config *config.Configuration

	// runtime parameters
	Debug bool
	P     output.Printer
}

// Initialize reads configuration and sets the log level. It is run once,
// after flag parsing, before Serve.
func (app *BridgeApp) Initialize() error {
	if app.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	logrus.Debug("Reading configuration files")
	cfg, cfgErr := config.NewConfig()
	app.Config = cfg
	if cfgErr != nil {
		return fmt.Errorf("cannot initialize app: %s", cfgErr)
	}
	return nil
}

// Serve wires the rotator client/event receiver, the CAT backend, both
// protocol servers and the metrics endpoint into a Coordinator, then runs it
// until ctx is canceled.
func (app *BridgeApp) Serve(ctx context.Context) error {
	app.P.Printf("satbridge: rotator %s:%d/%d, rotctld %s, rigctld %s, cat %s\n",
		app.Config.Rotator.Host, app.Config.Rotator.RequestPort, app.Config.Rotator.EventPort,
		app.Config.Protoserver.RotctldAddr, app.Config.Protoserver.RigctldAddr, app.Config.CAT.Device)

	rotClient, err := rotator.NewClient(app.Config.Rotator.Host, app.Config.Rotator.RequestPort)
	if err != nil {
		return fmt.Errorf("cannot initialize app: %s", err)
	}

	eventRx, err := rotator.NewEventReceiver(app.Config.Rotator.EventPort)
	if err != nil {
		return fmt.Errorf("cannot initialize app: %s", err)
	}

	catSvc, err := serialcat.New(app.Config.CAT.Device, app.Config.CAT.BaudRate, app.Config.CAT.Dialect)
	if err != nil {
		return fmt.Errorf("cannot initialize app: %s", err)
	}

	metricsReg := metrics.New(app.Config.Metrics.Addr)

	rigSrv := rigctld.New(app.Config.Protoserver.RigctldAddr, catSvc)
	rotSrv := rotctld.New(app.Config.Protoserver.RotctldAddr, nil) // Rotator wired by Coordinator.Run once calibration is loaded

	cfg := coordinator.DefaultConfig()
	cfg.CalibrationPath = app.Config.CalibrationPath
	cfg.AzSpeedPercent = app.Config.Rotator.AzSpeedPercent
	cfg.ElSpeedPercent = app.Config.Rotator.ElSpeedPercent

	coord := coordinator.New(cfg, rotClient, eventRx, catSvc, rotSrv, rigSrv, metricsReg)
	logrus.AddHook(coord.LogHook())

	return coord.Run(ctx)
}
