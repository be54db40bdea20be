package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Rotator configures the UDP link to the azimuth/elevation motor controller.
type Rotator struct {
	Host           string
	RequestPort    uint16
	EventPort      uint16
	AzSpeedPercent int
	ElSpeedPercent int
}

// Protoserver configures the two hamlib-dialect TCP listeners.
type Protoserver struct {
	RotctldAddr string
	RigctldAddr string
}

// CAT configures the serial link to the transceiver.
type CAT struct {
	Device   string
	BaudRate int
	Dialect  string
}

// Metrics configures the Prometheus HTTP endpoint.
type Metrics struct {
	Addr string
}

// Configuration is the top-level, viper-populated settings struct covering
// the rotator link, the two protocol listeners, the CAT link and the
// metrics endpoint.
type Configuration struct {
	Rotator     Rotator
	Protoserver Protoserver
	CAT         CAT
	Metrics     Metrics

	// CalibrationPath is where the persisted CalibrationRecord lives. The
	// default, "calibration.yaml", is relative to the process's working
	// directory, not to the config file's location.
	CalibrationPath string
}

// NewConfig reads satbridge.yaml from the current directory or $HOME: a
// single viper.New() instance with SetDefault for every value, then
// Unmarshal into a typed struct. A missing config file is not an error; the
// defaults stand in for it.
func NewConfig() (*Configuration, error) {
	config := Configuration{}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("satbridge")
	v.AddConfigPath("$HOME/")
	v.AddConfigPath(".")

	v.SetDefault("rotator.host", "127.0.0.1")
	v.SetDefault("rotator.requestport", 8888)
	v.SetDefault("rotator.eventport", 8889)
	v.SetDefault("rotator.azspeedpercent", 30)
	v.SetDefault("rotator.elspeedpercent", 20)

	v.SetDefault("protoserver.rotctldaddr", "localhost:4533")
	v.SetDefault("protoserver.rigctldaddr", "localhost:4532")

	v.SetDefault("cat.device", "/dev/ttyUSB0")
	v.SetDefault("cat.baudrate", 9600)
	v.SetDefault("cat.dialect", "ft817nd")

	v.SetDefault("metrics.addr", "localhost:9100")

	v.SetDefault("calibrationpath", "calibration.yaml")

	if err := v.ReadInConfig(); err != nil {
		// a missing config file is fine; defaults carry the process
		if !strings.Contains(err.Error(), "Not Found") {
			return &Configuration{}, fmt.Errorf("cannot parse config: %s", err.Error())
		}
	}
	if err := v.Unmarshal(&config); err != nil {
		return &config, fmt.Errorf("cannot parse config: %s", err.Error())
	}

	return &config, nil
}
