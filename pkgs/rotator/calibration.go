package rotator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadCalibration reads a persisted CalibrationRecord from path. A missing
// file is not an error: it returns a sentinel (uncalibrated) record, which
// the cold-start algorithm treats as "calibration absent on startup".
func LoadCalibration(path string) (CalibrationRecord, error) {
	rec := CalibrationRecord{AzPulses: Unknown, ElPulses: Unknown}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rec, nil
		}
		return rec, fmt.Errorf("rotator: cannot read calibration file %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &rec); err != nil {
		return CalibrationRecord{AzPulses: Unknown, ElPulses: Unknown}, fmt.Errorf("rotator: cannot parse calibration file %q: %w", path, err)
	}
	return rec, nil
}

// SaveCalibration persists rec to path. Per the design, this is only
// meaningful (and only called by Coordinator) at clean shutdown when both
// values are non-sentinel; SaveCalibration itself does not enforce that so
// it stays simple and testable in isolation.
func SaveCalibration(path string, rec CalibrationRecord) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("rotator: cannot encode calibration: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("rotator: cannot write calibration file %q: %w", path, err)
	}
	return nil
}
