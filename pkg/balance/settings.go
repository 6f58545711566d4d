// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Prescayc21

package balance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// TrayGeometry describes one ballast tray as a grid of weight slots.
// Dimensions are centimeters; YPosition is the grid's vertical center.
type TrayGeometry struct {
	Rows          int     `json:"rows"`
	Columns       int     `json:"columns"`
	YPosition     float64 `json:"y_position"`
	CellWidth     float64 `json:"cell_width"`
	CellHeight    float64 `json:"cell_height"`
	WallThickness float64 `json:"wall_thickness"`
}

// RigSettings is the sled geometry: load cell positions, the ideal
// center of mass, and the two ballast trays.
type RigSettings struct {
	SensorPositions []Point      `json:"sensor_positions"`
	IdealCOM        Point        `json:"ideal_com"`
	FrontTray       TrayGeometry `json:"weight_tray1"`
	BackTray        TrayGeometry `json:"weight_tray2"`
}

// DefaultRigSettings returns the factory sled geometry.
func DefaultRigSettings() RigSettings {
	return RigSettings{
		SensorPositions: []Point{
			{X: 19.0, Y: 0.0},
			{X: -19.0, Y: 0.0},
			{X: -19.0, Y: 26.5},
			{X: 19.0, Y: 26.5},
		},
		IdealCOM: Point{X: 0.0, Y: 13.25},
		FrontTray: TrayGeometry{
			Rows: 7, Columns: 8, YPosition: 24.5,
			CellWidth: 3.5, CellHeight: 2.2, WallThickness: 0.3,
		},
		BackTray: TrayGeometry{
			Rows: 6, Columns: 8, YPosition: 2.0,
			CellWidth: 3.5, CellHeight: 2.2, WallThickness: 0.3,
		},
	}
}

// LoadRigSettings reads sled geometry from a JSON file. A missing file is
// not an error: the defaults apply.
func LoadRigSettings(path string) (RigSettings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logrus.WithField("path", path).Debug("No rig settings file, using defaults")
		return DefaultRigSettings(), nil
	}
	if err != nil {
		return RigSettings{}, fmt.Errorf("reading rig settings: %w", err)
	}

	settings := DefaultRigSettings()
	if err := json.Unmarshal(data, &settings); err != nil {
		return RigSettings{}, fmt.Errorf("parsing rig settings: %w", err)
	}
	if len(settings.SensorPositions) != 4 {
		return RigSettings{}, fmt.Errorf("rig settings: expected 4 sensor positions, got %d", len(settings.SensorPositions))
	}

	logrus.WithField("path", path).Info("Rig settings loaded")
	return settings, nil
}

// SaveRigSettings writes sled geometry to a JSON file, replacing it
// atomically.
func SaveRigSettings(path string, settings RigSettings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding rig settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".rig-*.json")
	if err != nil {
		return fmt.Errorf("creating rig settings file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing rig settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing rig settings: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing rig settings: %w", err)
	}

	logrus.WithField("path", path).Info("Rig settings saved")
	return nil
}
