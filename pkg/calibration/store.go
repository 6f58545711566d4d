// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Prescayc21

package calibration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/Prescayc21/SkeletonSledController/pkg/sledwire"
)

// Calibration file layout, version "2.0":
//
//	{
//	  "version": "2.0",
//	  "calibrations": [
//	    {"slope": ..., "intercept": ..., "unit": "g",
//	     "zero_offset": ..., "scale": ...,
//	     "r_squared": ...,
//	     "calibration_points": [[raw, weight, "g"], ...]},
//	    ... one entry per channel ...
//	  ]
//	}
//
// slope/intercept carry the fit in y = slope*raw + intercept form for
// compatibility with older tooling; zero_offset/scale are authoritative
// when present so a save/load cycle is bit-exact. Version 1 files
// (zero_offset/scale_factor entries, or a bare list) are migrated on load.

type calibrationFile struct {
	Version      string        `json:"version"`
	Calibrations []channelFile `json:"calibrations"`
}

type channelFile struct {
	Slope       float64     `json:"slope"`
	Intercept   float64     `json:"intercept"`
	Unit        string      `json:"unit"`
	ZeroOffset  *float64    `json:"zero_offset,omitempty"`
	Scale       *float64    `json:"scale,omitempty"`
	ScaleFactor *float64    `json:"scale_factor,omitempty"`
	RSquared    float64     `json:"r_squared,omitempty"`
	Points      []pointFile `json:"calibration_points"`
}

// pointFile serializes as the [raw, weight, unit] triple.
type pointFile struct {
	Raw    float64
	Weight float64
	Unit   string
}

func (p pointFile) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]interface{}{p.Raw, p.Weight, p.Unit})
}

func (p *pointFile) UnmarshalJSON(data []byte) error {
	var triple []json.RawMessage
	if err := json.Unmarshal(data, &triple); err != nil {
		return err
	}
	if len(triple) < 2 {
		return fmt.Errorf("calibration point needs [raw, weight], got %d elements", len(triple))
	}
	if err := json.Unmarshal(triple[0], &p.Raw); err != nil {
		return fmt.Errorf("calibration point raw value: %w", err)
	}
	if err := json.Unmarshal(triple[1], &p.Weight); err != nil {
		return fmt.Errorf("calibration point weight: %w", err)
	}
	p.Unit = "g"
	if len(triple) > 2 {
		if err := json.Unmarshal(triple[2], &p.Unit); err != nil {
			return fmt.Errorf("calibration point unit: %w", err)
		}
	}
	return nil
}

// Save writes a profile to path, replacing the file atomically. Channels
// without a calibration are written as identity entries, matching what
// Load pads in.
func Save(path string, profile *Profile) error {
	file := calibrationFile{Version: "2.0"}
	for ch := uint8(0); ch < sledwire.ChannelCount; ch++ {
		cal, ok := profile.Channel(ch)
		if !ok {
			cal = ChannelCalibration{Scale: 1.0, Unit: UnitGrams}
		}
		entry := channelFile{
			Slope:     cal.Scale,
			Intercept: -cal.ZeroOffset * cal.Scale,
			Unit:      string(cal.Unit),
			RSquared:  cal.RSquared,
			Points:    make([]pointFile, 0, len(cal.Points)),
		}
		zero, scale := cal.ZeroOffset, cal.Scale
		entry.ZeroOffset = &zero
		entry.Scale = &scale
		for _, pt := range cal.Points {
			entry.Points = append(entry.Points, pointFile{Raw: pt.Raw, Weight: pt.Weight, Unit: string(pt.Unit)})
		}
		file.Calibrations = append(file.Calibrations, entry)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding calibration: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".cal-*.json")
	if err != nil {
		return fmt.Errorf("creating calibration file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing calibration file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing calibration file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing calibration file: %w", err)
	}

	logrus.WithField("path", path).Info("Calibration saved")
	return nil
}

// Load reads a calibration file, migrating version 1 layouts. Files with
// fewer than four channel entries are padded with identity calibrations,
// extra entries are ignored.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading calibration file: %w", err)
	}

	var entries []channelFile
	var file calibrationFile
	if err := json.Unmarshal(data, &file); err == nil && file.Version != "" {
		entries = file.Calibrations
		if file.Version[0] != '2' {
			entries = migrateV1(entries)
		}
	} else {
		// Version 1 files are a bare list of channel entries.
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("unrecognized calibration file format: %w", err)
		}
		entries = migrateV1(entries)
	}

	channels := make(map[uint8]ChannelCalibration, sledwire.ChannelCount)
	for ch := uint8(0); ch < sledwire.ChannelCount; ch++ {
		if int(ch) >= len(entries) {
			channels[ch] = ChannelCalibration{Scale: 1.0, Unit: UnitGrams}
			continue
		}
		cal, err := entries[ch].toChannel()
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", ch, err)
		}
		channels[ch] = cal
	}

	logrus.WithFields(logrus.Fields{
		"path":     path,
		"channels": len(channels),
	}).Info("Calibration loaded")
	return NewProfile(channels), nil
}

func (c channelFile) toChannel() (ChannelCalibration, error) {
	unit := c.Unit
	if unit == "" {
		unit = "g"
	}
	parsed, err := ParseUnit(unit)
	if err != nil {
		return ChannelCalibration{}, err
	}

	cal := ChannelCalibration{Unit: parsed, RSquared: c.RSquared}
	switch {
	case c.ZeroOffset != nil && c.Scale != nil:
		cal.ZeroOffset = *c.ZeroOffset
		cal.Scale = *c.Scale
	case c.Slope != 0:
		cal.Scale = c.Slope
		cal.ZeroOffset = -c.Intercept / c.Slope
	default:
		cal.Scale = c.Slope
		cal.ZeroOffset = 0
	}

	for _, pt := range c.Points {
		ptUnit, err := ParseUnit(pt.Unit)
		if err != nil {
			return ChannelCalibration{}, err
		}
		cal.Points = append(cal.Points, Point{Raw: pt.Raw, Weight: pt.Weight, Unit: ptUnit})
	}
	return cal, nil
}

// migrateV1 converts zero_offset/scale_factor entries to the fit form:
// (raw - offset) * scale == scale*raw + (-offset*scale).
func migrateV1(old []channelFile) []channelFile {
	migrated := make([]channelFile, len(old))
	for i, c := range old {
		scale := 1.0
		if c.ScaleFactor != nil {
			scale = *c.ScaleFactor
		}
		offset := 0.0
		if c.ZeroOffset != nil {
			offset = *c.ZeroOffset
		}
		migrated[i] = channelFile{
			Slope:      scale,
			Intercept:  -offset * scale,
			Unit:       c.Unit,
			ZeroOffset: &offset,
			Scale:      &scale,
		}
	}
	return migrated
}
