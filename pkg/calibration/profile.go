// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Prescayc21

// Package calibration converts raw load cell counts into physical weight.
// A Profile holds per-channel linear calibrations established by the zero
// and scale procedures; profiles are immutable snapshots so the telemetry
// path can share them without locking.
package calibration

import (
	"errors"
	"fmt"
	"time"

	"github.com/Prescayc21/SkeletonSledController/pkg/sledwire"
)

// Unit is a weight unit understood by the converter.
type Unit string

const (
	UnitGrams     Unit = "g"
	UnitKilograms Unit = "kg"
	UnitOunces    Unit = "oz"
	UnitPounds    Unit = "lb"
)

// Conversion factors. The asymmetric constants match the sled's reference
// tables rather than being exact reciprocals.
const (
	gramsPerOunce = 28.3495
	gramsPerPound = 453.592
	ouncesPerGram = 0.03527396195
	poundsPerGram = 0.00220462262
)

var (
	ErrMissingProfile = errors.New("no calibration profile for channel")
	ErrZeroScale      = errors.New("calibration scale is zero")
)

// ParseUnit normalizes a unit string, accepting the "lbs" alias.
func ParseUnit(s string) (Unit, error) {
	switch s {
	case "g":
		return UnitGrams, nil
	case "kg":
		return UnitKilograms, nil
	case "oz":
		return UnitOunces, nil
	case "lb", "lbs":
		return UnitPounds, nil
	}
	return "", fmt.Errorf("unknown unit %q", s)
}

// ConvertUnit converts a weight between units, passing through grams as
// the base unit. Unknown units convert as grams.
func ConvertUnit(value float64, from, to Unit) float64 {
	switch from {
	case UnitKilograms:
		value *= 1000
	case UnitOunces:
		value *= gramsPerOunce
	case UnitPounds:
		value *= gramsPerPound
	}

	switch to {
	case UnitKilograms:
		return value / 1000
	case UnitOunces:
		return value * ouncesPerGram
	case UnitPounds:
		return value * poundsPerGram
	}
	return value
}

// Point is one calibration measurement: the raw count observed with a
// known weight on the channel.
type Point struct {
	Raw    float64
	Weight float64
	Unit   Unit
}

// ChannelCalibration maps raw counts on one channel to weight:
// grams = (raw - ZeroOffset) * Scale, then converted to Unit.
type ChannelCalibration struct {
	ZeroOffset float64
	Scale      float64
	Unit       Unit
	Points     []Point
	RSquared   float64
}

// CalibratedSample is one channel reading in physical units.
type CalibratedSample struct {
	Channel   uint8
	Value     float64
	Unit      Unit
	Timestamp time.Time
}

// Profile is an immutable set of channel calibrations. Replace the whole
// profile to re-calibrate; never mutate one in place.
type Profile struct {
	channels [sledwire.ChannelCount]ChannelCalibration
	present  [sledwire.ChannelCount]bool
}

// NewProfile builds a profile from per-channel calibrations. Channels
// absent from the map stay uncalibrated and fail conversion.
func NewProfile(channels map[uint8]ChannelCalibration) *Profile {
	p := &Profile{}
	for ch, cal := range channels {
		if int(ch) >= sledwire.ChannelCount {
			continue
		}
		if cal.Unit == "" {
			cal.Unit = UnitGrams
		}
		p.channels[ch] = cal
		p.present[ch] = true
	}
	return p
}

// IdentityProfile maps raw counts straight through as grams on every
// channel. Useful for uncalibrated bring-up.
func IdentityProfile() *Profile {
	channels := make(map[uint8]ChannelCalibration, sledwire.ChannelCount)
	for ch := uint8(0); ch < sledwire.ChannelCount; ch++ {
		channels[ch] = ChannelCalibration{Scale: 1.0, Unit: UnitGrams}
	}
	return NewProfile(channels)
}

// Channel returns the calibration for a channel if one exists.
func (p *Profile) Channel(ch uint8) (ChannelCalibration, bool) {
	if int(ch) >= sledwire.ChannelCount || !p.present[ch] {
		return ChannelCalibration{}, false
	}
	return p.channels[ch], true
}

// WithChannel returns a new profile with one channel's calibration
// replaced. The receiver is unchanged.
func (p *Profile) WithChannel(ch uint8, cal ChannelCalibration) *Profile {
	next := &Profile{channels: p.channels, present: p.present}
	if int(ch) < sledwire.ChannelCount {
		if cal.Unit == "" {
			cal.Unit = UnitGrams
		}
		next.channels[ch] = cal
		next.present[ch] = true
	}
	return next
}

// Calibrate converts a raw sample to physical units. A channel with no
// calibration is an error, never an implicit identity conversion.
func (p *Profile) Calibrate(raw sledwire.RawSample) (CalibratedSample, error) {
	cal, ok := p.Channel(raw.Channel)
	if !ok {
		return CalibratedSample{}, fmt.Errorf("channel %d: %w", raw.Channel, ErrMissingProfile)
	}

	grams := (float64(raw.Value) - cal.ZeroOffset) * cal.Scale
	return CalibratedSample{
		Channel:   raw.Channel,
		Value:     ConvertUnit(grams, UnitGrams, cal.Unit),
		Unit:      cal.Unit,
		Timestamp: raw.Timestamp,
	}, nil
}

// Uncalibrate inverts Calibrate, recovering the raw count that would
// produce the given physical value.
func (p *Profile) Uncalibrate(ch uint8, value float64) (float64, error) {
	cal, ok := p.Channel(ch)
	if !ok {
		return 0, fmt.Errorf("channel %d: %w", ch, ErrMissingProfile)
	}
	if cal.Scale == 0 {
		return 0, fmt.Errorf("channel %d: %w", ch, ErrZeroScale)
	}
	grams := ConvertUnit(value, cal.Unit, UnitGrams)
	return grams/cal.Scale + cal.ZeroOffset, nil
}
