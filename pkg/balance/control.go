// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Prescayc21

package balance

import (
	"math"
	"time"

	"github.com/Prescayc21/SkeletonSledController/pkg/calibration"
	"github.com/Prescayc21/SkeletonSledController/pkg/sledwire"
)

// Control law defaults, in trim actuator counts.
const (
	DefaultGain            = 0.4
	DefaultMaxDeltaPerStep = 50.0
	DefaultOutputLimit     = 1000.0
	DefaultCommandValidity = time.Second
)

// EngineConfig tunes the per-channel control law.
type EngineConfig struct {
	// Gain scales the weight error (channel units) into actuator counts.
	Gain float64

	// MaxDeltaPerStep rate-limits actuator motion: the output moves at
	// most this many counts per step.
	MaxDeltaPerStep float64

	// MinOutput/MaxOutput is the actuator-safe range. Outputs are clamped
	// to it and the clamp is reported, not raised.
	MinOutput float64
	MaxOutput float64

	// Validity bounds how long an emitted command may wait before being
	// sent. Stale commands are dropped by the sender.
	Validity time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.Gain == 0 {
		c.Gain = DefaultGain
	}
	if c.MaxDeltaPerStep == 0 {
		c.MaxDeltaPerStep = DefaultMaxDeltaPerStep
	}
	if c.MinOutput == 0 && c.MaxOutput == 0 {
		c.MinOutput = -DefaultOutputLimit
		c.MaxOutput = DefaultOutputLimit
	}
	if c.Validity == 0 {
		c.Validity = DefaultCommandValidity
	}
	return c
}

// Command is one outbound actuator instruction. Deadline is the validity
// cutoff: a command still unsent past it must be discarded.
type Command struct {
	Channel  uint8
	Kind     sledwire.ActuatorKind
	Value    int32
	Deadline time.Time
}

// Expired reports whether the command's validity window has passed.
func (c Command) Expired(now time.Time) bool {
	return now.After(c.Deadline)
}

// StepResult carries one control step's output. SafetyLimitHit is set
// when any channel's output was clamped this step; it is a condition to
// surface, not an error.
type StepResult struct {
	Commands       []Command
	SafetyLimitHit bool
}

// Engine implements a bounded proportional control law per channel:
// each step it moves the channel's actuator position toward the setpoint
// by at most MaxDeltaPerStep counts, clamped to the safe output range.
// It is stepped once per telemetry batch, never per individual sample.
// Not safe for concurrent use; the session owns it.
type Engine struct {
	cfg      EngineConfig
	position [sledwire.ChannelCount]float64
}

func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// Step consumes one batch of calibrated samples and produces at most one
// command per channel that has both a fresh sample and a setpoint.
func (e *Engine) Step(samples []calibration.CalibratedSample, setpoints map[uint8]float64, now time.Time) StepResult {
	var result StepResult

	// Latest sample wins when a batch carries several per channel.
	latest := make(map[uint8]calibration.CalibratedSample, len(samples))
	for _, s := range samples {
		latest[s.Channel] = s
	}

	for ch := uint8(0); ch < sledwire.ChannelCount; ch++ {
		sample, ok := latest[ch]
		if !ok {
			continue
		}
		setpoint, ok := setpoints[ch]
		if !ok {
			continue
		}

		delta := e.cfg.Gain * (setpoint - sample.Value)
		if delta > e.cfg.MaxDeltaPerStep {
			delta = e.cfg.MaxDeltaPerStep
		} else if delta < -e.cfg.MaxDeltaPerStep {
			delta = -e.cfg.MaxDeltaPerStep
		}

		target := e.position[ch] + delta
		if target > e.cfg.MaxOutput {
			target = e.cfg.MaxOutput
			result.SafetyLimitHit = true
		} else if target < e.cfg.MinOutput {
			target = e.cfg.MinOutput
			result.SafetyLimitHit = true
		}

		if target == e.position[ch] {
			continue
		}
		move := target - e.position[ch]
		e.position[ch] = target

		result.Commands = append(result.Commands, Command{
			Channel:  ch,
			Kind:     sledwire.ActuatorKindTrim,
			Value:    int32(math.Round(move)),
			Deadline: now.Add(e.cfg.Validity),
		})
	}

	return result
}

// Position returns the engine's tracked actuator position for a channel.
func (e *Engine) Position(ch uint8) float64 {
	if int(ch) >= sledwire.ChannelCount {
		return 0
	}
	return e.position[ch]
}

// Reset clears the tracked actuator positions, for use after a HOLD or
// STOP actuation releases the trim state.
func (e *Engine) Reset() {
	e.position = [sledwire.ChannelCount]float64{}
}
