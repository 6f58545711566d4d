// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Prescayc21

package session

import (
	"time"

	"github.com/Prescayc21/SkeletonSledController/pkg/calibration"
)

// LinkState is the coordinator-owned connection lifecycle state.
type LinkState int

const (
	StateDisconnected LinkState = iota
	StateConnecting
	StateConnected
	StateStreaming
	StateFaulted
)

func (s LinkState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateFaulted:
		return "faulted"
	}
	return "unknown"
}

// EventKind discriminates subscription events.
type EventKind int

const (
	// EventSample carries one calibrated channel reading.
	EventSample EventKind = iota

	// EventState reports a link state transition.
	EventState

	// EventFrameCorrupt reports a frame dropped by the decoder. The link
	// recovered by resynchronizing; repeated corruption faults the link.
	EventFrameCorrupt

	// EventBackpressure reports samples dropped from a slow subscriber's
	// queue. Drops are never silent.
	EventBackpressure

	// EventSafetyLimit reports that a control step clamped its output to
	// the actuator-safe range.
	EventSafetyLimit

	// EventStatus carries the sled's streaming flag and uptime.
	EventStatus

	// EventPing carries a ping response's uptime.
	EventPing

	// EventCalibrationError reports a sample that could not be converted
	// because its channel has no calibration.
	EventCalibrationError
)

func (k EventKind) String() string {
	switch k {
	case EventSample:
		return "sample"
	case EventState:
		return "state"
	case EventFrameCorrupt:
		return "frame_corrupt"
	case EventBackpressure:
		return "backpressure"
	case EventSafetyLimit:
		return "safety_limit"
	case EventStatus:
		return "status"
	case EventPing:
		return "ping"
	case EventCalibrationError:
		return "calibration_error"
	}
	return "unknown"
}

// Event is one entry in a subscriber's ordered stream. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind      EventKind
	Timestamp time.Time

	Sample    calibration.CalibratedSample // EventSample
	State     LinkState                    // EventState
	Err       error                        // EventFrameCorrupt, EventCalibrationError
	Dropped   int                          // EventBackpressure
	Streaming bool                         // EventStatus
	UptimeMs  uint64                       // EventStatus, EventPing
}
