// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Prescayc21

package sledwire

import "fmt"

// AnomalyType represents different types of packet anomalies
type AnomalyType int

const (
	AnomalyInvalidCount AnomalyType = iota
	AnomalyLengthMismatch
	AnomalyInvalidValue
	AnomalyOutOfRange
	AnomalyCRCError
	AnomalyDecodeError
)

// Raw ADC counts outside this window indicate a wiring or sensor fault,
// not a plausible load.
const (
	MinRawCount = -(1 << 23)
	MaxRawCount = (1 << 23) - 1
)

// ValidationError represents a packet validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidatePacket validates packet structure and detects anomalies
// Returns a slice of validation errors (empty if packet is valid)
func ValidatePacket(p *Packet) []ValidationError {
	errors := []ValidationError{}

	switch p.Type() {
	case MsgLoadData:
		errors = append(errors, validateLoadData(p)...)
	case MsgStatusData:
		errors = append(errors, validateStatusData(p)...)
	case MsgActuatorCommand:
		errors = append(errors, validateActuatorCommand(p)...)
	}

	return errors
}

// validateLoadData validates LOAD_DATA packet
func validateLoadData(p *Packet) []ValidationError {
	values, ok := GetMapIntSlice(p.PayloadMap(), loadKeyValues)
	if !ok {
		return []ValidationError{{
			Type:    AnomalyLengthMismatch,
			Message: "LOAD_DATA missing values array",
			Details: map[string]interface{}{"keys": len(p.PayloadMap())},
		}}
	}

	errors := []ValidationError{}
	if len(values) != ChannelCount {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidCount,
			Message: fmt.Sprintf("LOAD_DATA carries %d values (expected %d)", len(values), ChannelCount),
			Details: map[string]interface{}{"count": len(values), "expected": ChannelCount},
		})
	}

	for i, v := range values {
		if v < MinRawCount || v > MaxRawCount {
			errors = append(errors, ValidationError{
				Type:    AnomalyOutOfRange,
				Message: fmt.Sprintf("channel %d raw value %d outside ADC range", i, v),
				Details: map[string]interface{}{"channel": i, "value": v},
			})
		}
	}

	return errors
}

// validateStatusData validates STATUS_DATA packet
func validateStatusData(p *Packet) []ValidationError {
	if _, ok := GetMapBool(p.PayloadMap(), statusKeyStreaming); !ok {
		return []ValidationError{{
			Type:    AnomalyInvalidValue,
			Message: "STATUS_DATA missing streaming flag",
			Details: map[string]interface{}{},
		}}
	}
	return nil
}

// validateActuatorCommand validates ACTUATOR_COMMAND packet
func validateActuatorCommand(p *Packet) []ValidationError {
	errors := []ValidationError{}

	channel, ok := GetMapInt(p.PayloadMap(), 0)
	if !ok || channel < 0 || channel >= ChannelCount {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("ACTUATOR_COMMAND invalid channel %d", channel),
			Details: map[string]interface{}{"channel": channel},
		})
	}

	kind, ok := GetMapInt(p.PayloadMap(), 1)
	if !ok || kind < int64(ActuatorKindTrim) || kind > int64(ActuatorKindStop) {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("ACTUATOR_COMMAND invalid kind %d", kind),
			Details: map[string]interface{}{"kind": kind},
		})
	}

	return errors
}
