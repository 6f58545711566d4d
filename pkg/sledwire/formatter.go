// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Prescayc21

package sledwire

import (
	"fmt"
	"strings"
)

// FormatMessageType returns a human-readable name for a message type
func FormatMessageType(msgType uint8) string {
	switch msgType {
	// Stream control
	case MsgStreamStart:
		return "STREAM_START"
	case MsgStreamStop:
		return "STREAM_STOP"
	case MsgReadRequest:
		return "READ_REQUEST"
	case MsgStreamConfig:
		return "STREAM_CONFIG"
	case MsgSimSet:
		return "SIM_SET"

	// Control
	case MsgActuatorCommand:
		return "ACTUATOR_COMMAND"
	case MsgTareCommand:
		return "TARE_COMMAND"
	case MsgPingRequest:
		return "PING_REQUEST"

	// Telemetry
	case MsgLoadData:
		return "LOAD_DATA"
	case MsgStatusData:
		return "STATUS_DATA"
	case MsgPingResponse:
		return "PING_RESPONSE"

	// Errors
	case MsgErrorInvalidCmd:
		return "ERROR_INVALID_CMD"

	default:
		return "UNKNOWN"
	}
}

// FormatPacket formats a decoded packet in human-readable form
func FormatPacket(p *Packet) string {
	timestamp := p.Timestamp().Format("15:04:05.000")
	msgType := FormatMessageType(p.Type())

	result := fmt.Sprintf("[%s] %s (0x%02X) len=%d\n", timestamp, msgType, p.Type(), p.Length())

	if p.PayloadMap() != nil {
		result += FormatPayloadMap(p.Type(), p.PayloadMap())
	}

	return result
}

// FormatPayloadMap formats a decoded payload map for a given message type
func FormatPayloadMap(msgType uint8, payload map[int]interface{}) string {
	switch msgType {
	case MsgLoadData:
		values, ok := GetMapIntSlice(payload, loadKeyValues)
		if !ok {
			return "  (malformed values)\n"
		}
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = fmt.Sprintf("ch%d=%d", i, v)
		}
		seq, _ := GetMapUint(payload, loadKeySeq)
		return fmt.Sprintf("  Seq: %d  Raw: %s\n", seq, strings.Join(parts, " "))

	case MsgStatusData:
		streaming, _ := GetMapBool(payload, statusKeyStreaming)
		uptime, _ := GetMapUint(payload, statusKeyUptimeMs)
		return fmt.Sprintf("  Streaming: %t  Uptime: %.2f sec\n", streaming, float64(uptime)/1000.0)

	case MsgPingResponse:
		uptime, ok := GetMapUint(payload, 0)
		if !ok {
			return "  (no uptime)\n"
		}
		return fmt.Sprintf("  Uptime: %d ms (%.2f sec)\n", uptime, float64(uptime)/1000.0)

	case MsgActuatorCommand:
		channel, _ := GetMapInt(payload, 0)
		kind, _ := GetMapInt(payload, 1)
		value, _ := GetMapInt(payload, 2)
		return fmt.Sprintf("  Channel: %d  Kind: %s  Value: %d\n", channel, formatActuatorKind(ActuatorKind(kind)), value)

	case MsgStreamConfig:
		interval, _ := GetMapUint(payload, 0)
		return fmt.Sprintf("  Interval: %d ms\n", interval)

	case MsgErrorInvalidCmd:
		code, _ := GetMapUint(payload, 0)
		return fmt.Sprintf("  Rejected type: 0x%02X\n", code)
	}

	return fmt.Sprintf("  Payload: %v\n", payload)
}

func formatActuatorKind(kind ActuatorKind) string {
	switch kind {
	case ActuatorKindTrim:
		return "TRIM"
	case ActuatorKindHold:
		return "HOLD"
	case ActuatorKindStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}
