// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Prescayc21

package sledwire

// Command builder functions create Packet structs ready for encoding.
// These are convenience wrappers around NewPacketWithPayload that ensure
// correct payload key usage per the sledwire protocol.

// NewStreamStart creates a STREAM_START packet (0x10).
// The sled acknowledges with STATUS_DATA (streaming=true) and begins
// emitting LOAD_DATA at the configured interval.
func NewStreamStart() *Packet {
	return NewPacketWithPayload(MsgStreamStart, nil)
}

// NewStreamStop creates a STREAM_STOP packet (0x11).
// The sled acknowledges with STATUS_DATA (streaming=false).
func NewStreamStop() *Packet {
	return NewPacketWithPayload(MsgStreamStop, nil)
}

// NewReadRequest creates a READ_REQUEST packet (0x12).
// The sled responds with exactly one LOAD_DATA packet.
func NewReadRequest() *Packet {
	return NewPacketWithPayload(MsgReadRequest, nil)
}

// NewStreamConfig creates a STREAM_CONFIG packet (0x13).
// Sets the LOAD_DATA emission interval. intervalMs=0 restores the
// device default (500 ms).
func NewStreamConfig(intervalMs uint32) *Packet {
	payload := map[int]interface{}{
		0: uint64(intervalMs),
	}
	return NewPacketWithPayload(MsgStreamConfig, payload)
}

// NewActuatorCommand creates an ACTUATOR_COMMAND packet (0x20).
// Commands the trim actuator on the given channel. The value unit is
// device-native actuator counts.
func NewActuatorCommand(channel uint8, kind ActuatorKind, value int32) *Packet {
	payload := map[int]interface{}{
		0: int64(channel),
		1: int64(kind),
		2: int64(value),
	}
	return NewPacketWithPayload(MsgActuatorCommand, payload)
}

// NewTareCommand creates a TARE_COMMAND packet (0x21).
// The sled captures its current readings as the tare baseline.
func NewTareCommand() *Packet {
	return NewPacketWithPayload(MsgTareCommand, nil)
}

// NewPingRequest creates a PING_REQUEST packet (0x2F).
// The sled responds with PING_RESPONSE containing uptime.
func NewPingRequest() *Packet {
	return NewPacketWithPayload(MsgPingRequest, nil)
}

// NewSimSet creates a SIM_SET packet (0x1E).
// Only the simulated transport honors it: it replaces the simulator's base
// load values. For SimPresetValues, values must hold ChannelCount entries in
// raw counts; for the other presets values is ignored.
func NewSimSet(preset SimPreset, values []int64) *Packet {
	payload := map[int]interface{}{
		0: int64(preset),
	}
	if preset == SimPresetValues {
		arr := make([]interface{}, len(values))
		for i, v := range values {
			arr[i] = v
		}
		payload[1] = arr
	}
	return NewPacketWithPayload(MsgSimSet, payload)
}

// NewLoadData creates a LOAD_DATA packet (0x30).
// Used by the simulated transport and by tests; the real sled builds
// these on the device side.
func NewLoadData(seq uint64, values []int64) *Packet {
	arr := make([]interface{}, len(values))
	for i, v := range values {
		arr[i] = v
	}
	payload := map[int]interface{}{
		loadKeyValues: arr,
		loadKeySeq:    seq,
	}
	return NewPacketWithPayload(MsgLoadData, payload)
}

// NewStatusData creates a STATUS_DATA packet (0x31).
func NewStatusData(streaming bool, uptimeMs uint64) *Packet {
	payload := map[int]interface{}{
		statusKeyStreaming: streaming,
		statusKeyUptimeMs:  uptimeMs,
	}
	return NewPacketWithPayload(MsgStatusData, payload)
}

// NewPingResponse creates a PING_RESPONSE packet (0x3F).
func NewPingResponse(uptimeMs uint64) *Packet {
	payload := map[int]interface{}{
		0: uptimeMs,
	}
	return NewPacketWithPayload(MsgPingResponse, payload)
}
