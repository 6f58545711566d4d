// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Prescayc21

// Package sledwire provides the Go implementation of the skeleton sled
// serial protocol.
//
// Sledwire is a binary protocol for communication between the desktop
// controller and the sled instrumentation board, carried over a serial,
// Bluetooth, or WebSocket link. This package provides packet encoding and
// decoding, CRC validation, and payload formatting. It owns no I/O.
package sledwire

// Protocol framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Packet size limits
const (
	MaxPacketSize  = 128 // 5 overhead + 123 payload
	MaxPayloadSize = 114
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Number of load cell channels on the sled
const ChannelCount = 4

// Message types - Stream Control Commands (Controller → Sled) 0x10-0x1F
const (
	MsgStreamStart  = 0x10
	MsgStreamStop   = 0x11
	MsgReadRequest  = 0x12
	MsgStreamConfig = 0x13
	MsgSimSet       = 0x1E
)

// Message types - Control Commands (Controller → Sled) 0x20-0x2F
const (
	MsgActuatorCommand = 0x20
	MsgTareCommand     = 0x21
	MsgPingRequest     = 0x2F
)

// Message types - Telemetry Data (Sled → Controller) 0x30-0x3F
const (
	MsgLoadData     = 0x30
	MsgStatusData   = 0x31
	MsgPingResponse = 0x3F
)

// Message types - Errors (Bidirectional) 0xE0-0xEF
const (
	MsgErrorInvalidCmd = 0xE0
)

// Decoder states (internal)
// Message type is embedded in the CBOR payload, not a separate field
const (
	stateIdle = iota
	stateLength
	statePayload
	stateCRC1
	stateCRC2
)

// LOAD_DATA payload keys
const (
	loadKeyValues = 0
	loadKeySeq    = 1
)

// STATUS_DATA payload keys
const (
	statusKeyStreaming = 0
	statusKeyUptimeMs  = 1
)

// ActuatorKind represents actuator command kinds for ACTUATOR_COMMAND
type ActuatorKind int

// Actuator command kind values
const (
	ActuatorKindTrim ActuatorKind = 0x00
	ActuatorKindHold ActuatorKind = 0x01
	ActuatorKindStop ActuatorKind = 0x02
)

// SimPreset represents preset load distributions for SIM_SET
type SimPreset int

// Simulator preset values
const (
	SimPresetValues SimPreset = 0x00
	SimPresetEven   SimPreset = 0x01
	SimPresetUneven SimPreset = 0x02
	SimPresetRandom SimPreset = 0x03
)
