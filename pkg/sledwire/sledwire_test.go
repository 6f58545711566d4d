// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Prescayc21

package sledwire

import (
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ============================================================
// CBOR Test Helpers
// ============================================================

// buildCBORPayload creates a CBOR-encoded message: [msgType, payloadMap]
func buildCBORPayload(msgType uint8, payload map[int]interface{}) []byte {
	var msg interface{}
	if payload == nil {
		msg = []interface{}{uint64(msgType), nil}
	} else {
		msg = []interface{}{uint64(msgType), payload}
	}
	data, err := cbor.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return data
}

// buildCBOREmptyPayload creates a CBOR-encoded message with nil payload
func buildCBOREmptyPayload(msgType uint8) []byte {
	return buildCBORPayload(msgType, nil)
}

// feedBytes runs a byte slice through a decoder, returning decoded packets
// and decode errors in order of occurrence
func feedBytes(d *Decoder, data []byte) ([]*Packet, []error) {
	var packets []*Packet
	var errs []error
	for _, b := range data {
		p, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
		}
		if p != nil {
			packets = append(packets, p)
		}
	}
	return packets, errs
}

// ============================================================
// CRC Tests
// ============================================================

func TestCalculateCRC_Empty(t *testing.T) {
	crc := CalculateCRC([]byte{})
	if crc != crcInitial {
		t.Errorf("CRC of empty data should be initial value, got 0x%04X", crc)
	}
}

func TestCalculateCRC_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{
			name:     "ASCII '123456789'",
			data:     []byte("123456789"),
			expected: 0x29B1, // Standard CRC-16-CCITT check value
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crc := CalculateCRC(tt.data)
			if crc != tt.expected {
				t.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", tt.expected, crc)
			}
		})
	}
}

func TestCalculateCRC_Deterministic(t *testing.T) {
	data := []byte{0x10, 0x30, 0x01, 0x02, 0x03, 0x04}
	crc1 := CalculateCRC(data)
	crc2 := CalculateCRC(data)
	if crc1 != crc2 {
		t.Errorf("CRC should be deterministic: 0x%04X != 0x%04X", crc1, crc2)
	}
}

// ============================================================
// CBOR Parsing Tests
// ============================================================

func TestParseCBORMessage_Empty(t *testing.T) {
	_, _, err := ParseCBORMessage([]byte{})
	if err == nil {
		t.Error("Expected error for empty CBOR payload")
	}
}

func TestParseCBORMessage_PingRequest(t *testing.T) {
	data := buildCBOREmptyPayload(MsgPingRequest)
	msgType, payload, err := ParseCBORMessage(data)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if msgType != MsgPingRequest {
		t.Errorf("Expected MsgPingRequest (0x2F), got 0x%02X", msgType)
	}
	if payload != nil {
		t.Errorf("Expected nil payload, got %v", payload)
	}
}

func TestParseCBORMessage_LoadData(t *testing.T) {
	payload := map[int]interface{}{
		loadKeyValues: []interface{}{int64(100), int64(102), int64(98), int64(101)},
		loadKeySeq:    uint64(7),
	}
	data := buildCBORPayload(MsgLoadData, payload)
	msgType, parsed, err := ParseCBORMessage(data)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if msgType != MsgLoadData {
		t.Errorf("Expected MsgLoadData (0x30), got 0x%02X", msgType)
	}
	values, ok := GetMapIntSlice(parsed, loadKeyValues)
	if !ok {
		t.Fatal("Missing values array")
	}
	if len(values) != 4 || values[0] != 100 || values[2] != 98 {
		t.Errorf("Unexpected values: %v", values)
	}
	seq, ok := GetMapUint(parsed, loadKeySeq)
	if !ok || seq != 7 {
		t.Errorf("Expected seq 7, got %d (ok=%t)", seq, ok)
	}
}

func TestGetMapHelpers(t *testing.T) {
	m := map[int]interface{}{
		0: uint64(42),
		1: int64(-17),
		2: true,
		3: float64(3.5),
		4: []interface{}{int64(1), uint64(2)},
	}

	if v, ok := GetMapUint(m, 0); !ok || v != 42 {
		t.Errorf("GetMapUint(0) = %d, %t", v, ok)
	}
	if v, ok := GetMapInt(m, 1); !ok || v != -17 {
		t.Errorf("GetMapInt(1) = %d, %t", v, ok)
	}
	if _, ok := GetMapUint(m, 1); ok {
		t.Error("GetMapUint should reject negative int64")
	}
	if v, ok := GetMapBool(m, 2); !ok || !v {
		t.Errorf("GetMapBool(2) = %t, %t", v, ok)
	}
	if v, ok := GetMapFloat(m, 3); !ok || v != 3.5 {
		t.Errorf("GetMapFloat(3) = %f, %t", v, ok)
	}
	if v, ok := GetMapIntSlice(m, 4); !ok || len(v) != 2 || v[0] != 1 || v[1] != 2 {
		t.Errorf("GetMapIntSlice(4) = %v, %t", v, ok)
	}
	if _, ok := GetMapUint(m, 99); ok {
		t.Error("Missing key should return false")
	}
	if _, ok := GetMapUint(nil, 0); ok {
		t.Error("Nil map should return false")
	}
}

// ============================================================
// Packet Tests
// ============================================================

func TestNewPacket(t *testing.T) {
	payload := buildCBOREmptyPayload(MsgPingRequest)
	p := NewPacket(uint8(len(payload)), payload, 0x1234)

	if p.Length() != uint8(len(payload)) {
		t.Errorf("Length mismatch: %d", p.Length())
	}
	if p.CRC() != 0x1234 {
		t.Errorf("CRC mismatch: 0x%04X", p.CRC())
	}
	if p.Type() != MsgPingRequest {
		t.Errorf("Type mismatch: 0x%02X", p.Type())
	}
}

func TestPacket_Timestamp(t *testing.T) {
	before := time.Now()
	p := NewPacketWithPayload(MsgPingRequest, nil)
	after := time.Now()

	if p.Timestamp().Before(before) || p.Timestamp().After(after) {
		t.Error("Timestamp should be set at packet creation")
	}
}

func TestPacket_IsTelemetry(t *testing.T) {
	if !NewPacketWithPayload(MsgLoadData, nil).IsTelemetry() {
		t.Error("LOAD_DATA should be telemetry")
	}
	if NewPacketWithPayload(MsgStreamStart, nil).IsTelemetry() {
		t.Error("STREAM_START should not be telemetry")
	}
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecoder_Reset(t *testing.T) {
	d := NewDecoder()
	d.DecodeByte(StartByte)
	d.DecodeByte(0x05)
	d.Reset()

	if d.state != stateIdle {
		t.Errorf("State should be idle after reset, got %d", d.state)
	}
	if d.bufferIndex != 0 {
		t.Errorf("Buffer index should be 0 after reset, got %d", d.bufferIndex)
	}
}

func TestDecoder_SimplePacket(t *testing.T) {
	wire, err := EncodePacketFromValues(MsgPingRequest, nil)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	d := NewDecoder()
	packets, errs := feedBytes(d, wire)
	if len(errs) > 0 {
		t.Fatalf("Unexpected decode errors: %v", errs)
	}
	if len(packets) != 1 {
		t.Fatalf("Expected 1 packet, got %d", len(packets))
	}
	if packets[0].Type() != MsgPingRequest {
		t.Errorf("Type mismatch: 0x%02X", packets[0].Type())
	}
}

func TestDecoder_PacketWithPayload(t *testing.T) {
	p := NewLoadData(3, []int64{100, 102, 98, 101})
	wire := MustEncodePacket(p)

	d := NewDecoder()
	packets, errs := feedBytes(d, wire)
	if len(errs) > 0 {
		t.Fatalf("Unexpected decode errors: %v", errs)
	}
	if len(packets) != 1 {
		t.Fatalf("Expected 1 packet, got %d", len(packets))
	}

	samples, err := ParseLoadData(packets[0])
	if err != nil {
		t.Fatalf("ParseLoadData error: %v", err)
	}
	expected := []int64{100, 102, 98, 101}
	for i, s := range samples {
		if s.Channel != uint8(i) {
			t.Errorf("Sample %d channel = %d", i, s.Channel)
		}
		if s.Value != expected[i] {
			t.Errorf("Sample %d value = %d (expected %d)", i, s.Value, expected[i])
		}
		if s.Seq != 3 {
			t.Errorf("Sample %d seq = %d", i, s.Seq)
		}
	}
}

func TestDecoder_CRCMismatch(t *testing.T) {
	wire, err := EncodePacketFromValues(MsgPingRequest, nil)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	// Corrupt a payload byte (not framing, not CRC)
	corrupted := make([]byte, len(wire))
	copy(corrupted, wire)
	corrupted[2] ^= 0x01

	d := NewDecoder()
	packets, errs := feedBytes(d, corrupted)
	if len(packets) != 0 {
		t.Errorf("Corrupted frame should not decode, got %d packets", len(packets))
	}
	if len(errs) != 1 {
		t.Fatalf("Expected exactly 1 decode error, got %d", len(errs))
	}
	if !strings.HasPrefix(errs[0].Error(), "CRC mismatch") {
		t.Errorf("Expected CRC mismatch error, got: %v", errs[0])
	}
}

// A corrupted frame followed by N valid frames must yield exactly N packets
// and one error: the decoder resynchronizes on the next START byte.
func TestDecoder_ResynchronizesAfterCorruptFrame(t *testing.T) {
	const validFrames = 5

	var stream []byte
	bad := MustEncodePacket(NewLoadData(0, []int64{1, 2, 3, 4}))
	bad[2] ^= 0xFF // corrupt payload
	stream = append(stream, bad...)

	for i := 1; i <= validFrames; i++ {
		stream = append(stream, MustEncodePacket(NewLoadData(uint64(i), []int64{10, 20, 30, 40}))...)
	}

	d := NewDecoder()
	packets, errs := feedBytes(d, stream)

	if len(packets) != validFrames {
		t.Errorf("Expected %d decoded packets after resync, got %d", validFrames, len(packets))
	}
	if len(errs) != 1 {
		t.Errorf("Expected exactly 1 decode error, got %d: %v", len(errs), errs)
	}
	for i, p := range packets {
		samples, err := ParseLoadData(p)
		if err != nil {
			t.Fatalf("Packet %d: %v", i, err)
		}
		if samples[0].Seq != uint64(i+1) {
			t.Errorf("Packet %d out of order: seq %d", i, samples[0].Seq)
		}
	}
}

func TestDecoder_GarbageBeforeFrame(t *testing.T) {
	wire := MustEncodePacket(NewPingRequest())
	stream := append([]byte{0x00, 0x42, 0xFF, 0x13}, wire...)

	d := NewDecoder()
	packets, _ := feedBytes(d, stream)
	if len(packets) != 1 {
		t.Fatalf("Expected 1 packet after leading garbage, got %d", len(packets))
	}
}

func TestDecoder_StartByteResetsState(t *testing.T) {
	d := NewDecoder()

	// Begin a frame, then abandon it with a fresh START
	d.DecodeByte(StartByte)
	d.DecodeByte(0x05)
	d.DecodeByte(0x01)

	wire := MustEncodePacket(NewPingRequest())
	packets, errs := feedBytes(d, wire)
	if len(errs) > 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}
	if len(packets) != 1 {
		t.Fatalf("Expected 1 packet, got %d", len(packets))
	}
}

func TestDecoder_InvalidLength(t *testing.T) {
	d := NewDecoder()
	d.DecodeByte(StartByte)
	_, err := d.DecodeByte(MaxPayloadSize + 1)
	if err == nil {
		t.Error("Expected error for invalid length")
	}
}

func TestDecoder_UnexpectedEndByte(t *testing.T) {
	d := NewDecoder()
	d.DecodeByte(StartByte)
	d.DecodeByte(0x05)
	_, err := d.DecodeByte(EndByte)
	if err == nil {
		t.Error("Expected error for END byte mid-frame")
	}
}

func TestDecoder_SplitAcrossReads(t *testing.T) {
	// Partial frames across receive boundaries must still decode
	wire := MustEncodePacket(NewLoadData(1, []int64{5, 6, 7, 8}))

	d := NewDecoder()
	var packets []*Packet
	for _, chunk := range [][]byte{wire[:3], wire[3 : len(wire)/2], wire[len(wire)/2:]} {
		ps, errs := feedBytes(d, chunk)
		if len(errs) > 0 {
			t.Fatalf("Unexpected errors: %v", errs)
		}
		packets = append(packets, ps...)
	}
	if len(packets) != 1 {
		t.Fatalf("Expected 1 packet from split reads, got %d", len(packets))
	}
}

// ============================================================
// Sample Extraction Tests
// ============================================================

func TestParseLoadData_WrongType(t *testing.T) {
	_, err := ParseLoadData(NewPingRequest())
	if err == nil {
		t.Error("Expected error for non-LOAD_DATA packet")
	}
}

func TestParseLoadData_WrongCount(t *testing.T) {
	p := NewLoadData(0, []int64{1, 2, 3})
	_, err := ParseLoadData(p)
	if err == nil {
		t.Error("Expected error for 3-value LOAD_DATA")
	}
}

func TestParseStatusData(t *testing.T) {
	p := NewStatusData(true, 12345)
	streaming, uptime, err := ParseStatusData(p)
	if err != nil {
		t.Fatalf("ParseStatusData error: %v", err)
	}
	if !streaming {
		t.Error("Expected streaming=true")
	}
	if uptime != 12345 {
		t.Errorf("Expected uptime 12345, got %d", uptime)
	}
}

// ============================================================
// Validator Tests
// ============================================================

func TestValidatePacket_LoadData_Valid(t *testing.T) {
	p := NewLoadData(1, []int64{100, 200, 300, 400})
	errs := ValidatePacket(p)
	if len(errs) != 0 {
		t.Errorf("Expected no validation errors, got %v", errs)
	}
}

func TestValidatePacket_LoadData_InvalidCount(t *testing.T) {
	p := NewLoadData(1, []int64{100, 200})
	errs := ValidatePacket(p)
	if len(errs) != 1 || errs[0].Type != AnomalyInvalidCount {
		t.Errorf("Expected one AnomalyInvalidCount, got %v", errs)
	}
}

func TestValidatePacket_LoadData_OutOfRange(t *testing.T) {
	p := NewLoadData(1, []int64{100, 200, MaxRawCount + 1, 400})
	errs := ValidatePacket(p)
	if len(errs) != 1 || errs[0].Type != AnomalyOutOfRange {
		t.Errorf("Expected one AnomalyOutOfRange, got %v", errs)
	}
}

func TestValidatePacket_ActuatorCommand_Valid(t *testing.T) {
	p := NewActuatorCommand(2, ActuatorKindTrim, 150)
	errs := ValidatePacket(p)
	if len(errs) != 0 {
		t.Errorf("Expected no validation errors, got %v", errs)
	}
}

func TestValidatePacket_ActuatorCommand_InvalidChannel(t *testing.T) {
	p := NewActuatorCommand(ChannelCount, ActuatorKindTrim, 0)
	errs := ValidatePacket(p)
	if len(errs) != 1 || errs[0].Type != AnomalyInvalidValue {
		t.Errorf("Expected one AnomalyInvalidValue, got %v", errs)
	}
}

func TestValidationError_Error(t *testing.T) {
	e := &ValidationError{Type: AnomalyInvalidValue, Message: "boom"}
	if e.Error() != "boom" {
		t.Errorf("Error() = %q", e.Error())
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatMessageType(t *testing.T) {
	tests := []struct {
		msgType  uint8
		expected string
	}{
		{MsgStreamStart, "STREAM_START"},
		{MsgStreamStop, "STREAM_STOP"},
		{MsgReadRequest, "READ_REQUEST"},
		{MsgActuatorCommand, "ACTUATOR_COMMAND"},
		{MsgTareCommand, "TARE_COMMAND"},
		{MsgPingRequest, "PING_REQUEST"},
		{MsgLoadData, "LOAD_DATA"},
		{MsgStatusData, "STATUS_DATA"},
		{MsgPingResponse, "PING_RESPONSE"},
		{MsgErrorInvalidCmd, "ERROR_INVALID_CMD"},
		{0x77, "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := FormatMessageType(tt.msgType); got != tt.expected {
			t.Errorf("FormatMessageType(0x%02X) = %q, expected %q", tt.msgType, got, tt.expected)
		}
	}
}

func TestFormatPacket_LoadData(t *testing.T) {
	p := NewLoadData(9, []int64{100, 102, 98, 101})
	out := FormatPacket(p)
	if !strings.Contains(out, "LOAD_DATA") {
		t.Errorf("Missing message type in: %q", out)
	}
	if !strings.Contains(out, "ch0=100") || !strings.Contains(out, "Seq: 9") {
		t.Errorf("Missing payload details in: %q", out)
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_Update_ValidPacket(t *testing.T) {
	s := NewStatistics()
	s.Update(NewLoadData(0, []int64{1, 2, 3, 4}), nil, nil)

	if s.TotalPackets != 1 || s.ValidPackets != 1 {
		t.Errorf("Counters: total=%d valid=%d", s.TotalPackets, s.ValidPackets)
	}
}

func TestStatistics_Update_CRCError(t *testing.T) {
	s := NewStatistics()
	s.Update(nil, &ValidationError{Message: "CRC mismatch: expected 0x0000, got 0x0001"}, nil)

	if s.CRCErrors != 1 {
		t.Errorf("Expected 1 CRC error, got %d", s.CRCErrors)
	}
	if s.ValidPackets != 0 {
		t.Errorf("Valid packets should stay 0, got %d", s.ValidPackets)
	}
}

func TestStatistics_Update_ValidationErrors(t *testing.T) {
	s := NewStatistics()
	s.Update(nil, nil, []ValidationError{
		{Type: AnomalyInvalidCount},
		{Type: AnomalyOutOfRange},
	})

	if s.InvalidCounts != 1 || s.OutOfRange != 1 {
		t.Errorf("Counters: invalidCounts=%d outOfRange=%d", s.InvalidCounts, s.OutOfRange)
	}
	if s.MalformedPackets != 1 || s.AnomalousValues != 1 {
		t.Errorf("Counters: malformed=%d anomalous=%d", s.MalformedPackets, s.AnomalousValues)
	}
}

func TestStatistics_Reset(t *testing.T) {
	s := NewStatistics()
	s.Update(NewLoadData(0, []int64{1, 2, 3, 4}), nil, nil)
	s.Reset()

	if s.TotalPackets != 0 || s.ValidPackets != 0 {
		t.Error("Counters should be zero after reset")
	}
}

func TestStatistics_String(t *testing.T) {
	s := NewStatistics()
	s.Update(NewLoadData(0, []int64{1, 2, 3, 4}), nil, nil)
	out := s.String()
	if !strings.Contains(out, "Total Packets") {
		t.Errorf("Unexpected summary: %q", out)
	}
}
