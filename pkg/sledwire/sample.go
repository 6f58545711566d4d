// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Prescayc21

package sledwire

import (
	"fmt"
	"time"
)

// RawSample is a single device-native load cell reading, extracted from a
// LOAD_DATA packet. Values are raw ADC counts; calibration to physical
// units happens downstream.
type RawSample struct {
	Channel   uint8
	Value     int64
	Seq       uint64
	Timestamp time.Time
}

// ParseLoadData extracts per-channel raw samples from a LOAD_DATA packet.
// The packet must carry exactly ChannelCount values; channel IDs are
// assigned by array position.
func ParseLoadData(p *Packet) ([]RawSample, error) {
	if p.Type() != MsgLoadData {
		return nil, fmt.Errorf("not a LOAD_DATA packet: type 0x%02X", p.Type())
	}
	if err := p.ParseError(); err != nil {
		return nil, err
	}

	values, ok := GetMapIntSlice(p.PayloadMap(), loadKeyValues)
	if !ok {
		return nil, fmt.Errorf("LOAD_DATA missing values array")
	}
	if len(values) != ChannelCount {
		return nil, fmt.Errorf("LOAD_DATA carries %d values (expected %d)", len(values), ChannelCount)
	}

	seq, _ := GetMapUint(p.PayloadMap(), loadKeySeq)

	samples := make([]RawSample, ChannelCount)
	for i, v := range values {
		samples[i] = RawSample{
			Channel:   uint8(i),
			Value:     v,
			Seq:       seq,
			Timestamp: p.Timestamp(),
		}
	}
	return samples, nil
}

// ParseStatusData extracts the streaming flag and uptime from a
// STATUS_DATA packet.
func ParseStatusData(p *Packet) (streaming bool, uptimeMs uint64, err error) {
	if p.Type() != MsgStatusData {
		return false, 0, fmt.Errorf("not a STATUS_DATA packet: type 0x%02X", p.Type())
	}
	if err := p.ParseError(); err != nil {
		return false, 0, err
	}
	streaming, ok := GetMapBool(p.PayloadMap(), statusKeyStreaming)
	if !ok {
		return false, 0, fmt.Errorf("STATUS_DATA missing streaming flag")
	}
	uptimeMs, _ = GetMapUint(p.PayloadMap(), statusKeyUptimeMs)
	return streaming, uptimeMs, nil
}
