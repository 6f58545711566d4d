// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Prescayc21

package transport

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/Prescayc21/SkeletonSledController/pkg/sledwire"
)

// sendCommand encodes a packet and writes it to the simulator.
func sendCommand(t *testing.T, s *Sim, p *sledwire.Packet) {
	t.Helper()
	wire := sledwire.MustEncodePacket(p)
	if _, err := s.Write(wire); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

// readFrame reads from the simulator until one complete frame decodes.
func readFrame(t *testing.T, s *Sim, d *sledwire.Decoder) *sledwire.Packet {
	t.Helper()
	buf := make([]byte, 64)
	for {
		n, err := s.Read(buf)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		for i := 0; i < n; i++ {
			packet, err := d.DecodeByte(buf[i])
			if err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if packet != nil {
				return packet
			}
		}
	}
}

func newQuietSim(cfg SimConfig) *Sim {
	// A long interval keeps the stream loop silent so tests only see
	// frames they explicitly requested.
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	return NewSim(cfg)
}

func TestSim_PingResponse(t *testing.T) {
	s := newQuietSim(SimConfig{})
	defer s.Close()
	d := sledwire.NewDecoder()

	sendCommand(t, s, sledwire.NewPingRequest())
	resp := readFrame(t, s, d)
	if resp.Type() != sledwire.MsgPingResponse {
		t.Errorf("expected PING_RESPONSE (0x%02X), got 0x%02X", sledwire.MsgPingResponse, resp.Type())
	}
}

func TestSim_ReadRequestReturnsBaseValues(t *testing.T) {
	base := []int64{820, 780, 910, 890}
	s := newQuietSim(SimConfig{BaseValues: append([]int64(nil), base...)})
	defer s.Close()
	d := sledwire.NewDecoder()

	for wantSeq := uint64(1); wantSeq <= 2; wantSeq++ {
		sendCommand(t, s, sledwire.NewReadRequest())
		frame := readFrame(t, s, d)
		if frame.Type() != sledwire.MsgLoadData {
			t.Fatalf("expected LOAD_DATA, got 0x%02X", frame.Type())
		}
		samples, err := sledwire.ParseLoadData(frame)
		if err != nil {
			t.Fatalf("ParseLoadData failed: %v", err)
		}
		for i, sample := range samples {
			if sample.Value != base[i] {
				t.Errorf("channel %d: expected %d, got %d", i, base[i], sample.Value)
			}
			if sample.Seq != wantSeq {
				t.Errorf("channel %d: expected seq %d, got %d", i, wantSeq, sample.Seq)
			}
		}
	}
}

func TestSim_TareZeroesReadings(t *testing.T) {
	s := newQuietSim(SimConfig{BaseValues: []int64{820, 780, 910, 890}})
	defer s.Close()
	d := sledwire.NewDecoder()

	sendCommand(t, s, sledwire.NewTareCommand())
	ack := readFrame(t, s, d)
	if ack.Type() != sledwire.MsgStatusData {
		t.Fatalf("expected STATUS_DATA ack, got 0x%02X", ack.Type())
	}

	sendCommand(t, s, sledwire.NewReadRequest())
	samples, err := sledwire.ParseLoadData(readFrame(t, s, d))
	if err != nil {
		t.Fatalf("ParseLoadData failed: %v", err)
	}
	for i, sample := range samples {
		if sample.Value != 0 {
			t.Errorf("channel %d: expected 0 after tare, got %d", i, sample.Value)
		}
	}
}

func TestSim_SimSetPresets(t *testing.T) {
	tests := []struct {
		name   string
		preset sledwire.SimPreset
		values []int64
		want   []int64
	}{
		{"even", sledwire.SimPresetEven, nil, []int64{1000, 1000, 1000, 1000}},
		{"uneven", sledwire.SimPresetUneven, nil, []int64{1500, 500, 500, 1000}},
		{"explicit values", sledwire.SimPresetValues, []int64{10, 20, 30, 40}, []int64{10, 20, 30, 40}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newQuietSim(SimConfig{})
			defer s.Close()
			d := sledwire.NewDecoder()

			sendCommand(t, s, sledwire.NewSimSet(tt.preset, tt.values))
			sendCommand(t, s, sledwire.NewReadRequest())
			samples, err := sledwire.ParseLoadData(readFrame(t, s, d))
			if err != nil {
				t.Fatalf("ParseLoadData failed: %v", err)
			}
			for i, sample := range samples {
				if sample.Value != tt.want[i] {
					t.Errorf("channel %d: expected %d, got %d", i, tt.want[i], sample.Value)
				}
			}
		})
	}
}

func TestSim_RandomPresetStaysInRange(t *testing.T) {
	s := newQuietSim(SimConfig{Seed: 42})
	defer s.Close()
	d := sledwire.NewDecoder()

	sendCommand(t, s, sledwire.NewSimSet(sledwire.SimPresetRandom, nil))
	sendCommand(t, s, sledwire.NewReadRequest())
	samples, err := sledwire.ParseLoadData(readFrame(t, s, d))
	if err != nil {
		t.Fatalf("ParseLoadData failed: %v", err)
	}
	for i, sample := range samples {
		if sample.Value < 500 || sample.Value > 1500 {
			t.Errorf("channel %d: value %d outside random preset range [500, 1500]", i, sample.Value)
		}
	}
}

func TestSim_ActuatorTrimShiftsChannel(t *testing.T) {
	s := newQuietSim(SimConfig{})
	defer s.Close()
	d := sledwire.NewDecoder()

	sendCommand(t, s, sledwire.NewActuatorCommand(2, sledwire.ActuatorKindTrim, 50))
	sendCommand(t, s, sledwire.NewReadRequest())
	samples, err := sledwire.ParseLoadData(readFrame(t, s, d))
	if err != nil {
		t.Fatalf("ParseLoadData failed: %v", err)
	}
	want := []int64{1000, 1000, 1050, 1000}
	for i, sample := range samples {
		if sample.Value != want[i] {
			t.Errorf("channel %d: expected %d, got %d", i, want[i], sample.Value)
		}
	}
}

func TestSim_ActuatorInvalidChannelEmitsError(t *testing.T) {
	s := newQuietSim(SimConfig{})
	defer s.Close()
	d := sledwire.NewDecoder()

	sendCommand(t, s, sledwire.NewActuatorCommand(7, sledwire.ActuatorKindTrim, 10))
	resp := readFrame(t, s, d)
	if resp.Type() != sledwire.MsgErrorInvalidCmd {
		t.Errorf("expected ERROR_INVALID_CMD, got 0x%02X", resp.Type())
	}
}

func TestSim_ScriptEmitsExactSequence(t *testing.T) {
	script := [][]int64{
		{100, 0, 0, 0},
		{102, 0, 0, 0},
		{98, 0, 0, 0},
		{101, 0, 0, 0},
	}
	s := NewSim(SimConfig{Interval: time.Millisecond, Script: script})
	defer s.Close()
	d := sledwire.NewDecoder()

	sendCommand(t, s, sledwire.NewStreamStart())

	status := readFrame(t, s, d)
	if status.Type() != sledwire.MsgStatusData {
		t.Fatalf("expected STATUS_DATA first, got 0x%02X", status.Type())
	}
	streaming, _, err := sledwire.ParseStatusData(status)
	if err != nil || !streaming {
		t.Fatalf("expected streaming=true status, got streaming=%v err=%v", streaming, err)
	}

	for i, want := range script {
		frame := readFrame(t, s, d)
		if frame.Type() != sledwire.MsgLoadData {
			t.Fatalf("frame %d: expected LOAD_DATA, got 0x%02X", i, frame.Type())
		}
		samples, err := sledwire.ParseLoadData(frame)
		if err != nil {
			t.Fatalf("frame %d: ParseLoadData failed: %v", i, err)
		}
		if samples[0].Seq != uint64(i+1) {
			t.Errorf("frame %d: expected seq %d, got %d", i, i+1, samples[0].Seq)
		}
		for ch, sample := range samples {
			if sample.Value != want[ch] {
				t.Errorf("frame %d channel %d: expected %d, got %d", i, ch, want[ch], sample.Value)
			}
		}
	}

	// Script exhausted: streaming ends with a final status frame.
	final := readFrame(t, s, d)
	if final.Type() != sledwire.MsgStatusData {
		t.Fatalf("expected STATUS_DATA after script, got 0x%02X", final.Type())
	}
	streaming, _, err = sledwire.ParseStatusData(final)
	if err != nil || streaming {
		t.Errorf("expected streaming=false status, got streaming=%v err=%v", streaming, err)
	}
}

func TestSim_StreamStartStop(t *testing.T) {
	s := newQuietSim(SimConfig{})
	defer s.Close()
	d := sledwire.NewDecoder()

	sendCommand(t, s, sledwire.NewStreamStart())
	streaming, _, err := sledwire.ParseStatusData(readFrame(t, s, d))
	if err != nil || !streaming {
		t.Fatalf("expected streaming=true after START, got streaming=%v err=%v", streaming, err)
	}

	sendCommand(t, s, sledwire.NewStreamStop())
	streaming, _, err = sledwire.ParseStatusData(readFrame(t, s, d))
	if err != nil || streaming {
		t.Fatalf("expected streaming=false after STOP, got streaming=%v err=%v", streaming, err)
	}
}

func TestSim_CloseUnblocksRead(t *testing.T) {
	s := newQuietSim(SimConfig{})

	errCh := make(chan error, 1)
	go func() {
		buf := make([]byte, 64)
		_, err := s.Read(buf)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	s.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrUnexpectedDisconnect) {
			t.Errorf("expected ErrUnexpectedDisconnect, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock after Close")
	}
}

func TestSim_CorruptCommandIgnored(t *testing.T) {
	s := newQuietSim(SimConfig{})
	defer s.Close()
	d := sledwire.NewDecoder()

	// A corrupted frame must not wedge the command decoder.
	wire := sledwire.MustEncodePacket(sledwire.NewPingRequest())
	corrupt := append([]byte(nil), wire...)
	corrupt[len(corrupt)-2] ^= 0xFF
	if _, err := s.Write(corrupt); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	sendCommand(t, s, sledwire.NewPingRequest())
	resp := readFrame(t, s, d)
	if resp.Type() != sledwire.MsgPingResponse {
		t.Errorf("expected PING_RESPONSE after corrupt frame, got 0x%02X", resp.Type())
	}
}

func TestOpen_Simulator(t *testing.T) {
	tr, desc, err := Open(Config{Port: SimPortName})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer tr.Close()
	if _, ok := tr.(*Sim); !ok {
		t.Errorf("expected *Sim, got %T", tr)
	}
	if desc != "Simulator: SIM" {
		t.Errorf("unexpected description: %q", desc)
	}
}

func TestOpen_NothingConfigured(t *testing.T) {
	if _, _, err := Open(Config{}); err == nil {
		t.Error("expected error for empty config")
	}
}

func TestSortPorts(t *testing.T) {
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		t.Skip("default ordering only applies on this platform")
	}
	got := sortPorts([]string{"/dev/ttyUSB1", "/dev/ttyACM0", "/dev/ttyUSB0"})
	want := []string{"/dev/ttyACM0", "/dev/ttyUSB0", "/dev/ttyUSB1"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}
