// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Prescayc21

package session

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Prescayc21/SkeletonSledController/pkg/balance"
	"github.com/Prescayc21/SkeletonSledController/pkg/calibration"
	"github.com/Prescayc21/SkeletonSledController/pkg/sledwire"
	"github.com/Prescayc21/SkeletonSledController/pkg/transport"
)

const testTimeout = 5 * time.Second

// identityProfile calibrates every channel 1:1 in grams.
func identityProfile() *calibration.Profile {
	return calibration.IdentityProfile()
}

func simConfig(sim transport.SimConfig) transport.Config {
	if sim.Interval == 0 {
		sim.Interval = time.Millisecond
	}
	return transport.Config{Port: transport.SimPortName, Sim: sim}
}

// collect reads events matching the filter until n are gathered or the
// deadline hits.
func collect(t *testing.T, events <-chan Event, n int, match func(Event) bool) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(testTimeout)
	for len(out) < n {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed after %d/%d events", len(out), n)
			}
			if match(ev) {
				out = append(out, ev)
			}
		case <-deadline:
			t.Fatalf("timed out after %d/%d events", len(out), n)
		}
	}
	return out
}

func channelSamples(ch uint8) func(Event) bool {
	return func(ev Event) bool {
		return ev.Kind == EventSample && ev.Sample.Channel == ch
	}
}

func TestSession_EndToEndCalibratedStream(t *testing.T) {
	profile := identityProfile().WithChannel(0, calibration.ChannelCalibration{
		ZeroOffset: 100, Scale: 0.5, Unit: calibration.UnitGrams,
	})

	s := New(Config{
		Transport: simConfig(transport.SimConfig{
			Script: [][]int64{
				{100, 0, 0, 0},
				{102, 0, 0, 0},
				{98, 0, 0, 0},
				{101, 0, 0, 0},
			},
		}),
		Profile: profile,
	})
	defer s.Stop()

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.State() != StateConnected {
		t.Fatalf("expected Connected after Start, got %s", s.State())
	}

	events, cancel := s.Subscribe(0)
	defer cancel()

	s.StartStreaming()

	samples := collect(t, events, 4, channelSamples(0))
	want := []float64{0.0, 1.0, -1.0, 0.5}
	for i, ev := range samples {
		if math.Abs(ev.Sample.Value-want[i]) > 1e-9 {
			t.Errorf("sample %d: expected %v, got %v", i, want[i], ev.Sample.Value)
		}
	}
}

func TestSession_StreamingStateTransitions(t *testing.T) {
	s := New(Config{
		Transport: simConfig(transport.SimConfig{Interval: time.Hour}),
		Profile:   identityProfile(),
	})
	defer s.Stop()

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	events, cancel := s.Subscribe(0)
	defer cancel()

	s.StartStreaming()
	states := collect(t, events, 1, func(ev Event) bool { return ev.Kind == EventState })
	if states[0].State != StateStreaming {
		t.Errorf("expected Streaming, got %s", states[0].State)
	}

	s.StopStreaming()
	states = collect(t, events, 1, func(ev Event) bool { return ev.Kind == EventState })
	if states[0].State != StateConnected {
		t.Errorf("expected Connected after stop, got %s", states[0].State)
	}
}

func TestSession_CommandSupersession(t *testing.T) {
	s := New(Config{
		Transport:     simConfig(transport.SimConfig{Interval: time.Hour}),
		Profile:       identityProfile(),
		MinCommandGap: 150 * time.Millisecond,
	})
	defer s.Stop()

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The writer is in its post-ping command gap: both commands land in
	// the pending slot before it wakes, so only the second one is sent.
	deadline := time.Now().Add(time.Minute)
	s.SendCommand(balance.Command{Channel: 1, Kind: sledwire.ActuatorKindTrim, Value: 10, Deadline: deadline})
	s.SendCommand(balance.Command{Channel: 1, Kind: sledwire.ActuatorKindTrim, Value: 25, Deadline: deadline})

	time.Sleep(400 * time.Millisecond)

	events, cancel := s.Subscribe(0)
	defer cancel()
	s.RequestRead()

	samples := collect(t, events, 1, channelSamples(1))
	if samples[0].Sample.Value != 1025 {
		t.Errorf("expected 1025 (only the superseding trim applied), got %v", samples[0].Sample.Value)
	}
}

func TestSession_ExpiredCommandNotSent(t *testing.T) {
	s := New(Config{
		Transport:     simConfig(transport.SimConfig{Interval: time.Hour}),
		Profile:       identityProfile(),
		MinCommandGap: 150 * time.Millisecond,
	})
	defer s.Stop()

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Already expired when the writer gets to it.
	s.SendCommand(balance.Command{
		Channel: 2, Kind: sledwire.ActuatorKindTrim, Value: 500,
		Deadline: time.Now().Add(-time.Second),
	})

	time.Sleep(400 * time.Millisecond)

	events, cancel := s.Subscribe(0)
	defer cancel()
	s.RequestRead()

	samples := collect(t, events, 1, channelSamples(2))
	if samples[0].Sample.Value != 1000 {
		t.Errorf("expected 1000 (stale command dropped), got %v", samples[0].Sample.Value)
	}
}

func TestSession_RecalibrateSwapsSnapshot(t *testing.T) {
	s := New(Config{
		Transport: simConfig(transport.SimConfig{Interval: time.Hour}),
		Profile:   identityProfile(),
	})
	defer s.Stop()

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	events, cancel := s.Subscribe(0)
	defer cancel()

	s.RequestRead()
	samples := collect(t, events, 1, channelSamples(0))
	if samples[0].Sample.Value != 1000 {
		t.Fatalf("expected 1000 before recalibration, got %v", samples[0].Sample.Value)
	}

	s.Recalibrate(identityProfile().WithChannel(0, calibration.ChannelCalibration{
		ZeroOffset: 0, Scale: 2.0, Unit: calibration.UnitGrams,
	}))
	s.RequestRead()
	samples = collect(t, events, 1, channelSamples(0))
	if samples[0].Sample.Value != 2000 {
		t.Errorf("expected 2000 after recalibration, got %v", samples[0].Sample.Value)
	}
}

func TestSession_MissingProfileFailsLoudly(t *testing.T) {
	s := New(Config{
		Transport: simConfig(transport.SimConfig{Interval: time.Hour}),
	})
	defer s.Stop()

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	events, cancel := s.Subscribe(0)
	defer cancel()
	s.RequestRead()

	errs := collect(t, events, int(sledwire.ChannelCount), func(ev Event) bool {
		return ev.Kind == EventCalibrationError
	})
	for _, ev := range errs {
		if !errors.Is(ev.Err, calibration.ErrMissingProfile) {
			t.Errorf("expected ErrMissingProfile, got %v", ev.Err)
		}
	}
}

func TestSession_ControlLoopDrivesActuators(t *testing.T) {
	// Channel 0 starts at 900 g with a 1000 g setpoint: the engine trims
	// it upward, the simulator applies the trim, and readings converge.
	s := New(Config{
		Transport: simConfig(transport.SimConfig{
			Interval:   20 * time.Millisecond,
			BaseValues: []int64{900, 1000, 1000, 1000},
		}),
		Profile:       identityProfile(),
		MinCommandGap: time.Millisecond,
		Engine: balance.NewEngine(balance.EngineConfig{
			Gain:            1.0,
			MaxDeltaPerStep: 40,
			MinOutput:       -500,
			MaxOutput:       500,
		}),
		Setpoints: map[uint8]float64{0: 1000},
	})
	defer s.Stop()

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	events, cancel := s.Subscribe(0)
	defer cancel()
	s.StartStreaming()

	deadline := time.After(testTimeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("event stream closed before convergence")
			}
			if ev.Kind == EventSample && ev.Sample.Channel == 0 && math.Abs(ev.Sample.Value-1000) < 1 {
				return
			}
		case <-deadline:
			t.Fatal("control loop did not converge on the setpoint")
		}
	}
}

// scriptedTransport replays canned reads, then blocks until closed.
type scriptedTransport struct {
	reads  [][]byte
	idx    int
	closed chan struct{}
}

func newScriptedTransport(reads ...[]byte) *scriptedTransport {
	return &scriptedTransport{reads: reads, closed: make(chan struct{})}
}

func (f *scriptedTransport) Read(p []byte) (int, error) {
	if f.idx < len(f.reads) {
		n := copy(p, f.reads[f.idx])
		f.idx++
		return n, nil
	}
	<-f.closed
	return 0, transport.ErrUnexpectedDisconnect
}

func (f *scriptedTransport) Write(p []byte) (int, error) { return len(p), nil }

func (f *scriptedTransport) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func injected(tr transport.Transport) func() (transport.Transport, string, error) {
	return func() (transport.Transport, string, error) { return tr, "test", nil }
}

func TestSession_RepeatedCorruptionFaults(t *testing.T) {
	valid := sledwire.MustEncodePacket(sledwire.NewPingResponse(1))
	// Zero-length frame with a zeroed CRC: always a CRC mismatch.
	corrupt := []byte{sledwire.StartByte, 0x00, 0x00, 0x00, sledwire.EndByte}

	s := New(Config{
		OpenTransport:    injected(newScriptedTransport(valid, corrupt, corrupt, corrupt)),
		CorruptThreshold: 3,
	})
	defer s.Stop()

	events, cancel := s.Subscribe(0)
	defer cancel()

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	collect(t, events, 3, func(ev Event) bool { return ev.Kind == EventFrameCorrupt })
	states := collect(t, events, 1, func(ev Event) bool {
		return ev.Kind == EventState && ev.State == StateFaulted
	})
	if states[0].State != StateFaulted {
		t.Fatalf("expected Faulted, got %s", states[0].State)
	}

	// Faulted is sticky: no reconnect happens behind the caller's back.
	time.Sleep(50 * time.Millisecond)
	if s.State() != StateFaulted {
		t.Errorf("expected link to stay Faulted, got %s", s.State())
	}
}

func TestSession_DisconnectFaults(t *testing.T) {
	tr := newScriptedTransport(sledwire.MustEncodePacket(sledwire.NewPingResponse(1)))

	s := New(Config{OpenTransport: injected(tr)})
	defer s.Stop()

	events, cancel := s.Subscribe(0)
	defer cancel()

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	tr.Close()

	states := collect(t, events, 1, func(ev Event) bool {
		return ev.Kind == EventState && ev.State == StateFaulted
	})
	if states[0].State != StateFaulted {
		t.Errorf("expected Faulted after disconnect, got %s", states[0].State)
	}
}

func TestSession_StartupTimeout(t *testing.T) {
	// A transport that never produces a frame.
	tr := newScriptedTransport()

	s := New(Config{
		OpenTransport:  injected(tr),
		StartupTimeout: 50 * time.Millisecond,
	})
	defer s.Stop()

	err := s.Start()
	if !errors.Is(err, transport.ErrLinkTimeout) {
		t.Fatalf("expected ErrLinkTimeout, got %v", err)
	}
	if s.State() != StateFaulted {
		t.Errorf("expected Faulted after startup timeout, got %s", s.State())
	}
}

func TestSession_StartTwiceFails(t *testing.T) {
	s := New(Config{
		Transport: simConfig(transport.SimConfig{Interval: time.Hour}),
	})
	defer s.Stop()

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrNotDisconnected) {
		t.Errorf("expected ErrNotDisconnected, got %v", err)
	}
}

func TestSession_StopIsBounded(t *testing.T) {
	s := New(Config{
		Transport:   simConfig(transport.SimConfig{Interval: time.Hour}),
		StopTimeout: time.Second,
	})

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	events, cancel := s.Subscribe(0)
	defer cancel()

	start := time.Now()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Stop took %v, want bounded by the stop timeout", elapsed)
	}
	if s.State() != StateDisconnected {
		t.Errorf("expected Disconnected after Stop, got %s", s.State())
	}

	// Subscriber streams close on teardown.
	deadline := time.After(testTimeout)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event stream not closed by Stop")
		}
	}
}

func TestSession_BackpressureDropsOldestAndWarns(t *testing.T) {
	s := New(Config{})
	events, cancel := s.Subscribe(2)
	defer cancel()

	for i := 1; i <= 4; i++ {
		s.publish(Event{Kind: EventSample, Sample: calibration.CalibratedSample{Value: float64(i)}})
	}

	// Oldest events were shed to make room for the newest.
	first := <-events
	second := <-events
	if first.Sample.Value != 3 || second.Sample.Value != 4 {
		t.Fatalf("expected newest events 3 and 4, got %v and %v", first.Sample.Value, second.Sample.Value)
	}

	// The next publish surfaces the drop count before new data.
	s.publish(Event{Kind: EventSample, Sample: calibration.CalibratedSample{Value: 5}})
	warning := <-events
	if warning.Kind != EventBackpressure || warning.Dropped != 2 {
		t.Fatalf("expected backpressure warning with 2 drops, got %+v", warning)
	}
	if ev := <-events; ev.Sample.Value != 5 {
		t.Errorf("expected event 5 after the warning, got %v", ev.Sample.Value)
	}
}
