// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Prescayc21

package transport

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Prescayc21/SkeletonSledController/pkg/sledwire"
)

// SimPortName is the pseudo-port that selects the simulated transport.
// It appears at the end of ListPorts output so the controller can be
// exercised without hardware attached.
const SimPortName = "SIM"

// Preset base values in raw ADC counts
var (
	simPresetEven   = []int64{1000, 1000, 1000, 1000}
	simPresetUneven = []int64{1500, 500, 500, 1000}
)

// SimConfig parameterizes the simulated sled.
type SimConfig struct {
	// Interval between LOAD_DATA frames while streaming. Zero means the
	// device default of 500 ms.
	Interval time.Duration

	// BaseValues holds the per-channel raw counts the simulator reports.
	// Nil means an even 1000-count load on each channel.
	BaseValues []int64

	// Noise adds uniform noise of +/-NoiseAmplitude counts to each reading.
	Noise          bool
	NoiseAmplitude int64

	// Script, when non-empty, overrides BaseValues: each entry is emitted
	// verbatim as one LOAD_DATA frame, in order, with no noise. Streaming
	// ends once the script is exhausted. Used by tests that need exact
	// raw sequences.
	Script [][]int64

	// Seed for the noise generator; zero seeds from the clock.
	Seed int64
}

// Sim is an in-process sled: it speaks real sledwire frames over the
// Transport interface with no physical peer. It honors STREAM_START/STOP,
// READ_REQUEST, STREAM_CONFIG, SIM_SET, TARE_COMMAND, ACTUATOR_COMMAND,
// and PING_REQUEST.
type Sim struct {
	decoder  *sledwire.Decoder
	incoming chan []byte
	done     chan struct{}
	closeOnce sync.Once
	start    time.Time

	mu        sync.Mutex
	buf       []byte
	bufOffset int
	interval  time.Duration
	base      []int64
	tare      []int64
	noise     bool
	noiseAmp  int64
	script    [][]int64
	scriptIdx int
	seq       uint64
	streaming bool
	rng       *rand.Rand
}

// NewSim creates a simulated sled transport.
func NewSim(cfg SimConfig) *Sim {
	interval := cfg.Interval
	if interval == 0 {
		interval = 500 * time.Millisecond
	}
	base := cfg.BaseValues
	if base == nil {
		base = append([]int64(nil), simPresetEven...)
	}
	noiseAmp := cfg.NoiseAmplitude
	if noiseAmp == 0 {
		noiseAmp = 2
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := &Sim{
		decoder:  sledwire.NewDecoder(),
		incoming: make(chan []byte, 256),
		done:     make(chan struct{}),
		start:    time.Now(),
		interval: interval,
		base:     base,
		tare:     make([]int64, sledwire.ChannelCount),
		noise:    cfg.Noise,
		noiseAmp: noiseAmp,
		script:   cfg.Script,
		rng:      rand.New(rand.NewSource(seed)),
	}
	go s.streamLoop()
	return s
}

func (s *Sim) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.bufOffset < len(s.buf) {
		n := copy(p, s.buf[s.bufOffset:])
		s.bufOffset += n
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	select {
	case data := <-s.incoming:
		s.mu.Lock()
		s.buf = data
		s.bufOffset = 0
		n := copy(p, s.buf)
		s.bufOffset = n
		s.mu.Unlock()
		return n, nil
	case <-s.done:
		return 0, ErrUnexpectedDisconnect
	}
}

// Write feeds controller bytes through the decoder and dispatches any
// complete command frames to the device model.
func (s *Sim) Write(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, ErrUnexpectedDisconnect
	default:
	}

	for _, b := range p {
		packet, err := s.decoder.DecodeByte(b)
		if err != nil {
			logrus.Debugf("sim: dropping corrupt command frame: %v", err)
			continue
		}
		if packet != nil {
			s.handleCommand(packet)
		}
	}
	return len(p), nil
}

func (s *Sim) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

func (s *Sim) handleCommand(p *sledwire.Packet) {
	switch p.Type() {
	case sledwire.MsgStreamStart:
		s.mu.Lock()
		s.streaming = true
		s.mu.Unlock()
		s.emit(sledwire.NewStatusData(true, s.uptimeMs()))

	case sledwire.MsgStreamStop:
		s.mu.Lock()
		s.streaming = false
		s.mu.Unlock()
		s.emit(sledwire.NewStatusData(false, s.uptimeMs()))

	case sledwire.MsgReadRequest:
		s.emitLoadData()

	case sledwire.MsgStreamConfig:
		if interval, ok := sledwire.GetMapUint(p.PayloadMap(), 0); ok {
			s.mu.Lock()
			if interval == 0 {
				s.interval = 500 * time.Millisecond
			} else {
				s.interval = time.Duration(interval) * time.Millisecond
			}
			s.mu.Unlock()
		}

	case sledwire.MsgSimSet:
		s.handleSimSet(p)

	case sledwire.MsgTareCommand:
		s.mu.Lock()
		copy(s.tare, s.base)
		s.mu.Unlock()
		s.emit(sledwire.NewStatusData(s.isStreaming(), s.uptimeMs()))

	case sledwire.MsgActuatorCommand:
		channel, _ := sledwire.GetMapInt(p.PayloadMap(), 0)
		kind, _ := sledwire.GetMapInt(p.PayloadMap(), 1)
		value, _ := sledwire.GetMapInt(p.PayloadMap(), 2)
		if channel < 0 || channel >= sledwire.ChannelCount {
			s.emitInvalid(p.Type())
			return
		}
		// A trim actuation shifts load onto/off the channel, which shows
		// up in subsequent readings.
		if sledwire.ActuatorKind(kind) == sledwire.ActuatorKindTrim {
			s.mu.Lock()
			s.base[channel] += value
			s.mu.Unlock()
		}

	case sledwire.MsgPingRequest:
		s.emit(sledwire.NewPingResponse(s.uptimeMs()))

	default:
		s.emitInvalid(p.Type())
	}
}

func (s *Sim) handleSimSet(p *sledwire.Packet) {
	preset, _ := sledwire.GetMapInt(p.PayloadMap(), 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch sledwire.SimPreset(preset) {
	case sledwire.SimPresetValues:
		if values, ok := sledwire.GetMapIntSlice(p.PayloadMap(), 1); ok && len(values) == sledwire.ChannelCount {
			copy(s.base, values)
		}
	case sledwire.SimPresetEven:
		copy(s.base, simPresetEven)
	case sledwire.SimPresetUneven:
		copy(s.base, simPresetUneven)
	case sledwire.SimPresetRandom:
		for i := range s.base {
			s.base[i] = 500 + s.rng.Int63n(1001)
		}
	}
}

func (s *Sim) streamLoop() {
	// Interval changes take effect on the next tick; a plain ticker reset
	// inside the loop keeps this simple.
	for {
		s.mu.Lock()
		interval := s.interval
		s.mu.Unlock()

		select {
		case <-s.done:
			return
		case <-time.After(interval):
		}

		if !s.isStreaming() {
			continue
		}
		if !s.emitLoadData() {
			// Script exhausted: streaming ends.
			s.mu.Lock()
			s.streaming = false
			s.mu.Unlock()
			s.emit(sledwire.NewStatusData(false, s.uptimeMs()))
		}
	}
}

// emitLoadData emits one LOAD_DATA frame. Returns false when a script is
// configured and exhausted.
func (s *Sim) emitLoadData() bool {
	s.mu.Lock()
	var values []int64
	if len(s.script) > 0 {
		if s.scriptIdx >= len(s.script) {
			s.mu.Unlock()
			return false
		}
		values = append([]int64(nil), s.script[s.scriptIdx]...)
		s.scriptIdx++
	} else {
		values = make([]int64, len(s.base))
		for i, base := range s.base {
			v := base - s.tare[i]
			if s.noise {
				v += s.rng.Int63n(2*s.noiseAmp+1) - s.noiseAmp
			}
			values[i] = v
		}
	}
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	s.emit(sledwire.NewLoadData(seq, values))
	return true
}

func (s *Sim) emit(p *sledwire.Packet) {
	wire := sledwire.MustEncodePacket(p)
	select {
	case s.incoming <- wire:
	case <-s.done:
	}
}

func (s *Sim) emitInvalid(msgType uint8) {
	s.emit(sledwire.NewPacketWithPayload(sledwire.MsgErrorInvalidCmd, map[int]interface{}{
		0: uint64(msgType),
	}))
}

func (s *Sim) isStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

func (s *Sim) uptimeMs() uint64 {
	return uint64(time.Since(s.start).Milliseconds())
}
