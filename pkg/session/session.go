// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Prescayc21

// Package session coordinates one connection to the sled: it owns the
// transport, runs the decode and command loops, applies calibration, and
// fans events out to subscribers. It is the only surface upper layers
// talk to; they never touch the transport or codec directly.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Prescayc21/SkeletonSledController/pkg/balance"
	"github.com/Prescayc21/SkeletonSledController/pkg/calibration"
	"github.com/Prescayc21/SkeletonSledController/pkg/sledwire"
	"github.com/Prescayc21/SkeletonSledController/pkg/transport"
)

const (
	DefaultStartupTimeout   = 5 * time.Second
	DefaultCorruptThreshold = 10
	DefaultMinCommandGap    = 100 * time.Millisecond
	DefaultStopTimeout      = 2 * time.Second
	DefaultQueueSize        = 256
)

var (
	ErrNotDisconnected = errors.New("session already started")
	ErrStopTimeout     = errors.New("worker did not stop in time")
)

// Config parameterizes one session. Zero values select the defaults.
type Config struct {
	Transport transport.Config

	// OpenTransport overrides how the transport is opened. Nil means
	// transport.Open with the Transport config.
	OpenTransport func() (transport.Transport, string, error)

	// Profile converts raw telemetry; nil leaves every channel
	// uncalibrated until Recalibrate.
	Profile *calibration.Profile

	// StartupTimeout bounds how long Connecting may wait for the first
	// valid frame before faulting.
	StartupTimeout time.Duration

	// CorruptThreshold faults the link after this many consecutive
	// corrupt frames. Isolated corruption is recovered by resync.
	CorruptThreshold int

	// MinCommandGap spaces outbound commands so the sled's radio is
	// never flooded.
	MinCommandGap time.Duration

	// StopTimeout bounds Stop's wait for worker shutdown.
	StopTimeout time.Duration

	// Engine, when set, is stepped once per LOAD_DATA batch and its
	// commands are queued for sending. The session owns the engine.
	Engine    *balance.Engine
	Setpoints map[uint8]float64
}

func (c Config) withDefaults() Config {
	if c.StartupTimeout == 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
	if c.CorruptThreshold == 0 {
		c.CorruptThreshold = DefaultCorruptThreshold
	}
	if c.MinCommandGap == 0 {
		c.MinCommandGap = DefaultMinCommandGap
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	return c
}

type subscriber struct {
	ch      chan Event
	dropped int
}

// Session is a single-use coordinator: Start once, Stop once. A faulted
// link never reconnects on its own; re-engaging actuators is an explicit
// operator decision, so reconnecting means building a new session.
type Session struct {
	cfg  Config
	tr   transport.Transport
	desc string

	profile atomic.Pointer[calibration.Profile]

	mu      sync.Mutex
	state   LinkState
	subs    map[*subscriber]struct{}
	pending [sledwire.ChannelCount]*balance.Command
	control []*sledwire.Packet

	notify     chan struct{}
	done       chan struct{}
	firstFrame chan struct{}
	firstOnce  sync.Once
	closeOnce  sync.Once
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func New(cfg Config) *Session {
	s := &Session{
		cfg:        cfg.withDefaults(),
		state:      StateDisconnected,
		subs:       make(map[*subscriber]struct{}),
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		firstFrame: make(chan struct{}),
	}
	if cfg.Profile != nil {
		s.profile.Store(cfg.Profile)
	}
	return s
}

// Start opens the transport and blocks until the link is proven live: a
// valid frame must decode within the startup timeout, otherwise the
// session faults and the transport is closed.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrNotDisconnected
	}
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	open := s.cfg.OpenTransport
	if open == nil {
		open = func() (transport.Transport, string, error) {
			return transport.Open(s.cfg.Transport)
		}
	}
	tr, desc, err := open()
	if err != nil {
		s.setState(StateFaulted)
		return fmt.Errorf("opening transport: %w", err)
	}
	s.tr = tr
	s.desc = desc
	logrus.WithField("connection", desc).Info("Transport opened")

	s.wg.Add(2)
	go s.readerLoop()
	go s.writerLoop()

	// Ping to elicit a frame from a quiet device.
	s.SendPacket(sledwire.NewPingRequest())

	select {
	case <-s.firstFrame:
		s.setState(StateConnected)
		return nil
	case <-time.After(s.cfg.StartupTimeout):
		s.fault(transport.ErrLinkTimeout)
		return fmt.Errorf("no valid frame within %v: %w", s.cfg.StartupTimeout, transport.ErrLinkTimeout)
	case <-s.done:
		return ErrStopTimeout
	}
}

// Stop tears the session down: it signals the workers, closes the
// transport to unblock them, and waits a bounded time for them to exit.
func (s *Session) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		s.closeTransport()

		workersDone := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(workersDone)
		}()
		select {
		case <-workersDone:
		case <-time.After(s.cfg.StopTimeout):
			err = ErrStopTimeout
		}

		s.mu.Lock()
		s.setStateLocked(StateDisconnected)
		for sub := range s.subs {
			delete(s.subs, sub)
			close(sub.ch)
		}
		s.mu.Unlock()
	})
	return err
}

// State returns the current link state.
func (s *Session) State() LinkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Description returns the human-readable connection description.
func (s *Session) Description() string {
	return s.desc
}

// Subscribe attaches an ordered event stream. The buffer bounds the
// queue; overflow drops the oldest events and surfaces the drop count as
// a backpressure event. The returned cancel detaches and closes the
// stream.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultQueueSize
	}
	sub := &subscriber{ch: make(chan Event, buffer)}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[sub]; ok {
			delete(s.subs, sub)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// Recalibrate swaps in a new calibration snapshot. The telemetry path
// picks it up on the next frame; no lock is held across conversions.
func (s *Session) Recalibrate(profile *calibration.Profile) {
	s.profile.Store(profile)
	logrus.Info("Calibration profile replaced")
}

// Profile returns the active calibration snapshot, nil when none is set.
func (s *Session) Profile() *calibration.Profile {
	return s.profile.Load()
}

// SendCommand queues an actuator command. At most one command per channel
// waits to be sent: a newer command supersedes an unsent older one.
func (s *Session) SendCommand(cmd balance.Command) {
	if int(cmd.Channel) >= sledwire.ChannelCount {
		logrus.WithField("channel", cmd.Channel).Warn("Dropping command for invalid channel")
		return
	}
	s.mu.Lock()
	s.pending[cmd.Channel] = &cmd
	s.mu.Unlock()
	s.wake()
}

// SendPacket queues a non-actuator packet (stream control, ping, tare).
// These are sent in order and never superseded.
func (s *Session) SendPacket(p *sledwire.Packet) {
	s.mu.Lock()
	s.control = append(s.control, p)
	s.mu.Unlock()
	s.wake()
}

// Convenience wrappers over SendPacket.

func (s *Session) StartStreaming() { s.SendPacket(sledwire.NewStreamStart()) }
func (s *Session) StopStreaming()  { s.SendPacket(sledwire.NewStreamStop()) }
func (s *Session) RequestRead()    { s.SendPacket(sledwire.NewReadRequest()) }
func (s *Session) Tare()           { s.SendPacket(sledwire.NewTareCommand()) }
func (s *Session) Ping()           { s.SendPacket(sledwire.NewPingRequest()) }

func (s *Session) ConfigureStreamInterval(intervalMs uint32) {
	s.SendPacket(sledwire.NewStreamConfig(intervalMs))
}

func (s *Session) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Session) closeTransport() {
	s.closeOnce.Do(func() {
		if s.tr != nil {
			s.tr.Close()
		}
	})
}

// fault marks the link Faulted and closes the transport. No reconnect is
// attempted.
func (s *Session) fault(err error) {
	logrus.WithError(err).Error("Link faulted")
	s.setState(StateFaulted)
	s.closeTransport()
}

func (s *Session) setState(state LinkState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStateLocked(state)
}

func (s *Session) setStateLocked(state LinkState) {
	if s.state == state {
		return
	}
	// Faulted is terminal until teardown.
	if s.state == StateFaulted && state != StateDisconnected {
		return
	}
	s.state = state
	s.publishLocked(Event{Kind: EventState, State: state, Timestamp: time.Now()})
}

func (s *Session) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishLocked(ev)
}

// publishLocked delivers an event to every subscriber in order. A full
// queue sheds its oldest entry; the shed count is surfaced as a
// backpressure event as soon as the queue has room again.
func (s *Session) publishLocked(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	for sub := range s.subs {
		if sub.dropped > 0 {
			notice := Event{Kind: EventBackpressure, Dropped: sub.dropped, Timestamp: ev.Timestamp}
			select {
			case sub.ch <- notice:
				sub.dropped = 0
			default:
			}
		}

		select {
		case sub.ch <- ev:
			continue
		default:
		}

		// Full: drop the oldest queued event to make room.
		select {
		case <-sub.ch:
			sub.dropped++
		default:
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
		}
	}
}

// readerLoop owns all transport reads: it decodes the byte stream,
// tracks corruption, and dispatches packets.
func (s *Session) readerLoop() {
	defer s.wg.Done()

	decoder := sledwire.NewDecoder()
	buf := make([]byte, sledwire.MaxPacketSize)
	corrupt := 0

	for {
		select {
		case <-s.done:
			return
		default:
		}

		n, err := s.tr.Read(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.fault(err)
			return
		}

		for i := 0; i < n; i++ {
			packet, decodeErr := decoder.DecodeByte(buf[i])
			if decodeErr != nil {
				corrupt++
				s.publish(Event{Kind: EventFrameCorrupt, Err: decodeErr})
				if corrupt >= s.cfg.CorruptThreshold {
					s.fault(fmt.Errorf("%d consecutive corrupt frames: %w", corrupt, decodeErr))
					return
				}
				continue
			}
			if packet == nil {
				continue
			}
			corrupt = 0
			s.firstOnce.Do(func() { close(s.firstFrame) })
			s.handlePacket(packet)
		}
	}
}

func (s *Session) handlePacket(p *sledwire.Packet) {
	switch p.Type() {
	case sledwire.MsgLoadData:
		s.handleLoadData(p)

	case sledwire.MsgStatusData:
		streaming, uptimeMs, err := sledwire.ParseStatusData(p)
		if err != nil {
			s.publish(Event{Kind: EventFrameCorrupt, Err: err})
			return
		}
		if streaming {
			s.setState(StateStreaming)
		} else {
			s.mu.Lock()
			if s.state == StateStreaming {
				s.setStateLocked(StateConnected)
			}
			s.mu.Unlock()
		}
		s.publish(Event{Kind: EventStatus, Streaming: streaming, UptimeMs: uptimeMs})

	case sledwire.MsgPingResponse:
		uptimeMs, _ := sledwire.GetMapUint(p.PayloadMap(), 0)
		s.publish(Event{Kind: EventPing, UptimeMs: uptimeMs})

	case sledwire.MsgErrorInvalidCmd:
		logrus.Warn("Sled rejected a command as invalid")

	default:
		logrus.WithField("type", sledwire.FormatMessageType(p.Type())).Debug("Ignoring unexpected message")
	}
}

func (s *Session) handleLoadData(p *sledwire.Packet) {
	raws, err := sledwire.ParseLoadData(p)
	if err != nil {
		s.publish(Event{Kind: EventFrameCorrupt, Err: err})
		return
	}

	profile := s.profile.Load()
	batch := make([]calibration.CalibratedSample, 0, len(raws))
	for _, raw := range raws {
		if profile == nil {
			s.publish(Event{
				Kind: EventCalibrationError,
				Err:  fmt.Errorf("channel %d: %w", raw.Channel, calibration.ErrMissingProfile),
			})
			continue
		}
		sample, err := profile.Calibrate(raw)
		if err != nil {
			s.publish(Event{Kind: EventCalibrationError, Err: err})
			continue
		}
		batch = append(batch, sample)
		s.publish(Event{Kind: EventSample, Sample: sample, Timestamp: sample.Timestamp})
	}

	// One control step per telemetry batch, never per sample.
	if s.cfg.Engine != nil && len(batch) > 0 {
		result := s.cfg.Engine.Step(batch, s.cfg.Setpoints, time.Now())
		if result.SafetyLimitHit {
			s.publish(Event{Kind: EventSafetyLimit})
		}
		for _, cmd := range result.Commands {
			s.SendCommand(cmd)
		}
	}
}

// writerLoop owns all transport writes. It drains control packets in
// order, then pending actuator commands, spacing sends by the minimum
// command gap.
func (s *Session) writerLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		for {
			packet := s.nextOutbound(time.Now())
			if packet == nil {
				break
			}

			if _, err := s.tr.Write(sledwire.MustEncodePacket(packet)); err != nil {
				select {
				case <-s.done:
				default:
					s.fault(err)
				}
				return
			}

			select {
			case <-s.done:
				return
			case <-time.After(s.cfg.MinCommandGap):
			}
		}
	}
}

// nextOutbound pops the next packet to send: control traffic first, then
// the lowest-numbered channel's pending command. Expired commands are
// discarded unsent.
func (s *Session) nextOutbound(now time.Time) *sledwire.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.control) > 0 {
		p := s.control[0]
		s.control = s.control[1:]
		return p
	}

	for ch := 0; ch < sledwire.ChannelCount; ch++ {
		cmd := s.pending[ch]
		if cmd == nil {
			continue
		}
		s.pending[ch] = nil
		if cmd.Expired(now) {
			logrus.WithField("channel", cmd.Channel).Debug("Dropping expired command")
			continue
		}
		return sledwire.NewActuatorCommand(cmd.Channel, cmd.Kind, cmd.Value)
	}
	return nil
}
