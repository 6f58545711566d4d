// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Prescayc21

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Prescayc21/SkeletonSledController/pkg/balance"
	"github.com/Prescayc21/SkeletonSledController/pkg/calibration"
	"github.com/Prescayc21/SkeletonSledController/pkg/session"
	"github.com/Prescayc21/SkeletonSledController/pkg/sledwire"
)

var feedIntervalMs int

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Live load cell feed with center of mass display",
	Long: `Stream load data from the sled and display per-channel weights,
center of mass, and displacement from the ideal position in a terminal UI.

Keys:
  q       quit
  s       start/stop streaming
  t       tare (zero current readings)
  c       cycle display unit (g, kg, oz, lb)
  e/u/r   simulator presets: even, uneven, random (SIM port only)`,
	RunE: runFeed,
}

func init() {
	feedCmd.Flags().IntVar(&feedIntervalMs, "interval", 0, "Stream interval in ms (0 = device default)")
	rootCmd.AddCommand(feedCmd)
}

// Messages delivered to the TUI from the session subscription.
type feedEventMsg session.Event
type feedClosedMsg struct{}

type feedLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

var displayUnits = []calibration.Unit{
	calibration.UnitGrams,
	calibration.UnitKilograms,
	calibration.UnitOunces,
	calibration.UnitPounds,
}

type feedModel struct {
	sess     *session.Session
	desc     string
	settings balance.RigSettings

	state     session.LinkState
	streaming bool
	uptimeMs  uint64
	hasUptime bool

	// Latest per-channel weight in grams.
	grams     [sledwire.ChannelCount]float64
	haveValue [sledwire.ChannelCount]bool
	unitIdx   int

	sampleCount  uint64
	corruptCount uint64
	droppedTotal int

	spin          spinner.Model
	eventLog      []feedLogEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool
}

func initialFeedModel(sess *session.Session, settings balance.RigSettings) feedModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))

	return feedModel{
		sess:          sess,
		desc:          sess.Description(),
		settings:      settings,
		state:         sess.State(),
		spin:          sp,
		eventLog:      make([]feedLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m feedModel) Init() tea.Cmd {
	return tea.Batch(
		m.spin.Tick,
		tea.EnterAltScreen,
	)
}

func (m feedModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "s":
			if m.streaming {
				m.sess.StopStreaming()
			} else {
				m.sess.StartStreaming()
			}
		case "t":
			m.sess.Tare()
			m.addLogEntry("Tare requested", false)
		case "c":
			m.unitIdx = (m.unitIdx + 1) % len(displayUnits)
		case "e":
			m.sess.SendPacket(sledwire.NewSimSet(sledwire.SimPresetEven, nil))
			m.addLogEntry("Simulator preset: even", false)
		case "u":
			m.sess.SendPacket(sledwire.NewSimSet(sledwire.SimPresetUneven, nil))
			m.addLogEntry("Simulator preset: uneven", false)
		case "r":
			m.sess.SendPacket(sledwire.NewSimSet(sledwire.SimPresetRandom, nil))
			m.addLogEntry("Simulator preset: random", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case feedEventMsg:
		m.applyEvent(session.Event(msg))

	case feedClosedMsg:
		m.addLogEntry("Session closed", true)
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *feedModel) applyEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventSample:
		ch := ev.Sample.Channel
		if int(ch) < sledwire.ChannelCount {
			m.grams[ch] = calibration.ConvertUnit(ev.Sample.Value, ev.Sample.Unit, calibration.UnitGrams)
			m.haveValue[ch] = true
		}
		m.sampleCount++

	case session.EventState:
		m.state = ev.State
		m.addLogEntry(fmt.Sprintf("Link %s", ev.State), ev.State == session.StateFaulted)

	case session.EventFrameCorrupt:
		m.corruptCount++
		m.addLogEntry(fmt.Sprintf("Corrupt frame: %v", ev.Err), true)

	case session.EventBackpressure:
		m.droppedTotal += ev.Dropped
		m.addLogEntry(fmt.Sprintf("Dropped %d events (slow consumer)", ev.Dropped), true)

	case session.EventSafetyLimit:
		m.addLogEntry("Actuator output clamped to safe range", true)

	case session.EventStatus:
		m.streaming = ev.Streaming
		m.uptimeMs = ev.UptimeMs
		m.hasUptime = true

	case session.EventPing:
		m.uptimeMs = ev.UptimeMs
		m.hasUptime = true

	case session.EventCalibrationError:
		m.addLogEntry(fmt.Sprintf("Calibration: %v", ev.Err), true)
	}
}

func (m *feedModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, feedLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m feedModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	unit := displayUnits[m.unitIdx]

	var s strings.Builder
	s.WriteString(titleStyle.Render("SKELETON SLED - LIVE FEED"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Unit: %s | Press 'q' to quit", m.desc, unit)))
	s.WriteString("\n\n")

	// Link status line
	switch m.state {
	case session.StateConnecting:
		s.WriteString(m.spin.View())
		s.WriteString(warningStyle.Render(" Connecting..."))
	case session.StateFaulted:
		s.WriteString(errorStyle.Render("✗ Link faulted"))
	default:
		status := "✓ " + m.state.String()
		if m.streaming {
			status += " (streaming)"
		}
		s.WriteString(valueStyle.Render(status))
	}
	if m.hasUptime {
		s.WriteString(headerStyle.Render(fmt.Sprintf("  uptime: %s", formatUptime(m.uptimeMs))))
	}
	s.WriteString("\n\n")

	// Per-channel weights
	weights := strings.Builder{}
	total := 0.0
	allPresent := true
	for ch := 0; ch < sledwire.ChannelCount; ch++ {
		value := "---"
		if m.haveValue[ch] {
			value = fmt.Sprintf("%10.2f %s", calibration.ConvertUnit(m.grams[ch], calibration.UnitGrams, unit), unit)
			total += m.grams[ch]
		} else {
			allPresent = false
		}
		pos := ""
		if ch < len(m.settings.SensorPositions) {
			p := m.settings.SensorPositions[ch]
			pos = fmt.Sprintf(" @ (%.1f, %.1f)", p.X, p.Y)
		}
		weights.WriteString(fmt.Sprintf("%s %s%s\n",
			labelStyle.Render(fmt.Sprintf("Channel %d:", ch)),
			valueStyle.Render(value),
			headerStyle.Render(pos),
		))
	}
	weights.WriteString(fmt.Sprintf("%s %s",
		labelStyle.Render("Total:    "),
		valueStyle.Render(fmt.Sprintf("%10.2f %s", calibration.ConvertUnit(total, calibration.UnitGrams, unit), unit)),
	))
	s.WriteString(boxStyle.Render(weights.String()))
	s.WriteString("\n\n")

	// Center of mass (needs one reading from every channel)
	if allPresent && len(m.settings.SensorPositions) == sledwire.ChannelCount {
		com := balance.CenterOfMass(m.grams[:], m.settings.SensorPositions)
		disp := balance.Displacement(com, m.settings.IdealCOM)

		comContent := strings.Builder{}
		comContent.WriteString(fmt.Sprintf("%s (%.2f, %.2f)   %s (%.2f, %.2f)\n",
			labelStyle.Render("COM:"), com.X, com.Y,
			labelStyle.Render("Ideal:"), m.settings.IdealCOM.X, m.settings.IdealCOM.Y,
		))
		mag := disp.Magnitude()
		dispStr := fmt.Sprintf("(%.2f, %.2f) |%.2f|", disp.X, disp.Y, mag)
		if mag > 1.0 {
			comContent.WriteString(fmt.Sprintf("%s %s", labelStyle.Render("Displacement:"), warningStyle.Render(dispStr)))
		} else {
			comContent.WriteString(fmt.Sprintf("%s %s", labelStyle.Render("Displacement:"), valueStyle.Render(dispStr)))
		}
		s.WriteString(boxStyle.Render(comContent.String()))
		s.WriteString("\n\n")
	}

	// Counters
	s.WriteString(headerStyle.Render(fmt.Sprintf("samples: %d   corrupt frames: %d   dropped events: %d",
		m.sampleCount, m.corruptCount, m.droppedTotal)))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 18
	if logHeight < 4 {
		logHeight = 4
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}
	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}

func runFeed(cmd *cobra.Command, args []string) error {
	profile, err := loadProfile()
	if err != nil {
		return err
	}

	settings, err := balance.LoadRigSettings(settingsPath)
	if err != nil {
		return err
	}

	s, err := openSession(session.Config{Profile: profile})
	if err != nil {
		return err
	}
	defer s.Stop()

	events, cancel := s.Subscribe(256)
	defer cancel()

	if feedIntervalMs > 0 {
		s.ConfigureStreamInterval(uint32(feedIntervalMs))
	}
	s.StartStreaming()

	p := tea.NewProgram(initialFeedModel(s, settings))

	// Event pump: forward session events into the TUI
	go func() {
		for ev := range events {
			p.Send(feedEventMsg(ev))
		}
		p.Send(feedClosedMsg{})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
