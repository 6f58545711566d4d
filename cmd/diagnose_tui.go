// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Prescayc21

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Prescayc21/SkeletonSledController/pkg/sledwire"
)

type diagLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// Latest link telemetry assembled from LOAD_DATA and STATUS_DATA frames.
type diagTelemetry struct {
	timestamp time.Time
	values    []int64
	seq       uint64
	streaming bool
	uptimeMs  uint64
	hasStatus bool
}

type diagModel struct {
	desc          string
	showAll       bool
	stats         *sledwire.Statistics
	eventLog      []diagLogEntry
	maxLogEntries int
	synchronized  bool
	invalidBytes  int
	width         int
	height        int
	quitting      bool
	lastTelemetry *diagTelemetry
}

// Messages
type diagTickMsg time.Time
type diagFrameMsg struct {
	packet           *sledwire.Packet
	decodeErr        error
	validationErrors []sledwire.ValidationError
}
type diagSyncMsg struct {
	invalidBytes int
}
type diagDisconnectMsg struct {
	err error
}

func initialDiagModel(desc string, showAll bool) diagModel {
	return diagModel{
		desc:          desc,
		showAll:       showAll,
		stats:         sledwire.NewStatistics(),
		eventLog:      make([]diagLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m diagModel) Init() tea.Cmd {
	return tea.Batch(
		diagTickCmd(),
		tea.EnterAltScreen,
	)
}

func diagTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return diagTickMsg(t)
	})
}

func (m diagModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case diagTickMsg:
		m.stats.CalculateRates()
		return m, diagTickCmd()

	case diagSyncMsg:
		m.synchronized = true
		m.invalidBytes = msg.invalidBytes
		if msg.invalidBytes > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d invalid bytes", msg.invalidBytes), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}

	case diagDisconnectMsg:
		m.addLogEntry(fmt.Sprintf("Link closed: %v", msg.err), true)

	case diagFrameMsg:
		if msg.decodeErr != nil {
			if m.synchronized {
				m.stats.Update(nil, msg.decodeErr, nil)
				m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", msg.decodeErr), true)
			}
		} else if msg.packet != nil {
			m.stats.Update(msg.packet, nil, msg.validationErrors)
			m.parseTelemetry(msg.packet)

			if len(msg.validationErrors) > 0 {
				msgType := sledwire.FormatMessageType(msg.packet.Type())
				for _, err := range msg.validationErrors {
					m.addLogEntry(fmt.Sprintf("%s: %s", msgType, err.Message), true)
				}
			} else if m.showAll {
				msgType := sledwire.FormatMessageType(msg.packet.Type())
				m.addLogEntry(fmt.Sprintf("%s (valid)", msgType), false)
			}
		}
	}

	return m, nil
}

func (m *diagModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, diagLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

// parseTelemetry keeps the latest readings panel current.
func (m *diagModel) parseTelemetry(packet *sledwire.Packet) {
	switch packet.Type() {
	case sledwire.MsgLoadData:
		samples, err := sledwire.ParseLoadData(packet)
		if err != nil {
			return
		}
		values := make([]int64, len(samples))
		for i, s := range samples {
			values[i] = s.Value
		}
		seq := uint64(0)
		if len(samples) > 0 {
			seq = samples[0].Seq
		}
		if m.lastTelemetry == nil {
			m.lastTelemetry = &diagTelemetry{}
		}
		m.lastTelemetry.timestamp = time.Now()
		m.lastTelemetry.values = values
		m.lastTelemetry.seq = seq

	case sledwire.MsgStatusData:
		streaming, uptimeMs, err := sledwire.ParseStatusData(packet)
		if err != nil {
			return
		}
		if m.lastTelemetry == nil {
			m.lastTelemetry = &diagTelemetry{timestamp: time.Now()}
		}
		m.lastTelemetry.streaming = streaming
		m.lastTelemetry.uptimeMs = uptimeMs
		m.lastTelemetry.hasStatus = true
	}
}

func (m diagModel) View() string {
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

	var s strings.Builder
	s.WriteString(titleStyle.Render("SKELETON SLED - LINK DIAGNOSTICS"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | Press 'q' to quit",
		m.desc, func() string {
			if m.showAll {
				return "All frames"
			}
			return "Errors only"
		}())))
	s.WriteString("\n\n")

	// Sync status
	if !m.synchronized {
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
		s.WriteString("\n\n")
	} else {
		s.WriteString(valueStyle.Render("✓ Synchronized"))
		if m.invalidBytes > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d invalid bytes)", m.invalidBytes)))
		}
		s.WriteString("\n\n")
	}

	// Statistics
	m.stats.CalculateRates()
	var validPercent, errorPercent float64
	totalErrors := m.stats.CRCErrors + m.stats.DecodeErrors + m.stats.MalformedPackets + m.stats.AnomalousValues
	if m.stats.TotalPackets > 0 {
		validPercent = float64(m.stats.ValidPackets) * 100.0 / float64(m.stats.TotalPackets)
		errorPercent = float64(totalErrors) * 100.0 / float64(m.stats.TotalPackets)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Total:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.TotalPackets)),
		labelStyle.Render("Valid:"), valueStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.ValidPackets, validPercent)),
		labelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", totalErrors, errorPercent)),
	))

	if m.stats.CRCErrors > 0 || m.stats.DecodeErrors > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			labelStyle.Render("CRC Errors:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.CRCErrors)),
			labelStyle.Render("Decode Errors:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.DecodeErrors)),
		))
	}

	if m.stats.MalformedPackets > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s",
			labelStyle.Render("Malformed:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.MalformedPackets)),
		))
		if m.stats.InvalidCounts > 0 || m.stats.LengthMismatches > 0 {
			statsContent.WriteString(fmt.Sprintf(" (%s: %d, %s: %d)",
				headerStyle.Render("invalid counts"), m.stats.InvalidCounts,
				headerStyle.Render("length mismatches"), m.stats.LengthMismatches,
			))
		}
		statsContent.WriteString("\n")
	}

	if m.stats.AnomalousValues > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s",
			labelStyle.Render("Anomalous:"), warningStyle.Render(fmt.Sprintf("%d", m.stats.AnomalousValues)),
		))
		if m.stats.OutOfRange > 0 {
			statsContent.WriteString(fmt.Sprintf(" (%s: %d)",
				headerStyle.Render("out of ADC range"), m.stats.OutOfRange,
			))
		}
		statsContent.WriteString("\n")
	}

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		labelStyle.Render("Frame Rate:"), valueStyle.Render(fmt.Sprintf("%.1f pkts/s", m.stats.PacketRate)),
		labelStyle.Render("Error Rate:"), func() string {
			if m.stats.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
			}
			return valueStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
		}(),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Latest readings (only shown once LOAD_DATA or STATUS_DATA arrives)
	if m.lastTelemetry != nil {
		s.WriteString(labelStyle.Render("Latest Readings:"))
		s.WriteString("\n")

		telemetryContent := strings.Builder{}

		if m.lastTelemetry.hasStatus {
			streamingStr := "no"
			if m.lastTelemetry.streaming {
				streamingStr = "yes"
			}
			telemetryContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
				labelStyle.Render("Streaming:"), valueStyle.Render(streamingStr),
				labelStyle.Render("Uptime:"), valueStyle.Render(formatUptime(m.lastTelemetry.uptimeMs)),
			))
		}

		if len(m.lastTelemetry.values) > 0 {
			for i, v := range m.lastTelemetry.values {
				telemetryContent.WriteString(fmt.Sprintf("%s %s\n",
					labelStyle.Render(fmt.Sprintf("Channel %d:", i)),
					valueStyle.Render(fmt.Sprintf("%d counts", v)),
				))
			}
			telemetryContent.WriteString(fmt.Sprintf("%s %d",
				labelStyle.Render("Sequence:"), m.lastTelemetry.seq,
			))
		}

		s.WriteString(boxStyle.Render(telemetryContent.String()))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 15
	if logHeight < 5 {
		logHeight = 5
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
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
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
