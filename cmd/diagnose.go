// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Prescayc21

package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Prescayc21/SkeletonSledController/pkg/sledwire"
	"github.com/Prescayc21/SkeletonSledController/pkg/transport"
)

var (
	diagShowAll       bool
	diagStatsInterval int
	diagUseTUI        bool
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Detect and analyze malformed frames and anomalous readings",
	Long: `Watch the raw sled link and validate every frame.

This command requests streaming and then checks each frame for:
  - CRC errors and framing failures
  - Malformed payloads (wrong channel counts, missing fields)
  - Raw readings outside the ADC range (wiring or sensor faults)
  - Statistics and trends (frame rate, error rate, success rate)

By default only errors are displayed. Use --show-all to display valid
frames too. Useful for qualifying a noisy radio link before trusting
its readings.`,
	RunE: runDiagnose,
}

func init() {
	diagnoseCmd.Flags().BoolVar(&diagShowAll, "show-all", false, "Show all frames (not just errors)")
	diagnoseCmd.Flags().IntVar(&diagStatsInterval, "stats-interval", 10, "Statistics summary interval in text mode (seconds)")
	diagnoseCmd.Flags().BoolVar(&diagUseTUI, "tui", true, "Use terminal UI (false for text mode)")
	rootCmd.AddCommand(diagnoseCmd)
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	cfg, err := transportConfig()
	if err != nil {
		return err
	}

	tr, desc, err := transport.Open(cfg)
	if err != nil {
		return err
	}
	defer tr.Close()

	// Kick the sled into streaming so there is traffic to inspect.
	if _, err := tr.Write(sledwire.MustEncodePacket(sledwire.NewStreamStart())); err != nil {
		return fmt.Errorf("failed to request streaming: %v", err)
	}

	if diagUseTUI {
		return runDiagnoseTUI(tr, desc)
	}
	return runDiagnoseText(tr, desc)
}

// runDiagnoseTUI pumps decoded frames into the diagnostics TUI.
func runDiagnoseTUI(tr transport.Transport, desc string) error {
	decoder := sledwire.NewDecoder()
	synchronized := false
	invalidBytesBeforeSync := 0

	m := initialDiagModel(desc, diagShowAll)
	p := tea.NewProgram(m)

	go func() {
		buf := make([]byte, 128)
		for {
			n, err := tr.Read(buf)
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, transport.ErrUnexpectedDisconnect) {
					p.Send(diagDisconnectMsg{err: err})
					return
				}
				logrus.WithError(err).Warn("Read error")
				continue
			}

			for i := 0; i < n; i++ {
				packet, decodeErr := decoder.DecodeByte(buf[i])

				if decodeErr != nil {
					if synchronized {
						p.Send(diagFrameMsg{decodeErr: decodeErr})
					} else {
						// Mid-frame join, count bytes until first clean frame
						invalidBytesBeforeSync++
					}
				} else if packet != nil {
					if !synchronized {
						synchronized = true
						p.Send(diagSyncMsg{invalidBytes: invalidBytesBeforeSync})
					}
					p.Send(diagFrameMsg{
						packet:           packet,
						validationErrors: sledwire.ValidatePacket(packet),
					})
				}
			}
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// runDiagnoseText validates frames and prints errors as they happen,
// with periodic statistics summaries.
func runDiagnoseText(tr transport.Transport, desc string) error {
	fmt.Printf("Skeleton Sled - Link Diagnostics\n")
	fmt.Printf("Connection: %s\n", desc)
	fmt.Printf("Statistics interval: %d seconds\n", diagStatsInterval)
	if diagShowAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := sledwire.NewDecoder()
	stats := sledwire.NewStatistics()

	synchronized := false
	invalidBytesBeforeSync := 0

	statsTicker := time.NewTicker(time.Duration(diagStatsInterval) * time.Second)
	defer statsTicker.Stop()

	frames := make(chan []byte, 10)
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 128)
		for {
			n, err := tr.Read(buf)
			if err != nil {
				readErr <- err
				return
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			frames <- chunk
		}
	}()

	for {
		select {
		case chunk := <-frames:
			for _, b := range chunk {
				packet, decodeErr := decoder.DecodeByte(b)

				if decodeErr != nil {
					if synchronized {
						stats.Update(nil, decodeErr, nil)
						printDiagDecodeError(decodeErr)
					} else {
						invalidBytesBeforeSync++
					}
					continue
				}
				if packet == nil {
					continue
				}

				if !synchronized {
					synchronized = true
					if invalidBytesBeforeSync > 0 {
						fmt.Printf("Synchronized after skipping %d invalid bytes\n\n", invalidBytesBeforeSync)
					} else {
						fmt.Printf("Synchronized\n\n")
					}
				}

				validationErrors := sledwire.ValidatePacket(packet)
				stats.Update(packet, nil, validationErrors)

				if len(validationErrors) > 0 {
					printDiagValidationErrors(packet, validationErrors)
				} else if diagShowAll {
					timestamp := packet.Timestamp().Format("15:04:05.000")
					fmt.Printf("[%s] %s\n", timestamp, sledwire.FormatPacket(packet))
				}
			}

		case <-statsTicker.C:
			fmt.Print(stats.String())

		case err := <-readErr:
			fmt.Print(stats.String())
			if errors.Is(err, io.EOF) || errors.Is(err, transport.ErrUnexpectedDisconnect) {
				return fmt.Errorf("link closed: %v", err)
			}
			return err
		}
	}
}

func printDiagDecodeError(err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
}

func printDiagValidationErrors(packet *sledwire.Packet, errs []sledwire.ValidationError) {
	timestamp := packet.Timestamp().Format("15:04:05.000")
	msgType := sledwire.FormatMessageType(packet.Type())

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s (0x%02X)\n", timestamp, msgType, packet.Type())
	fmt.Printf("  CRC: \033[1;32mOK\033[0m\n")

	for i, err := range errs {
		switch err.Type {
		case sledwire.AnomalyInvalidCount:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
		case sledwire.AnomalyLengthMismatch:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
		case sledwire.AnomalyOutOfRange:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if v, ok := err.Details["value"].(int64); ok {
				fmt.Printf("    value=%d (valid: %d to %d)\n", v, sledwire.MinRawCount, sledwire.MaxRawCount)
			}
		default:
			fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
		}
	}

	fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
}
