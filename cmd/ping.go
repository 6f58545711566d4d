// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Prescayc21

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Prescayc21/SkeletonSledController/pkg/session"
)

var pingCount int

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check sled connectivity",
	Long:  `Ping the sled and report round-trip time and device uptime.`,
	RunE:  runPing,
}

func init() {
	pingCmd.Flags().IntVarP(&pingCount, "count", "n", 3, "Number of pings to send")
	rootCmd.AddCommand(pingCmd)
}

func runPing(cmd *cobra.Command, args []string) error {
	s, err := openSession(session.Config{})
	if err != nil {
		return err
	}
	defer s.Stop()

	fmt.Printf("Connected: %s\n", s.Description())

	events, cancel := s.Subscribe(0)
	defer cancel()

	for i := 0; i < pingCount; i++ {
		sent := time.Now()
		s.Ping()

		uptime, err := awaitPong(events, 2*time.Second)
		if err != nil {
			fmt.Printf("ping %d: %v\n", i+1, err)
			continue
		}
		fmt.Printf("ping %d: rtt=%v uptime=%s\n", i+1, time.Since(sent).Round(time.Millisecond), formatUptime(uptime))

		if i < pingCount-1 {
			time.Sleep(time.Second)
		}
	}
	return nil
}

func awaitPong(events <-chan session.Event, timeout time.Duration) (uint64, error) {
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return 0, fmt.Errorf("session closed")
			}
			if ev.Kind == session.EventPing {
				return ev.UptimeMs, nil
			}
		case <-deadline:
			return 0, fmt.Errorf("timeout")
		}
	}
}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%d days", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%d hours", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%d minutes", minutes))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%d seconds", seconds))
	}

	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	return strings.Join(parts[:len(parts)-1], ", ") + ", and " + last
}
