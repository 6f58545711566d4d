// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Prescayc21

package cmd

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Prescayc21/SkeletonSledController/pkg/calibration"
	"github.com/Prescayc21/SkeletonSledController/pkg/session"
	"github.com/Prescayc21/SkeletonSledController/pkg/sledwire"
)

var (
	calWindowSize  int
	calMaxVariance float64
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Run the interactive calibration procedure",
	Long: `Calibrate the sled's load cells against known reference weights.

The procedure has two steps:
  1. Zero: all weight is removed and a window of readings establishes
     each channel's zero offset. Unstable readings abort the step.
  2. Scale: a known reference weight is placed on each channel in turn
     and the raw-to-weight slope is fitted.

Channels can be skipped; skipped channels keep the identity mapping and
report raw counts. The result is written to the calibration file (see
--calibration).`,
	RunE: runCalibrate,
}

func init() {
	calibrateCmd.Flags().IntVar(&calWindowSize, "window", calibration.DefaultZeroWindowSize, "Readings to average per step")
	calibrateCmd.Flags().Float64Var(&calMaxVariance, "max-variance", calibration.DefaultMaxZeroVariance, "Max raw-count variance allowed during the zero step")
	rootCmd.AddCommand(calibrateCmd)
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	// Identity profile so sample values arrive as raw counts.
	s, err := openSession(session.Config{Profile: calibration.IdentityProfile()})
	if err != nil {
		return err
	}
	defer s.Stop()

	fmt.Printf("Connected: %s\n\n", s.Description())

	events, cancel := s.Subscribe(256)
	defer cancel()

	stdin := bufio.NewReader(os.Stdin)

	// Step 1: zero offsets.
	fmt.Println("Step 1: Zero calibration")
	fmt.Print("Remove all weight from the sled, then press Enter...")
	if _, err := stdin.ReadString('\n'); err != nil {
		return err
	}

	window, err := collectRawWindow(s, events, calWindowSize)
	if err != nil {
		return fmt.Errorf("zero window collection failed: %w", err)
	}

	zeros, err := calibration.RunZeroProcedure(window, calMaxVariance)
	if err != nil {
		return err
	}
	for ch := uint8(0); int(ch) < sledwire.ChannelCount; ch++ {
		fmt.Printf("  channel %d zero offset: %.1f counts\n", ch, zeros[ch])
	}
	fmt.Println()

	// Step 2: scale per channel.
	fmt.Println("Step 2: Scale calibration")
	profile := calibration.IdentityProfile()
	calibrated := 0

	for ch := uint8(0); int(ch) < sledwire.ChannelCount; ch++ {
		fmt.Printf("Place a known weight on channel %d and enter it (e.g. \"500 g\", \"1.5 lb\"), or press Enter to skip: ", ch)
		line, err := stdin.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			fmt.Printf("  channel %d skipped\n", ch)
			continue
		}

		weight, unit, err := parseWeight(line)
		if err != nil {
			fmt.Printf("  %v, channel %d skipped\n", err, ch)
			continue
		}

		window, err := collectRawWindow(s, events, calWindowSize)
		if err != nil {
			return fmt.Errorf("reading window failed on channel %d: %w", ch, err)
		}

		meanRaw, n := channelMean(window, ch)
		if n == 0 {
			return fmt.Errorf("no readings for channel %d", ch)
		}

		cal, err := calibration.FitPoints([]calibration.Point{
			{Raw: zeros[ch], Weight: 0, Unit: calibration.UnitGrams},
			{Raw: meanRaw, Weight: weight, Unit: unit},
		})
		if err != nil {
			return fmt.Errorf("channel %d fit failed: %w", ch, err)
		}
		cal.Unit = unit

		profile = profile.WithChannel(ch, cal)
		calibrated++
		fmt.Printf("  channel %d: zero=%.1f scale=%.6f %s/count\n", ch, cal.ZeroOffset, cal.Scale, calibration.UnitGrams)
	}

	if calibrated == 0 {
		return fmt.Errorf("no channels calibrated, nothing to save")
	}

	if err := calibration.Save(calibrationPath, profile); err != nil {
		return err
	}
	fmt.Printf("\nSaved %d channel(s) to %s\n", calibrated, calibrationPath)
	return nil
}

// collectRawWindow gathers count readings per channel by polling the sled.
// Sample values arrive calibrated through the identity profile, so they
// are raw counts verbatim.
func collectRawWindow(s *session.Session, events <-chan session.Event, count int) ([]sledwire.RawSample, error) {
	window := make([]sledwire.RawSample, 0, count*sledwire.ChannelCount)
	perChannel := make(map[uint8]int, sledwire.ChannelCount)

	deadline := time.After(30 * time.Second)
	s.RequestRead()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil, fmt.Errorf("session closed")
			}
			if ev.Kind != session.EventSample {
				continue
			}
			ch := ev.Sample.Channel
			if perChannel[ch] >= count {
				continue
			}
			window = append(window, sledwire.RawSample{
				Channel:   ch,
				Value:     int64(math.Round(ev.Sample.Value)),
				Timestamp: ev.Sample.Timestamp,
			})
			perChannel[ch]++

			done := true
			for c := uint8(0); int(c) < sledwire.ChannelCount; c++ {
				if perChannel[c] < count {
					done = false
					break
				}
			}
			if done {
				return window, nil
			}

			// Each LOAD_DATA carries one reading per channel; request
			// the next frame once this one is fully consumed.
			if ch == sledwire.ChannelCount-1 {
				s.RequestRead()
			}

		case <-deadline:
			return nil, fmt.Errorf("timeout collecting readings")
		}
	}
}

func channelMean(samples []sledwire.RawSample, ch uint8) (float64, int) {
	sum := 0.0
	n := 0
	for _, s := range samples {
		if s.Channel == ch {
			sum += float64(s.Value)
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// parseWeight parses "500 g", "1.5lb", "16 oz" style input.
func parseWeight(input string) (float64, calibration.Unit, error) {
	fields := strings.Fields(input)
	var numPart, unitPart string
	switch len(fields) {
	case 2:
		numPart, unitPart = fields[0], fields[1]
	case 1:
		// Allow "500g" with no space
		i := strings.LastIndexFunc(fields[0], func(r rune) bool {
			return r >= '0' && r <= '9' || r == '.'
		})
		if i < 0 || i == len(fields[0])-1 {
			return 0, "", fmt.Errorf("missing unit in %q", input)
		}
		numPart, unitPart = fields[0][:i+1], fields[0][i+1:]
	default:
		return 0, "", fmt.Errorf("expected \"<weight> <unit>\", got %q", input)
	}

	weight, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid weight %q", numPart)
	}
	if weight <= 0 {
		return 0, "", fmt.Errorf("weight must be positive")
	}

	unit, err := calibration.ParseUnit(unitPart)
	if err != nil {
		return 0, "", err
	}
	return weight, unit, nil
}
