// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Prescayc21

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Prescayc21/SkeletonSledController/pkg/balance"
	"github.com/Prescayc21/SkeletonSledController/pkg/session"
)

var (
	balanceSetpoints []string
	balanceGain      float64
	balanceMaxDelta  float64
	balanceDuration  time.Duration
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Run the closed-loop trim controller",
	Long: `Drive the trim actuators toward per-channel weight setpoints.

Setpoints are given in grams as channel:weight pairs, for example:

  sledctl balance -p SIM --setpoint 0:1000 --setpoint 1:1000

Channels without a setpoint are left alone. The loop runs until
interrupted (Ctrl+C) or until --duration elapses. Actuator outputs are
clamped to the safe range; hitting the clamp is reported but does not
stop the loop.`,
	RunE: runBalance,
}

func init() {
	balanceCmd.Flags().StringArrayVar(&balanceSetpoints, "setpoint", nil, "Target weight as channel:grams (repeatable)")
	balanceCmd.Flags().Float64Var(&balanceGain, "gain", balance.DefaultGain, "Proportional gain")
	balanceCmd.Flags().Float64Var(&balanceMaxDelta, "max-delta", balance.DefaultMaxDeltaPerStep, "Max actuator move per step")
	balanceCmd.Flags().DurationVar(&balanceDuration, "duration", 0, "Stop after this long (0 = run until Ctrl+C)")
	rootCmd.AddCommand(balanceCmd)
}

func parseSetpoints(specs []string) (map[uint8]float64, error) {
	setpoints := make(map[uint8]float64, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid setpoint %q: expected channel:grams", spec)
		}
		ch, err := strconv.ParseUint(parts[0], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid channel in %q", spec)
		}
		grams, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight in %q", spec)
		}
		setpoints[uint8(ch)] = grams
	}
	return setpoints, nil
}

func runBalance(cmd *cobra.Command, args []string) error {
	setpoints, err := parseSetpoints(balanceSetpoints)
	if err != nil {
		return err
	}
	if len(setpoints) == 0 {
		return fmt.Errorf("no setpoints given: use --setpoint ch:grams")
	}

	profile, err := loadProfile()
	if err != nil {
		return err
	}

	engine := balance.NewEngine(balance.EngineConfig{
		Gain:            balanceGain,
		MaxDeltaPerStep: balanceMaxDelta,
	})

	s, err := openSession(session.Config{
		Profile:   profile,
		Engine:    engine,
		Setpoints: setpoints,
	})
	if err != nil {
		return err
	}
	defer s.Stop()

	fmt.Printf("Connected: %s\n", s.Description())
	for ch, grams := range setpoints {
		fmt.Printf("  channel %d setpoint: %.1f g\n", ch, grams)
	}
	fmt.Println("Press Ctrl+C to stop")

	events, cancel := s.Subscribe(256)
	defer cancel()

	s.StartStreaming()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	var timeout <-chan time.Time
	if balanceDuration > 0 {
		timeout = time.After(balanceDuration)
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("session closed")
			}
			switch ev.Kind {
			case session.EventSample:
				target, tracked := setpoints[ev.Sample.Channel]
				if !tracked {
					continue
				}
				fmt.Printf("[%s] channel %d: %8.2f %s (target %.1f)\n",
					ev.Timestamp.Format("15:04:05.000"),
					ev.Sample.Channel, ev.Sample.Value, ev.Sample.Unit, target)
			case session.EventSafetyLimit:
				fmt.Printf("[%s] actuator output clamped to safe range\n",
					ev.Timestamp.Format("15:04:05.000"))
			case session.EventCalibrationError:
				fmt.Fprintf(os.Stderr, "calibration: %v\n", ev.Err)
			case session.EventState:
				if ev.State == session.StateFaulted {
					return fmt.Errorf("link faulted")
				}
			}

		case <-sigs:
			fmt.Println("\nStopping")
			s.StopStreaming()
			return nil

		case <-timeout:
			fmt.Println("Duration elapsed, stopping")
			s.StopStreaming()
			return nil
		}
	}
}
