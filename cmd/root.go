// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Prescayc21

package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket bridge flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Bluetooth LE flag
	bleAddress string

	// Persisted state paths
	calibrationPath string
	settingsPath    string

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "sledctl",
	Short: "Skeleton sled balance controller",
	Long: `Sledctl - controller for the skeleton sled load cell rig.

Streams load telemetry from the sled, converts it through a persisted
calibration, and computes weight distribution: center of mass, trim
actuation, and ballast tray layouts.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600]
  WebSocket: --url ws://host/path [--username user]
  Bluetooth: --ble AA:BB:CC:DD:EE:FF
  Simulator: --port SIM

For WebSocket authentication, the password is read from the SLED_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell
history.`,
	Version: "2.0.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		} else {
			logrus.SetLevel(logrus.WarnLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device (SIM for the simulator)")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 9600, "Baud rate (serial only)")

	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&bleAddress, "ble", "", "Bluetooth LE device address")

	rootCmd.PersistentFlags().StringVarP(&calibrationPath, "calibration", "c", "sled_calibration.json", "Calibration file")
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "general_settings.json", "Rig geometry settings file")

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
