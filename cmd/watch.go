// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Prescayc21

package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Prescayc21/SkeletonSledController/pkg/sledwire"
	"github.com/Prescayc21/SkeletonSledController/pkg/transport"
)

var watchStream bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Display raw frames in human-readable format",
	Long: `Continuously decode and display sled frames as they arrive.

Each frame is shown with timestamp, message type, and decoded payload.
Useful for protocol-level debugging; for validation and statistics use
the diagnose command instead.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchStream, "stream", true, "Request streaming on connect")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := transportConfig()
	if err != nil {
		return err
	}

	tr, desc, err := transport.Open(cfg)
	if err != nil {
		return err
	}
	defer tr.Close()

	fmt.Printf("Skeleton Sled - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", desc)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if watchStream {
		if _, err := tr.Write(sledwire.MustEncodePacket(sledwire.NewStreamStart())); err != nil {
			return fmt.Errorf("failed to request streaming: %v", err)
		}
	}

	decoder := sledwire.NewDecoder()
	buf := make([]byte, 128)

	for {
		n, err := tr.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, transport.ErrUnexpectedDisconnect) {
				logrus.Info("Connection closed")
				return nil
			}
			logrus.WithError(err).Warn("Read error")
			continue
		}

		for i := 0; i < n; i++ {
			packet, err := decoder.DecodeByte(buf[i])
			if err != nil {
				fmt.Printf("[ERROR] %v\n", err)
				continue
			}
			if packet != nil {
				fmt.Print(sledwire.FormatPacket(packet))
			}
		}
	}
}
