// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Prescayc21

package transport

import (
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// SerialTransport wraps a serial port
type SerialTransport struct {
	port serial.Port
}

func (s *SerialTransport) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrUnexpectedDisconnect, err)
	}
	return n, nil
}

func (s *SerialTransport) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialTransport) Close() error {
	return s.port.Close()
}

// OpenSerial opens a serial port connection at 8N1.
func OpenSerial(portName string, baudRate int) (Transport, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, classifySerialError(portName, err)
	}

	logrus.Debugf("opened serial port %s at %d baud", portName, baudRate)
	return &SerialTransport{port: port}, nil
}

// classifySerialError maps library errors onto the transport taxonomy.
func classifySerialError(portName string, err error) error {
	if portErr, ok := err.(*serial.PortError); ok {
		switch portErr.Code() {
		case serial.PortNotFound:
			return fmt.Errorf("%w: %s", ErrPortNotFound, portName)
		case serial.PermissionDenied:
			return fmt.Errorf("%w: %s", ErrPermissionDenied, portName)
		}
	}
	return fmt.Errorf("failed to open serial port %s: %w", portName, err)
}

// ListPorts enumerates available serial ports in a platform-appropriate
// order and appends the simulator port.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	sorted := sortPorts(ports)
	return append(sorted, SimPortName), nil
}

// sortPorts orders ports the way an operator expects to find the sled:
// on macOS, Bluetooth and USB serial devices first; on Windows, COM ports
// in numeric order.
func sortPorts(ports []string) []string {
	switch runtime.GOOS {
	case "darwin":
		var bt, usb, rest []string
		for _, p := range ports {
			switch {
			case strings.Contains(p, "Bluetooth"):
				bt = append(bt, p)
			case strings.Contains(p, "usbserial") || strings.Contains(p, "usbmodem"):
				usb = append(usb, p)
			default:
				rest = append(rest, p)
			}
		}
		out := append(bt, usb...)
		return append(out, rest...)

	case "windows":
		var com, rest []string
		for _, p := range ports {
			if strings.HasPrefix(p, "COM") {
				com = append(com, p)
			} else {
				rest = append(rest, p)
			}
		}
		sort.Slice(com, func(i, j int) bool {
			ni, erri := strconv.Atoi(com[i][3:])
			nj, errj := strconv.Atoi(com[j][3:])
			if erri != nil || errj != nil {
				return com[i] < com[j]
			}
			return ni < nj
		})
		return append(com, rest...)

	default:
		out := make([]string, len(ports))
		copy(out, ports)
		sort.Strings(out)
		return out
	}
}
