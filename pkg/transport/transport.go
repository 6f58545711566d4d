// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Prescayc21

// Package transport owns the physical or simulated link to the sled.
// It provides byte-level send/receive with a connect/disconnect lifecycle;
// framing and interpretation of the bytes belong to pkg/sledwire.
package transport

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// Transport provides a common interface for reading/writing bytes from a
// serial port, WebSocket bridge, BLE link, or the built-in simulator.
// Exactly one goroutine may own a Transport at a time.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// Failure modes surfaced to the session layer. The transport never retries
// internally; reconnect policy belongs to the caller.
var (
	ErrPortNotFound         = errors.New("port not found")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrLinkTimeout          = errors.New("link timeout")
	ErrUnexpectedDisconnect = errors.New("unexpected disconnect")
)

// DefaultBaudRate matches the sled's radio module configuration.
const DefaultBaudRate = 9600

// Config selects and parameterizes exactly one transport variant.
// Selection is a pure configuration choice: no other component may know
// which variant is active.
type Config struct {
	// Serial
	Port string
	Baud int

	// WebSocket bridge
	URL           string
	Username      string
	Password      string
	SkipSSLVerify bool

	// Bluetooth LE
	BLEAddress string

	// Simulator
	Sim SimConfig
}

// Open opens the transport selected by the config. Returns the transport
// and a human-readable connection description.
func Open(cfg Config) (Transport, string, error) {
	switch {
	case cfg.URL != "":
		t, err := OpenWebSocket(cfg.URL, cfg.Username, cfg.Password, cfg.SkipSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return t, fmt.Sprintf("WebSocket: %s", cfg.URL), nil

	case cfg.BLEAddress != "":
		t, err := OpenBLE(cfg.BLEAddress, 15*time.Second)
		if err != nil {
			return nil, "", err
		}
		return t, fmt.Sprintf("BLE: %s", cfg.BLEAddress), nil

	case cfg.Port == SimPortName:
		t := NewSim(cfg.Sim)
		return t, fmt.Sprintf("Simulator: %s", SimPortName), nil

	case cfg.Port != "":
		baud := cfg.Baud
		if baud == 0 {
			baud = DefaultBaudRate
		}
		t, err := OpenSerial(cfg.Port, baud)
		if err != nil {
			return nil, "", err
		}
		return t, fmt.Sprintf("Serial: %s @ %d baud", cfg.Port, baud), nil
	}

	return nil, "", fmt.Errorf("no transport configured: set a port, URL, or BLE address")
}
