// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Prescayc21

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Prescayc21/SkeletonSledController/pkg/calibration"
	"github.com/Prescayc21/SkeletonSledController/pkg/session"
	"github.com/Prescayc21/SkeletonSledController/pkg/transport"
)

// getPassword obtains the WebSocket password from the environment or an
// interactive prompt with hidden input.
func getPassword() (string, error) {
	if pw := os.Getenv("SLED_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		return strings.TrimSpace(password), nil
	}
	return string(passwordBytes), nil
}

// transportConfig builds the transport selection from the global flags.
func transportConfig() (transport.Config, error) {
	cfg := transport.Config{
		Port:          portName,
		Baud:          baudRate,
		URL:           wsURL,
		Username:      wsUsername,
		SkipSSLVerify: wsNoSSLVerify,
		BLEAddress:    bleAddress,
	}

	if wsURL != "" && wsUsername != "" {
		password, err := getPassword()
		if err != nil {
			return transport.Config{}, err
		}
		cfg.Password = password
	}

	if cfg.Port == "" && cfg.URL == "" && cfg.BLEAddress == "" {
		return transport.Config{}, fmt.Errorf("no connection specified: use --port, --url, or --ble")
	}
	return cfg, nil
}

// loadProfile reads the calibration file. When the file does not exist
// the identity profile stands in and the caller is warned: readings are
// raw counts, not grams.
func loadProfile() (*calibration.Profile, error) {
	if _, err := os.Stat(calibrationPath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: no calibration file at %s, readings are raw counts\n", calibrationPath)
		return calibration.IdentityProfile(), nil
	}
	return calibration.Load(calibrationPath)
}

// openSession connects a session from the global flags and blocks until
// the link is live.
func openSession(cfg session.Config) (*session.Session, error) {
	tcfg, err := transportConfig()
	if err != nil {
		return nil, err
	}
	cfg.Transport = tcfg

	s := session.New(cfg)
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}
