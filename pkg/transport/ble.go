// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Prescayc21

package transport

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// BLETransport carries sledwire bytes over a Nordic-UART-style BLE service.
// The sled's radio module exposes the standard NUS UUIDs: the TX
// characteristic notifies telemetry bytes, the RX characteristic accepts
// command bytes.
type BLETransport struct {
	device bluetooth.Device
	rx     bluetooth.DeviceCharacteristic
	tx     bluetooth.DeviceCharacteristic

	mu        sync.Mutex
	buf       []byte
	bufOffset int
	incoming  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (b *BLETransport) Read(p []byte) (int, error) {
	b.mu.Lock()
	if b.bufOffset < len(b.buf) {
		n := copy(p, b.buf[b.bufOffset:])
		b.bufOffset += n
		b.mu.Unlock()
		return n, nil
	}
	b.mu.Unlock()

	select {
	case data := <-b.incoming:
		b.mu.Lock()
		b.buf = data
		b.bufOffset = 0
		n := copy(p, b.buf)
		b.bufOffset = n
		b.mu.Unlock()
		return n, nil
	case <-b.done:
		return 0, ErrUnexpectedDisconnect
	}
}

func (b *BLETransport) Write(p []byte) (int, error) {
	// BLE writes are limited to the ATT MTU; chunk conservatively.
	const chunkSize = 20
	written := 0
	for written < len(p) {
		end := written + chunkSize
		if end > len(p) {
			end = len(p)
		}
		if _, err := b.rx.WriteWithoutResponse(p[written:end]); err != nil {
			return written, fmt.Errorf("BLE write failed: %w", err)
		}
		written = end
	}
	return written, nil
}

func (b *BLETransport) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.device.Disconnect()
	})
	return err
}

// OpenBLE scans for the sled by device address, connects, and wires up the
// UART service. The scan aborts after the given timeout with ErrPortNotFound.
func OpenBLE(address string, timeout time.Duration) (Transport, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable BLE adapter: %w", err)
	}

	want := strings.ToUpper(address)
	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)

	go func() {
		err := adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if strings.ToUpper(result.Address.String()) == want {
				a.StopScan()
				select {
				case found <- result:
				default:
				}
			}
		})
		if err != nil {
			scanErr <- err
		}
	}()

	var result bluetooth.ScanResult
	select {
	case result = <-found:
	case err := <-scanErr:
		return nil, fmt.Errorf("BLE scan failed: %w", err)
	case <-time.After(timeout):
		adapter.StopScan()
		return nil, fmt.Errorf("%w: BLE device %s not seen within %s", ErrPortNotFound, address, timeout)
	}

	logrus.Debugf("found sled at %s (RSSI %d), connecting", result.Address.String(), result.RSSI)

	device, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("BLE connect failed: %w", err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{bluetooth.ServiceUUIDNordicUART})
	if err != nil || len(services) == 0 {
		device.Disconnect()
		return nil, fmt.Errorf("UART service not found on %s: %w", address, err)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{
		bluetooth.CharacteristicUUIDUARTRX,
		bluetooth.CharacteristicUUIDUARTTX,
	})
	if err != nil || len(chars) != 2 {
		device.Disconnect()
		return nil, fmt.Errorf("UART characteristics not found on %s: %w", address, err)
	}

	t := &BLETransport{
		device:   device,
		rx:       chars[0],
		tx:       chars[1],
		incoming: make(chan []byte, 64),
		done:     make(chan struct{}),
	}

	err = t.tx.EnableNotifications(func(buf []byte) {
		data := make([]byte, len(buf))
		copy(data, buf)
		select {
		case t.incoming <- data:
		case <-t.done:
		}
	})
	if err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("failed to enable UART notifications: %w", err)
	}

	return t, nil
}
