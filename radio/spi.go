// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package radio

import (
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const spiSpeed = 8 * physic.MegaHertz

var errNotDetected = errors.New("no SX1272/SX1276 transceiver detected")

// SPIDevice implements Device over an SPI bus, the way the transceiver is
// wired on Raspberry Pi and similar boards. Transport failures are sticky:
// the first one is kept until Err is called.
type SPIDevice struct {
	conn    spi.Conn
	port    spi.PortCloser
	variant ChipVariant
	err     error
}

// OpenSPIDevice connects to the transceiver on the given SPI device path and
// detects the chip variant from its version register.
func OpenSPIDevice(devicePath string) (*SPIDevice, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "host initialization failed")
	}

	port, err := spireg.Open(devicePath)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't open SPI device %s", devicePath)
	}

	conn, err := port.Connect(spiSpeed, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, errors.Wrap(err, "couldn't connect to SPI device")
	}

	d := &SPIDevice{conn: conn, port: port}
	if err := d.detectVariant(); err != nil {
		port.Close()
		return nil, err
	}

	return d, nil
}

// detectVariant reads the version register to tell an SX1272 from an SX1276.
// The value also doubles as a liveness check of the SPI wiring; right after a
// reset pulse the chip may still be coming up, so the read is retried.
func (d *SPIDevice) detectVariant() error {
	var version uint8
	for attempt := 0; attempt < 3; attempt++ {
		version = d.ReadRegister(RegVersion)
		if err := d.Err(); err != nil {
			return err
		}

		switch version {
		case versionSX1272:
			d.variant = ChipSX1272
			return nil
		case versionSX1276:
			d.variant = ChipSX1276
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return errors.Wrapf(errNotDetected, "version register reads 0x%02x", version)
}

// Variant returns the detected chip variant.
func (d *SPIDevice) Variant() ChipVariant {
	return d.variant
}

func (d *SPIDevice) ReadRegister(addr uint8) uint8 {
	write := []byte{addr & 0x7F, 0x00}
	read := make([]byte, len(write))
	if err := d.conn.Tx(write, read); err != nil {
		d.fail(errors.Wrapf(err, "register 0x%02x read failed", addr))
		return 0
	}
	return read[1]
}

func (d *SPIDevice) WriteRegister(addr, value uint8) {
	write := []byte{addr | 0x80, value}
	if err := d.conn.Tx(write, make([]byte, len(write))); err != nil {
		d.fail(errors.Wrapf(err, "register 0x%02x write failed", addr))
	}
}

func (d *SPIDevice) SetOpMode(mode uint8) {
	d.WriteRegister(RegOpMode, OpModeLoRa|mode)
}

// ReadPayload positions the FIFO pointer on the last received packet and
// copies it out with a single burst read.
func (d *SPIDevice) ReadPayload(buf []byte) (int, error) {
	length := int(d.ReadRegister(RegRxNbBytes))
	current := d.ReadRegister(RegFifoRxCurrentAddr)
	d.WriteRegister(RegFifoAddrPtr, current)
	if err := d.Err(); err != nil {
		return 0, err
	}
	if length > len(buf) {
		return 0, errors.Errorf("payload of %d bytes exceeds the %d byte buffer", length, len(buf))
	}

	write := append([]byte{RegFifo & 0x7F}, make([]byte, length)...)
	read := make([]byte, len(write))
	if err := d.conn.Tx(write, read); err != nil {
		return 0, errors.Wrap(err, "FIFO burst read failed")
	}
	copy(buf, read[1:])
	return length, nil
}

func (d *SPIDevice) Err() error {
	err := d.err
	d.err = nil
	return err
}

func (d *SPIDevice) Close() error {
	return d.port.Close()
}

func (d *SPIDevice) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}
