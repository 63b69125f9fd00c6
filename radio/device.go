// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package radio

import "time"

// Device is the register-level access the modem needs from a transceiver. The
// single-register operations do not return errors: the modem issues dozens of
// them per tick and none of its recovery paths depend on an individual one
// failing. Implementations record transport failures internally and report
// them through Err; the modem re-arms the radio on every tick regardless, so a
// transient SPI glitch costs at most one cycle.
type Device interface {
	// ReadRegister returns the 8-bit value of the given register.
	ReadRegister(addr uint8) uint8
	// WriteRegister sets the 8-bit value of the given register.
	WriteRegister(addr, value uint8)
	// SetOpMode switches the transceiver operating mode (one of the OpMode
	// constants, without the OpModeLoRa bit).
	SetOpMode(mode uint8)
	// ReadPayload copies the received packet out of the radio FIFO into buf
	// and returns the number of bytes read.
	ReadPayload(buf []byte) (int, error)
	// Err returns the first transport failure seen since the last call, and
	// clears it.
	Err() error
}

// ChipVariant identifies which member of the transceiver family is installed.
// It is determined once at startup, outside the modem.
type ChipVariant uint8

const (
	ChipSX1272 ChipVariant = iota
	ChipSX1276
)

// RSSIOffset returns the correction constant to subtract from the raw packet
// RSSI register value, per the datasheet of each chip variant.
func (v ChipVariant) RSSIOffset() int {
	if v == ChipSX1272 {
		return 139
	}
	return 157
}

func (v ChipVariant) String() string {
	if v == ChipSX1272 {
		return "SX1272"
	}
	return "SX1276"
}

// Clock is the wrapping microsecond time base the modem uses for hop dwell
// tracking and for the short settle delays before RSSI reads. Now wraps after
// about 71 minutes; elapsed time must be computed with Elapsed, never with a
// signed subtraction.
type Clock interface {
	Now() uint32
	Sleep(micros uint32)
}

// Elapsed returns the number of microseconds between since and now on a
// wrapping clock. Unsigned subtraction keeps the result correct across a
// counter overflow.
func Elapsed(now, since uint32) uint32 {
	return now - since
}

type monotonicClock struct {
	start time.Time
}

// NewClock returns a Clock backed by the monotonic wall clock.
func NewClock() Clock {
	return &monotonicClock{start: time.Now()}
}

func (c *monotonicClock) Now() uint32 {
	return uint32(time.Since(c.start).Microseconds())
}

func (c *monotonicClock) Sleep(micros uint32) {
	time.Sleep(time.Duration(micros) * time.Microsecond)
}
