// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package radio

// DownlinkPacket stages one transmission. The caller owns the record until it
// is handed to the modem with Send; the modem treats it as read-only input
// for exactly one transmit cycle.
type DownlinkPacket struct {
	Payload []byte
	// Timestamp is the modem clock value, in microseconds, at which the
	// packet should go on air. Ignored when Immediate is set.
	Timestamp    uint32
	Immediate    bool
	SpreadFactor SpreadingFactor
	Power        uint8
	Freq         uint32
	// CRC disabled means the physical-layer CRC is not transmitted, which is
	// what LoRaWAN expects for downlinks.
	DisableCRC bool
	// InvertIQ flips the modulation polarity so other gateways do not receive
	// the downlink as an uplink.
	InvertIQ bool
}

// programTX writes the full transmit configuration from the staged downlink
// and starts the transmission. Interrupt-mask handling follows the tick
// ordering rule: flags cleared first, then the mask opened for all sources.
func (m *Modem) programTX(d *DownlinkPacket) {
	m.dev.SetOpMode(OpModeStandby)

	if d.InvertIQ {
		m.dev.WriteRegister(RegInvertIQ, InvertIQInverted)
	} else {
		m.dev.WriteRegister(RegInvertIQ, InvertIQNormal)
	}

	m.setFreq(d.Freq)
	m.setRate(d.SpreadFactor, !d.DisableCRC)
	m.setPower(d.Power)

	m.dev.WriteRegister(RegDioMapping1, MapDio0TxDone|MapDio1Nop|MapDio2Nop)
	m.dev.WriteRegister(RegIrqFlags, 0xFF)
	m.dev.WriteRegister(RegIrqFlagsMask, 0x00)

	if !d.Immediate {
		m.waitForTXTime(d.Timestamp)
	}

	m.dev.WriteRegister(RegFifoTxBaseAddr, 0x00)
	m.dev.WriteRegister(RegFifoAddrPtr, 0x00)
	m.dev.WriteRegister(RegPayloadLength, uint8(len(d.Payload)))
	for _, b := range d.Payload {
		m.dev.WriteRegister(RegFifo, b)
	}

	m.dev.SetOpMode(OpModeTX)
}

// waitForTXTime sleeps in bounded slices until the target timestamp. The
// scheduler is expected to hand downlinks over only slightly ahead of time;
// the cap keeps a bogus timestamp from stalling the gateway.
func (m *Modem) waitForTXTime(target uint32) {
	const slice = 500 // microseconds per sleep
	remaining := Elapsed(target, m.clock.Now())
	if remaining > m.opts.MaxTXWait {
		// Timestamp in the past (or absurdly far out): send now.
		return
	}
	for remaining > 0 {
		step := remaining
		if step > slice {
			step = slice
		}
		m.clock.Sleep(step)
		remaining = Elapsed(target, m.clock.Now())
		if remaining > m.opts.MaxTXWait {
			return
		}
	}
}

func (m *Modem) setPower(power uint8) {
	if power < 2 {
		power = 2
	} else if power > 17 {
		power = 17
	}
	m.dev.WriteRegister(RegPaConfig, 0x80|(power-2)) // PA_BOOST output pin
}
