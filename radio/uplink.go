// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package radio

// UplinkPacket is one received uplink after post-processing, ready to hand to
// the forwarder. The modem owns the record until it is populated; TakeUplink
// passes ownership to the caller by value.
type UplinkPacket struct {
	Payload []byte
	// SNR is the packet signal-to-noise ratio in dB, decoded from the
	// sign-magnitude register encoding.
	SNR int
	// RSSI is the raw packet RSSI register value; RSSICorrection is the
	// chip-variant constant to subtract from it. The modem reports both and
	// leaves the subtraction to the consumer, the same way in every cycle.
	RSSI           uint8
	RSSICorrection int
	SpreadFactor   SpreadingFactor
	Freq           uint32
	// Timestamp is the modem clock value at the receive-done interrupt, in
	// microseconds.
	Timestamp uint32
}

// decodeSNR converts the packet SNR register value to dB. The register uses a
// sign-magnitude-like encoding: with bit 7 set the value is negative and is
// recovered by inverting and masking before the divide-by-4 shift.
func decodeSNR(raw uint8) int {
	if raw&0x80 != 0 {
		return -int(((^raw + 1) & 0xFF) >> 2)
	}
	return int((raw & 0x7F) >> 2)
}

// readUplink pulls the received packet out of the radio and populates the
// uplink record. A failed payload read is a lost packet: no record is
// produced and the caller re-arms the radio.
func (m *Modem) readUplink() {
	snr := m.dev.ReadRegister(RegPktSnrValue)
	rssi := m.dev.ReadRegister(RegPktRssiValue)

	buf := make([]byte, MaxPayloadLength)
	length, err := m.dev.ReadPayload(buf)
	if err != nil || length <= 0 {
		m.stats.RxLost++
		m.ctx.WithError(err).Debug("Payload read failed, packet lost")
		return
	}

	m.uplink = &UplinkPacket{
		Payload:        buf[:length],
		SNR:            decodeSNR(snr),
		RSSI:           rssi,
		RSSICorrection: m.opts.RSSIOffset,
		SpreadFactor:   m.sf,
		Freq:           m.plan.Freq(m.channel),
		Timestamp:      m.clock.Now(),
	}
	m.stats.countReceive(m.sf)
}
