// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package radio

import (
	"github.com/TheThingsNetwork/go-utils/log"
)

// Options parameterizes the one state machine for every wiring the boards
// come in. Hop and CAD are resolved here, at construction time; there are no
// build-time variants of the scan logic.
type Options struct {
	// Hop cycles through the channel plan. With Hop off the modem stays on
	// channel 0.
	Hop bool
	// CAD walks the spreading factors with channel activity detection. With
	// CAD off the modem sits in continuous receive on a fixed SF (duty-cycle
	// mode) and every recovery path re-arms receive instead of scanning.
	CAD bool
	// InitialSF is where scanning starts, SF7 by default.
	InitialSF SpreadingFactor
	// SyncWord is the LoRa sync word, 0x34 on public networks.
	SyncWord byte
	// RSSIOffset is the chip-variant correction constant (139 or 157),
	// supplied by variant detection.
	RSSIOffset int
	// RSSIThreshold is the minimum raw RSSI register value for a
	// CAD-done event to be worth a full spreading factor walk.
	RSSIThreshold uint8
	// RSSISettleMicros is how long the analog front end gets to settle after
	// entering CAD mode before the RSSI register is trusted. Short enough to
	// not miss the preamble, long enough to avoid reading noise.
	RSSISettleMicros uint32
	// HopDwellMicros bounds how long the modem waits on one channel for an
	// interrupt before forcing a hop.
	HopDwellMicros uint32
	// MaxTXWait bounds the in-line wait for a downlink timestamp, in
	// microseconds. A timestamp further out is treated as bogus and the
	// packet is sent immediately.
	MaxTXWait uint32
}

// Default tuning, carried over from the field-tested gateway configuration.
const (
	defaultRSSIThreshold    = 37
	defaultRSSISettleMicros = 15
	defaultHopDwellMicros   = 100000
	defaultMaxTXWait        = 30000
)

func (o *Options) fillDefaults() {
	if !o.InitialSF.Valid() {
		o.InitialSF = SF7
	}
	if o.SyncWord == 0 {
		o.SyncWord = 0x34
	}
	if o.RSSIThreshold == 0 {
		o.RSSIThreshold = defaultRSSIThreshold
	}
	if o.RSSISettleMicros == 0 {
		o.RSSISettleMicros = defaultRSSISettleMicros
	}
	if o.HopDwellMicros == 0 {
		o.HopDwellMicros = defaultHopDwellMicros
	}
	if o.MaxTXWait == 0 {
		o.MaxTXWait = defaultMaxTXWait
	}
}

// Modem is the controller owning the radio coordination state machine: the
// current state, channel cursor and spreading factor, and every register
// write that changes radio behaviour. It is single-threaded by design; Tick
// is the only entry point that touches registers, so no locking is needed.
type Modem struct {
	ctx   log.Interface
	dev   Device
	plan  ChannelPlan
	clock Clock
	opts  Options

	state   State
	channel int
	sf      SpreadingFactor
	// event is the soft interrupt: set when the modem synthesizes work and
	// wants an immediate re-tick without waiting for a hardware signal.
	event bool
	// rssi is the sample taken once per Scan->Cad transition.
	rssi uint8
	// hopTime marks the start of the current channel dwell.
	hopTime uint32
	// detectTime marks the last activity-detected interrupt.
	detectTime uint32

	uplink   *UplinkPacket
	downlink *DownlinkPacket

	stats Stats
}

// NewModem wires a modem to a transceiver. The caller keeps ownership of the
// device; variant detection has already happened and its RSSI offset comes in
// through the options.
func NewModem(ctx log.Interface, dev Device, plan ChannelPlan, clock Clock, opts Options) *Modem {
	opts.fillDefaults()
	return &Modem{
		ctx:   ctx,
		dev:   dev,
		plan:  plan,
		clock: clock,
		opts:  opts,
		state: StateInit,
		sf:    opts.InitialSF,
	}
}

// Start brings the radio into a known configuration and leaves the state
// machine in Init so the first tick arms the scan cycle.
func (m *Modem) Start() error {
	m.dev.SetOpMode(OpModeSleep)
	m.setFreq(m.plan.Freq(m.channel))
	m.setRate(m.sf, true)
	m.dev.WriteRegister(RegSyncWord, m.opts.SyncWord)
	m.dev.WriteRegister(RegMaxPayloadLength, MaxPayloadLength)
	m.dev.WriteRegister(RegPayloadLength, 0x40)
	m.dev.WriteRegister(RegLna, LnaMaxGain)
	m.dev.WriteRegister(RegHopPeriod, 0x00)
	m.dev.SetOpMode(OpModeStandby)

	m.state = StateInit
	m.event = true
	m.hopTime = m.clock.Now()
	m.stats.Boots++

	if err := m.dev.Err(); err != nil {
		return err
	}
	m.ctx.WithFields(log.Fields{
		"Channels": len(m.plan),
		"SF":       m.sf.String(),
		"Hop":      m.opts.Hop,
		"CAD":      m.opts.CAD,
	}).Info("LoRa modem initialized")
	return nil
}

// Stop puts the transceiver back to sleep.
func (m *Modem) Stop() error {
	m.dev.SetOpMode(OpModeSleep)
	return m.dev.Err()
}

// Send stages a downlink and requests a transmit cycle: the next tick enters
// the transmit state. An in-flight receive is abandoned; an in-flight
// transmit always runs to completion first, and the staged packet starts its
// cycle right after the transmit-done interrupt.
func (m *Modem) Send(d DownlinkPacket) {
	m.downlink = &d
	if m.state == StateTX || m.state == StateTXDone {
		return
	}
	m.state = StateTX
	m.event = true
}

// TakeUplink hands over the most recently populated uplink record, or nil
// when the last cycles produced none. Ownership passes to the caller.
func (m *Modem) TakeUplink() *UplinkPacket {
	up := m.uplink
	m.uplink = nil
	return up
}

// PendingEvent reports whether the modem synthesized work and wants an
// immediate re-tick.
func (m *Modem) PendingEvent() bool {
	return m.event
}

// State returns the current state of the coordination state machine.
func (m *Modem) State() State {
	return m.state
}

// Channel returns the current channel index and its carrier frequency.
func (m *Modem) Channel() (int, uint32) {
	return m.channel, m.plan.Freq(m.channel)
}

// SpreadFactor returns the spreading factor the modem is currently tuned to.
func (m *Modem) SpreadFactor() SpreadingFactor {
	return m.sf
}

// Stats returns a copy of the modem counters.
func (m *Modem) Stats() Stats {
	return m.stats
}

// setFreq programs the carrier frequency. The 19-bit shift against the 32 MHz
// crystal is the FRF fixed-point format of the chip.
func (m *Modem) setFreq(freq uint32) {
	frf := (uint64(freq) << 19) / 32000000
	m.dev.WriteRegister(RegFrfMsb, uint8(frf>>16))
	m.dev.WriteRegister(RegFrfMid, uint8(frf>>8))
	m.dev.WriteRegister(RegFrfLsb, uint8(frf))
}

// setRate programs the modem config registers for the given spreading factor,
// 125 kHz bandwidth and 4/5 coding rate. SF11 and SF12 need the low data rate
// optimization; symbol timeout grows with the slower rates so single receive
// does not give up mid-preamble.
func (m *Modem) setRate(sf SpreadingFactor, crc bool) {
	if !sf.Valid() {
		sf = SF7
	}

	mc1 := MC1BW125 | MC1CR45
	m.dev.WriteRegister(RegModemConfig1, mc1)

	mc2 := uint8(sf) << MC2SFShift
	if crc {
		mc2 |= MC2RxCrcOn
	}
	m.dev.WriteRegister(RegModemConfig2, mc2)

	mc3 := MC3AGCAuto
	if sf >= SF11 {
		mc3 |= MC3LowDataRateOptimize
	}
	m.dev.WriteRegister(RegModemConfig3, mc3)

	m.dev.WriteRegister(RegDetectionOptimize, DetectOptimizeStd)
	m.dev.WriteRegister(RegDetectionThresh, DetectThresholdStd)

	if sf >= SF10 {
		m.dev.WriteRegister(RegSymbTimeoutLsb, 0x05)
	} else {
		m.dev.WriteRegister(RegSymbTimeoutLsb, 0x08)
	}
}

// cadScanner arms channel activity detection on the current channel and
// spreading factor: DIO0 fires on CAD done, DIO1 on CAD detected. Flags are
// cleared before the mask is opened (tick ordering rule).
func (m *Modem) cadScanner() {
	m.dev.SetOpMode(OpModeStandby)
	m.setFreq(m.plan.Freq(m.channel))
	m.setRate(m.sf, true)
	m.dev.WriteRegister(RegDioMapping1, MapDio0CadDone|MapDio1CadDetect|MapDio2Nop)
	m.dev.WriteRegister(RegIrqFlags, 0xFF)
	m.dev.WriteRegister(RegIrqFlagsMask, ^(IrqCadDone | IrqCadDetected))
	m.dev.SetOpMode(OpModeCAD)
}

// rxSingle arms a single receive on the current channel and spreading factor,
// unmasking only the receive-relevant interrupt sources.
func (m *Modem) rxSingle() {
	m.dev.SetOpMode(OpModeStandby)
	m.dev.WriteRegister(RegInvertIQ, InvertIQNormal)
	m.setFreq(m.plan.Freq(m.channel))
	m.setRate(m.sf, true)
	m.dev.WriteRegister(RegDioMapping1, MapDio0RxDone|MapDio1RxTimeout|MapDio2Nop)
	m.dev.WriteRegister(RegFifoRxBaseAddr, 0x00)
	m.dev.WriteRegister(RegFifoAddrPtr, 0x00)
	m.dev.WriteRegister(RegIrqFlags, 0xFF)
	m.dev.WriteRegister(RegIrqFlagsMask, ^(IrqRxDone | IrqRxTimeout | IrqHeader | IrqCrcError))
	m.dev.SetOpMode(OpModeRXSingle)
}

// rxContinuous arms continuous receive, the resting state of duty-cycle mode.
func (m *Modem) rxContinuous() {
	m.dev.SetOpMode(OpModeStandby)
	m.dev.WriteRegister(RegInvertIQ, InvertIQNormal)
	m.setFreq(m.plan.Freq(m.channel))
	m.setRate(m.sf, true)
	m.dev.WriteRegister(RegDioMapping1, MapDio0RxDone|MapDio1RxTimeout|MapDio2Nop)
	m.dev.WriteRegister(RegFifoRxBaseAddr, 0x00)
	m.dev.WriteRegister(RegFifoAddrPtr, 0x00)
	m.dev.WriteRegister(RegIrqFlags, 0xFF)
	m.dev.WriteRegister(RegIrqFlagsMask, ^(IrqRxDone | IrqRxTimeout | IrqHeader | IrqCrcError))
	m.dev.SetOpMode(OpModeRX)
}

// hop advances the channel cursor, wrapping at the end of the plan, and
// resets the spreading factor walk.
func (m *Modem) hop() {
	m.channel = m.plan.Next(m.channel)
	m.sf = SF7
	m.hopTime = m.clock.Now()
}
