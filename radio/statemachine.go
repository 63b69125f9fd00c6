// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package radio

// State enumerates the mutually exclusive states of the radio coordination
// state machine. The active state is the sole authority for which register
// writes are legal next.
type State uint8

const (
	// StateInit is the state the modem is created in; the first tick clears
	// the interrupt flags and arms the scan cycle.
	StateInit State = iota
	// StateScan is the resting scan state: CAD armed on the current channel
	// at SF7, hopping to the next channel when the dwell time runs out.
	StateScan
	// StateCad walks the spreading factors upward on one channel after the
	// scan saw enough energy to be worth the walk.
	StateCad
	// StateRX waits for a packet after a positive activity detection, or sits
	// in continuous receive in duty-cycle mode.
	StateRX
	// StateTX programs and starts a staged downlink transmission.
	StateTX
	// StateTXDone waits for the transmit-done interrupt.
	StateTXDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateScan:
		return "Scan"
	case StateCad:
		return "Cad"
	case StateRX:
		return "Receiving"
	case StateTX:
		return "Transmitting"
	case StateTXDone:
		return "TxDone"
	}
	return "Unknown"
}

// Tick runs one step of the state machine: it reads the interrupt cause once,
// performs at most one state transition and the register writes that
// transition implies, and returns. Register reads establishing the cause
// always happen before any write that clears or re-arms interrupts; when both
// are touched, flags are cleared before the mask is changed.
//
// Tick returns promptly. The only blocking inside is the microsecond settle
// delay before an RSSI read and the bounded wait for a downlink timestamp.
func (m *Modem) Tick() {
	flags := m.dev.ReadRegister(RegIrqFlags)
	mask := m.dev.ReadRegister(RegIrqFlagsMask)
	intr := flags &^ mask
	m.event = false

	switch m.state {
	case StateInit:
		m.tickInit()
	case StateScan:
		m.tickScan(intr)
	case StateCad:
		m.tickCad(intr)
	case StateRX:
		m.tickRX(intr)
	case StateTX:
		m.tickTX()
	case StateTXDone:
		m.tickTXDone(intr)
	default:
		m.recover()
	}

	if err := m.dev.Err(); err != nil {
		m.ctx.WithError(err).Debug("Radio transport error during tick")
	}
}

// tickInit clears every pending interrupt and enters the configured resting
// state: the scan cycle, or continuous receive in duty-cycle mode.
func (m *Modem) tickInit() {
	m.dev.WriteRegister(RegIrqFlags, 0xFF)
	if m.opts.CAD {
		m.sf = SF7
		m.cadScanner()
		m.state = StateScan
		m.event = true
	} else {
		m.rxContinuous()
		m.state = StateRX
	}
	m.hopTime = m.clock.Now()
}

func (m *Modem) tickScan(intr uint8) {
	switch {
	case intr&IrqCadDetected != 0:
		m.armReceive()

	case intr&IrqCadDone != 0:
		// Energy decision: re-arm CAD, let the front end settle, then read
		// the RSSI once. Below the threshold there is nothing worth a
		// spreading factor walk on this channel.
		m.cadScanner()
		m.clock.Sleep(m.opts.RSSISettleMicros)
		m.rssi = m.dev.ReadRegister(RegRssiValue)
		if m.rssi > m.opts.RSSIThreshold {
			m.state = StateCad
		} else {
			m.event = true
		}

	default:
		if intr != 0 {
			// Stray interrupt for this state: drop it and keep scanning.
			m.dev.WriteRegister(RegIrqFlags, intr)
		}
		if m.opts.Hop && Elapsed(m.clock.Now(), m.hopTime) >= m.opts.HopDwellMicros {
			m.hop()
			m.cadScanner()
			m.event = true
		}
	}
}

func (m *Modem) tickCad(intr uint8) {
	switch {
	case intr&IrqCadDetected != 0:
		m.armReceive()

	case intr&IrqCadDone != 0:
		if m.sf < SF12 {
			// The walk is exhaustive and monotonic: SF7 up to SF12, never
			// skipping, so every rate gets tried before the channel is
			// abandoned.
			m.sf++
			m.cadScanner()
		} else {
			m.sf = SF7
			if m.opts.Hop {
				m.hop()
			}
			m.cadScanner()
			m.state = StateScan
			m.event = true
		}

	default:
		if intr != 0 {
			m.dev.WriteRegister(RegIrqFlags, intr)
		}
		// Bounded wait: a CAD interrupt that never arrives must not pin the
		// scanner to this channel.
		if Elapsed(m.clock.Now(), m.hopTime) >= m.opts.HopDwellMicros {
			m.sf = SF7
			if m.opts.Hop {
				m.hop()
			}
			m.cadScanner()
			m.state = StateScan
			m.event = true
		}
	}
}

// armReceive is the detection path shared by Scan and Cad: sample the RSSI
// while the signal is present, record the detection timestamp and arm a
// single receive at the current channel and spreading factor.
func (m *Modem) armReceive() {
	m.rssi = m.dev.ReadRegister(RegRssiValue)
	m.detectTime = m.clock.Now()
	m.rxSingle()
	m.state = StateRX
}

func (m *Modem) tickRX(intr uint8) {
	switch {
	case intr&IrqRxDone != 0:
		if intr&IrqCrcError != 0 {
			m.stats.RxBad++
			m.ctx.WithField("Freq", m.plan.Freq(m.channel)).Debug("Packet with CRC error, dropped")
		} else {
			m.readUplink()
		}
		m.rearmResting()

	case intr&IrqRxTimeout != 0:
		m.rearmResting()

	default:
		if intr != 0 {
			// Header or other intermediate interrupt: the packet is still in
			// the air, keep waiting.
			m.ctx.WithField("Interrupt", intr).Debug("Intermediate receive interrupt")
			m.dev.WriteRegister(RegIrqFlags, intr)
			return
		}
		// Watchdog for a receive-done that never fires, for example after a
		// spurious detection. SF12 packets take seconds, so the bound is
		// generous.
		if Elapsed(m.clock.Now(), m.detectTime) >= rxWatchdogMicros {
			m.rearmResting()
		}
	}
}

// rxWatchdogMicros bounds how long a single receive may sit armed without a
// terminal interrupt before the modem gives up on it. Longer than the
// longest SF12 airtime.
const rxWatchdogMicros = 5000000

func (m *Modem) tickTX() {
	if m.downlink == nil {
		// A transmit cycle without a staged packet is protocol confusion.
		m.recover()
		return
	}
	m.programTX(m.downlink)
	m.downlink = nil
	m.detectTime = m.clock.Now()
	m.state = StateTXDone
}

func (m *Modem) tickTXDone(intr uint8) {
	switch {
	case intr&IrqTxDone != 0:
		m.stats.TxOK++
		m.ctx.Debug("Transmission completed")
		m.rearmResting()

	case intr != 0:
		// Anything else here is unexpected: clear everything and re-arm.
		m.ctx.WithField("Interrupt", intr).Debug("Unexpected interrupt while transmitting")
		m.dev.WriteRegister(RegIrqFlags, 0xFF)
		m.rearmResting()

	default:
		// The transceiver runs the transmission to completion on its own; if
		// the done interrupt is lost, the watchdog re-arms reception.
		if Elapsed(m.clock.Now(), m.detectTime) >= rxWatchdogMicros {
			m.rearmResting()
		}
	}
}

// rearmResting funnels every completed or abandoned cycle back to the
// configured resting state. A downlink staged during the previous cycle takes
// precedence and starts its transmit cycle first. Duty-cycle mode re-arms
// continuous receive on the fixed channel; scanning mode restarts the scan
// cycle so the gateway keeps covering all channels.
func (m *Modem) rearmResting() {
	if m.downlink != nil {
		m.state = StateTX
		m.event = true
		return
	}
	if !m.opts.CAD {
		m.rxContinuous()
		m.state = StateRX
		m.detectTime = m.clock.Now()
		return
	}
	m.sf = SF7
	m.cadScanner()
	m.hopTime = m.clock.Now()
	m.state = StateScan
	m.event = true
}

// recover forces the state machine out of an undefined state. The gateway has
// to stay field-serviceable, so this path never panics: it re-enters the
// resting state and counts the reset.
func (m *Modem) recover() {
	m.stats.Resets++
	m.ctx.WithField("State", uint8(m.state)).Warn("Unknown modem state, forcing recovery")
	m.downlink = nil
	m.dev.WriteRegister(RegIrqFlags, 0xFF)
	m.rearmResting()
}
