// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package radio

import (
	"testing"

	ttnlog "github.com/TheThingsNetwork/go-utils/log"
	ttnapex "github.com/TheThingsNetwork/go-utils/log/apex"
	apexlog "github.com/apex/log"
	"github.com/apex/log/handlers/discard"
)

// fakeDevice is an in-memory register file with the write-1-to-clear
// semantics of the interrupt flag register.
type fakeDevice struct {
	regs       [256]uint8
	modes      []uint8
	payload    []byte
	payloadErr error
}

func (d *fakeDevice) ReadRegister(addr uint8) uint8 {
	return d.regs[addr]
}

func (d *fakeDevice) WriteRegister(addr, value uint8) {
	if addr == RegIrqFlags {
		d.regs[RegIrqFlags] &^= value
		return
	}
	d.regs[addr] = value
}

func (d *fakeDevice) SetOpMode(mode uint8) {
	d.modes = append(d.modes, mode)
	d.regs[RegOpMode] = OpModeLoRa | mode
}

func (d *fakeDevice) ReadPayload(buf []byte) (int, error) {
	if d.payloadErr != nil {
		return 0, d.payloadErr
	}
	copy(buf, d.payload)
	return len(d.payload), nil
}

func (d *fakeDevice) Err() error {
	return nil
}

// raise asserts interrupt bits the way the hardware would.
func (d *fakeDevice) raise(bits uint8) {
	d.regs[RegIrqFlags] |= bits
}

func (d *fakeDevice) lastMode() uint8 {
	if len(d.modes) == 0 {
		return 0xFF
	}
	return d.modes[len(d.modes)-1]
}

// fakeClock is a manually advanced microsecond clock; Sleep advances it so
// settle delays show up as elapsed time.
type fakeClock struct {
	now uint32
}

func (c *fakeClock) Now() uint32       { return c.now }
func (c *fakeClock) Sleep(us uint32)   { c.now += us }
func (c *fakeClock) advance(us uint32) { c.now += us }

func testLogger() ttnlog.Interface {
	return ttnapex.Wrap(&apexlog.Logger{Handler: discard.New(), Level: apexlog.ErrorLevel})
}

var testPlan = ChannelPlan{868100000, 868300000, 868500000}

func newTestModem(opts Options) (*Modem, *fakeDevice, *fakeClock) {
	dev := &fakeDevice{}
	clk := &fakeClock{}
	opts.RSSIOffset = ChipSX1276.RSSIOffset()
	m := NewModem(testLogger(), dev, testPlan, clk, opts)
	if err := m.Start(); err != nil {
		panic(err)
	}
	m.Tick() // Init -> resting state
	return m, dev, clk
}

func TestSpreadingFactorWalkIsMonotonic(t *testing.T) {
	m, dev, _ := newTestModem(Options{CAD: true})
	if m.State() != StateScan {
		t.Fatalf("expected Scan after init, got %v", m.State())
	}

	// Enough channel energy to enter the walk.
	dev.regs[RegRssiValue] = 50
	dev.raise(IrqCadDone)
	m.Tick()
	if m.State() != StateCad {
		t.Fatalf("expected Cad after energetic CAD done, got %v", m.State())
	}
	if m.SpreadFactor() != SF7 {
		t.Fatalf("walk should start at SF7, got %v", m.SpreadFactor())
	}

	// Repeated CAD-done interrupts without detection walk SF8..SF12 without
	// skipping, then fall back to Scan.
	for _, want := range []SpreadingFactor{SF8, SF9, SF10, SF11, SF12} {
		dev.raise(IrqCadDone)
		m.Tick()
		if m.SpreadFactor() != want {
			t.Fatalf("expected %v, got %v", want, m.SpreadFactor())
		}
		if m.State() != StateCad {
			t.Fatalf("expected Cad at %v, got %v", want, m.State())
		}
	}

	dev.raise(IrqCadDone)
	m.Tick()
	if m.State() != StateScan {
		t.Fatalf("expected Scan after SF12 gave up, got %v", m.State())
	}
	if m.SpreadFactor() != SF7 {
		t.Fatalf("expected SF reset to SF7, got %v", m.SpreadFactor())
	}
}

func TestChannelWrapAfterDwell(t *testing.T) {
	m, _, clk := newTestModem(Options{CAD: true, Hop: true})

	for hop := 1; hop <= len(testPlan); hop++ {
		clk.advance(defaultHopDwellMicros)
		m.Tick()
		idx, _ := m.Channel()
		if idx != hop%len(testPlan) {
			t.Fatalf("after %d hops expected channel %d, got %d", hop, hop%len(testPlan), idx)
		}
		if !m.PendingEvent() {
			t.Fatal("a forced hop must request an immediate re-tick")
		}
	}

	idx, freq := m.Channel()
	if idx != 0 || freq != testPlan[0] {
		t.Fatalf("expected cursor back on channel 0, got %d (%d Hz)", idx, freq)
	}
	if m.SpreadFactor() != SF7 {
		t.Fatalf("expected SF7 after wrap, got %v", m.SpreadFactor())
	}
}

func TestScanWithoutHopWaitsForInterrupt(t *testing.T) {
	m, _, clk := newTestModem(Options{CAD: true})

	clk.advance(10 * defaultHopDwellMicros)
	m.Tick()
	idx, _ := m.Channel()
	if idx != 0 {
		t.Fatalf("fixed-channel scan must not hop, got channel %d", idx)
	}
	if m.State() != StateScan {
		t.Fatalf("expected Scan, got %v", m.State())
	}
}

func TestLowRSSIStaysInScan(t *testing.T) {
	m, dev, _ := newTestModem(Options{CAD: true})

	dev.regs[RegRssiValue] = 10 // below the detection threshold
	dev.raise(IrqCadDone)
	m.Tick()
	if m.State() != StateScan {
		t.Fatalf("expected Scan on low RSSI, got %v", m.State())
	}
	if !m.PendingEvent() {
		t.Fatal("low-RSSI CAD done must force a re-tick")
	}
}

func TestDetectionArmsSingleReceive(t *testing.T) {
	m, dev, _ := newTestModem(Options{CAD: true})

	dev.regs[RegRssiValue] = 55
	dev.raise(IrqCadDetected)
	m.Tick()
	if m.State() != StateRX {
		t.Fatalf("expected Receiving after detection, got %v", m.State())
	}
	if dev.lastMode() != OpModeRXSingle {
		t.Fatalf("expected single receive mode, got 0x%02x", dev.lastMode())
	}
	// Only the receive interrupts may be unmasked.
	wantMask := ^(IrqRxDone | IrqRxTimeout | IrqHeader | IrqCrcError)
	if dev.regs[RegIrqFlagsMask] != wantMask {
		t.Fatalf("expected mask 0x%02x, got 0x%02x", wantMask, dev.regs[RegIrqFlagsMask])
	}
}

func TestCRCErrorProducesNoUplink(t *testing.T) {
	for _, cad := range []bool{true, false} {
		m, dev, _ := newTestModem(Options{CAD: cad})

		if cad {
			dev.raise(IrqCadDetected)
			m.Tick()
		}
		if m.State() != StateRX {
			t.Fatalf("cad=%v: expected Receiving, got %v", cad, m.State())
		}

		dev.payload = []byte{0x40, 0x01, 0x02}
		dev.raise(IrqRxDone | IrqCrcError)
		m.Tick()

		if up := m.TakeUplink(); up != nil {
			t.Fatalf("cad=%v: CRC error must not emit an uplink, got %+v", cad, up)
		}
		if got := m.Stats().RxBad; got != 1 {
			t.Fatalf("cad=%v: expected 1 bad receive, got %d", cad, got)
		}
		want := StateScan
		if !cad {
			want = StateRX
		}
		if m.State() != want {
			t.Fatalf("cad=%v: expected %v after CRC error, got %v", cad, want, m.State())
		}
	}
}

func TestReceivePopulatesUplink(t *testing.T) {
	m, dev, _ := newTestModem(Options{CAD: true})

	dev.regs[RegRssiValue] = 55
	dev.raise(IrqCadDetected)
	m.Tick()

	dev.payload = []byte{0x40, 0x11, 0x22, 0x33, 0x44}
	dev.regs[RegPktSnrValue] = 0x04 // +1 dB
	dev.regs[RegPktRssiValue] = 0x80
	dev.raise(IrqRxDone)
	m.Tick()

	up := m.TakeUplink()
	if up == nil {
		t.Fatal("expected an uplink record")
	}
	if up.SNR != 1 {
		t.Fatalf("expected SNR 1, got %d", up.SNR)
	}
	if up.RSSI != 0x80 {
		t.Fatalf("expected raw RSSI 0x80, got 0x%02x", up.RSSI)
	}
	if up.RSSICorrection != 157 {
		t.Fatalf("expected SX1276 correction 157, got %d", up.RSSICorrection)
	}
	if up.SpreadFactor != SF7 {
		t.Fatalf("expected SF7, got %v", up.SpreadFactor)
	}
	if up.Freq != testPlan[0] {
		t.Fatalf("expected %d Hz, got %d", testPlan[0], up.Freq)
	}
	if len(up.Payload) != 5 {
		t.Fatalf("expected 5 payload bytes, got %d", len(up.Payload))
	}
	if got := m.Stats().PerSF[0]; got != 1 {
		t.Fatalf("expected one SF7 receive counted, got %d", got)
	}

	// Ownership passed: the record is gone.
	if m.TakeUplink() != nil {
		t.Fatal("TakeUplink must clear the record")
	}
}

func TestFailedPayloadReadIsALostPacket(t *testing.T) {
	m, dev, _ := newTestModem(Options{CAD: false})

	dev.payloadErr = errNotDetected // any error will do
	dev.raise(IrqRxDone)
	m.Tick()

	if up := m.TakeUplink(); up != nil {
		t.Fatalf("lost packet must not emit an uplink, got %+v", up)
	}
	if got := m.Stats().RxLost; got != 1 {
		t.Fatalf("expected 1 lost packet, got %d", got)
	}
	if m.State() != StateRX {
		t.Fatalf("expected radio re-armed into Receiving, got %v", m.State())
	}
}

func TestTransmitCompletion(t *testing.T) {
	for _, cad := range []bool{true, false} {
		m, dev, _ := newTestModem(Options{CAD: cad, Hop: cad})

		m.Send(DownlinkPacket{
			Payload:      []byte{0xA0, 0x01},
			Immediate:    true,
			SpreadFactor: SF9,
			Power:        14,
			Freq:         869525000,
			InvertIQ:     true,
		})
		if !m.PendingEvent() {
			t.Fatal("staging a downlink must request an immediate tick")
		}

		m.Tick()
		if m.State() != StateTXDone {
			t.Fatalf("cad=%v: expected TxDone, got %v", cad, m.State())
		}
		if dev.lastMode() != OpModeTX {
			t.Fatalf("cad=%v: expected transmit mode, got 0x%02x", cad, dev.lastMode())
		}
		if dev.regs[RegIrqFlagsMask] != 0x00 {
			t.Fatalf("cad=%v: transmit must unmask all interrupts, got 0x%02x", cad, dev.regs[RegIrqFlagsMask])
		}
		if dev.regs[RegInvertIQ] != InvertIQInverted {
			t.Fatalf("cad=%v: expected inverted I/Q, got 0x%02x", cad, dev.regs[RegInvertIQ])
		}

		dev.raise(IrqTxDone)
		m.Tick()
		want := StateScan
		if !cad {
			want = StateRX
		}
		if m.State() != want {
			t.Fatalf("cad=%v: expected %v after transmit done, got %v", cad, want, m.State())
		}
		if got := m.Stats().TxOK; got != 1 {
			t.Fatalf("cad=%v: expected 1 completed transmission, got %d", cad, got)
		}
	}
}

func TestStagedDownlinkWaitsForTransmitCompletion(t *testing.T) {
	m, dev, _ := newTestModem(Options{CAD: true})

	m.Send(DownlinkPacket{
		Payload:   []byte{0xA0, 0x01},
		Immediate: true,
		Freq:      868100000,
	})
	m.Tick()
	if m.State() != StateTXDone {
		t.Fatalf("expected TxDone for the first transmission, got %v", m.State())
	}

	// A second downlink lands while the first is still on air. It must not
	// abort the in-flight transmission.
	m.Send(DownlinkPacket{
		Payload:   []byte{0xA0, 0x02},
		Immediate: true,
		Freq:      868300000,
	})
	if m.State() != StateTXDone {
		t.Fatalf("staging during transmit must not change state, got %v", m.State())
	}

	dev.raise(IrqTxDone)
	m.Tick()
	if got := m.Stats().TxOK; got != 1 {
		t.Fatalf("expected the first transmission completed, got %d", got)
	}
	if m.State() != StateTX {
		t.Fatalf("expected the staged downlink to start its cycle, got %v", m.State())
	}

	m.Tick()
	if m.State() != StateTXDone {
		t.Fatalf("expected TxDone for the second transmission, got %v", m.State())
	}
	dev.raise(IrqTxDone)
	m.Tick()
	if got := m.Stats().TxOK; got != 2 {
		t.Fatalf("expected both transmissions completed, got %d", got)
	}
	if m.State() != StateScan {
		t.Fatalf("expected Scan after the queue drained, got %v", m.State())
	}
}

func TestStateTotality(t *testing.T) {
	known := map[State]bool{
		StateInit: true, StateScan: true, StateCad: true,
		StateRX: true, StateTX: true, StateTXDone: true,
	}

	states := []State{StateInit, StateScan, StateCad, StateRX, StateTX, StateTXDone, State(77)}
	patterns := []uint8{0x00, 0x01, 0x04, 0x05, 0x08, 0x10, 0x20, 0x40, 0x60, 0x80, 0xFF}

	for _, s := range states {
		for _, p := range patterns {
			m, dev, _ := newTestModem(Options{CAD: true, Hop: true})
			m.state = s
			dev.regs[RegIrqFlags] = p
			dev.regs[RegIrqFlagsMask] = 0x00
			m.Tick()
			if !known[m.State()] {
				t.Fatalf("state %d with interrupts 0x%02x landed in unmapped state %d", s, p, m.State())
			}
		}
	}
}

func TestUnknownStateRecovers(t *testing.T) {
	m, _, _ := newTestModem(Options{CAD: true, Hop: true})
	m.state = State(200)
	m.Tick()
	if m.State() != StateScan {
		t.Fatalf("hopping gateway must recover into Scan, got %v", m.State())
	}
	if got := m.Stats().Resets; got != 1 {
		t.Fatalf("expected recovery counted as reset, got %d", got)
	}

	m, _, _ = newTestModem(Options{CAD: false})
	m.state = State(200)
	m.Tick()
	if m.State() != StateRX {
		t.Fatalf("fixed-channel gateway must recover into Receiving, got %v", m.State())
	}
}

func TestCadTimeoutFallsBackToScan(t *testing.T) {
	m, dev, clk := newTestModem(Options{CAD: true, Hop: true})

	dev.regs[RegRssiValue] = 50
	dev.raise(IrqCadDone)
	m.Tick()
	if m.State() != StateCad {
		t.Fatalf("expected Cad, got %v", m.State())
	}

	// No interrupt ever arrives: the dwell bound must push the modem back to
	// scanning instead of pinning it to this channel.
	clk.advance(defaultHopDwellMicros)
	m.Tick()
	if m.State() != StateScan {
		t.Fatalf("expected Scan after CAD dwell ran out, got %v", m.State())
	}
}

func TestNoUnproductiveStall(t *testing.T) {
	m, _, clk := newTestModem(Options{CAD: true, Hop: true})

	// Never assert an interrupt; every tick advances time a little. The hop
	// timer must keep the cursor moving.
	start, _ := m.Channel()
	moved := false
	for i := 0; i < 200; i++ {
		clk.advance(defaultHopDwellMicros / 10)
		m.Tick()
		if idx, _ := m.Channel(); idx != start {
			moved = true
			break
		}
	}
	if !moved {
		t.Fatal("hop timer never forced a channel transition")
	}
}
