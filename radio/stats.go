// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package radio

// Stats holds the counters the modem keeps across receive cycles. They are
// mutated by the modem only; consumers get a copy through Modem.Stats.
type Stats struct {
	// PerSF counts successful receives per spreading factor, indexed SF7..SF12.
	PerSF [6]uint32
	// RxOK counts packets that passed the CRC check, RxBad the ones that did
	// not, RxLost the ones whose payload read failed.
	RxOK   uint32
	RxBad  uint32
	RxLost uint32
	// TxOK counts completed transmissions.
	TxOK uint32
	// Boots counts modem initializations, Resets the defensive recoveries out
	// of an unknown state.
	Boots  uint32
	Resets uint32
}

func (s *Stats) countReceive(sf SpreadingFactor) {
	if sf.Valid() {
		s.PerSF[sf-SF7]++
	}
	s.RxOK++
}
