// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package radio

import "fmt"

// SpreadingFactor is the LoRa modulation parameter trading data rate for
// range. SF6 exists on the chip but is reserved (implicit header only) and is
// never part of the scan cycle.
type SpreadingFactor uint8

const (
	SF6  SpreadingFactor = 6
	SF7  SpreadingFactor = 7
	SF8  SpreadingFactor = 8
	SF9  SpreadingFactor = 9
	SF10 SpreadingFactor = 10
	SF11 SpreadingFactor = 11
	SF12 SpreadingFactor = 12
)

func (sf SpreadingFactor) String() string {
	return fmt.Sprintf("SF%d", uint8(sf))
}

// Valid reports whether the spreading factor is inside the supported scan
// range.
func (sf SpreadingFactor) Valid() bool {
	return sf >= SF7 && sf <= SF12
}

// ChannelPlan is the ordered list of carrier frequencies, in Hz, the modem
// cycles through when hopping. It is read-only to the modem.
type ChannelPlan []uint32

// Freq returns the carrier frequency of the given channel index.
func (p ChannelPlan) Freq(index int) uint32 {
	return p[index]
}

// Next returns the channel index after the given one, wrapping to 0 at the
// end of the list.
func (p ChannelPlan) Next(index int) int {
	return (index + 1) % len(p)
}
