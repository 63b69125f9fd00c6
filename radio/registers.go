// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package radio drives a single SX1272/SX1276 LoRa transceiver as a
// time-shared concentrator: one radio scans a list of channels and spreading
// factors, receives uplinks and transmits scheduled downlinks.
//
// The register addresses and bit masks below follow the Semtech SX1276/77/78/79
// datasheet (rev 4, March 2015). The SX1272 shares the LoRa register page.
package radio

// Register addresses (LoRa page).
const (
	RegFifo              uint8 = 0x00
	RegOpMode            uint8 = 0x01
	RegFrfMsb            uint8 = 0x06
	RegFrfMid            uint8 = 0x07
	RegFrfLsb            uint8 = 0x08
	RegPaConfig          uint8 = 0x09
	RegPaRamp            uint8 = 0x0A
	RegLna               uint8 = 0x0C
	RegFifoAddrPtr       uint8 = 0x0D
	RegFifoTxBaseAddr    uint8 = 0x0E
	RegFifoRxBaseAddr    uint8 = 0x0F
	RegFifoRxCurrentAddr uint8 = 0x10
	RegIrqFlagsMask      uint8 = 0x11
	RegIrqFlags          uint8 = 0x12
	RegRxNbBytes         uint8 = 0x13
	RegPktSnrValue       uint8 = 0x19
	RegPktRssiValue      uint8 = 0x1A // RSSI of the latest packet
	RegRssiValue         uint8 = 0x1B // current RSSI
	RegHopChannel        uint8 = 0x1C
	RegModemConfig1      uint8 = 0x1D
	RegModemConfig2      uint8 = 0x1E
	RegSymbTimeoutLsb    uint8 = 0x1F
	RegPayloadLength     uint8 = 0x22
	RegMaxPayloadLength  uint8 = 0x23
	RegHopPeriod         uint8 = 0x24
	RegModemConfig3      uint8 = 0x26
	RegDetectionOptimize uint8 = 0x31
	RegInvertIQ          uint8 = 0x33
	RegDetectionThresh   uint8 = 0x37
	RegSyncWord          uint8 = 0x39
	RegDioMapping1       uint8 = 0x40
	RegDioMapping2       uint8 = 0x41
	RegVersion           uint8 = 0x42
	RegPaDacSX1272       uint8 = 0x5A
	RegPaDacSX1276       uint8 = 0x4D
)

// Operating modes, written to RegOpMode. OpModeLoRa keeps the modem on the
// LoRa register page and is OR-ed in by Device implementations.
const (
	OpModeLoRa     uint8 = 0x80
	OpModeMask     uint8 = 0x07
	OpModeSleep    uint8 = 0x00
	OpModeStandby  uint8 = 0x01
	OpModeFSTX     uint8 = 0x02
	OpModeTX       uint8 = 0x03
	OpModeFSRX     uint8 = 0x04
	OpModeRX       uint8 = 0x05
	OpModeRXSingle uint8 = 0x06
	OpModeCAD      uint8 = 0x07
)

// IRQ bits in RegIrqFlags and RegIrqFlagsMask. A set bit in the mask register
// disables the corresponding interrupt.
const (
	IrqRxTimeout   uint8 = 0x80
	IrqRxDone      uint8 = 0x40
	IrqCrcError    uint8 = 0x20
	IrqHeader      uint8 = 0x10
	IrqTxDone      uint8 = 0x08
	IrqCadDone     uint8 = 0x04
	IrqFhssChange  uint8 = 0x02
	IrqCadDetected uint8 = 0x01
)

// DIO pin mappings, two bits per pin in RegDioMapping1.
const (
	MapDio0RxDone    uint8 = 0x00
	MapDio0TxDone    uint8 = 0x40
	MapDio0CadDone   uint8 = 0x80
	MapDio1RxTimeout uint8 = 0x00
	MapDio1CadDetect uint8 = 0x20
	MapDio1Nop       uint8 = 0x30
	MapDio2Nop       uint8 = 0x0C
	MapDio3CadDone   uint8 = 0x00
	MapDio3Nop       uint8 = 0x03
)

// RegModemConfig1 fields (SX1276 layout).
const (
	MC1BW125          uint8 = 0x70
	MC1BW250          uint8 = 0x80
	MC1BW500          uint8 = 0x90
	MC1CR45           uint8 = 0x02
	MC1CR46           uint8 = 0x04
	MC1CR47           uint8 = 0x06
	MC1CR48           uint8 = 0x08
	MC1ImplicitHeader uint8 = 0x01
)

// RegModemConfig2: spreading factor in the upper nibble, CRC-on bit 2.
const (
	MC2SFShift uint8 = 4
	MC2RxCrcOn uint8 = 0x04
)

// RegModemConfig3 fields.
const (
	MC3LowDataRateOptimize uint8 = 0x08
	MC3AGCAuto             uint8 = 0x04
)

// LNA gain settings.
const (
	LnaMaxGain uint8 = 0x23
	LnaOffGain uint8 = 0x00
	LnaLowGain uint8 = 0x20
)

// RegInvertIQ values for normal and inverted polarity. Downlinks are sent
// with inverted I/Q so nodes do not receive each other.
const (
	InvertIQNormal   uint8 = 0x27
	InvertIQInverted uint8 = 0x66
)

// RegDetectionOptimize / RegDetectionThresh values. SF6 needs the alternate
// pair, every other spreading factor uses the defaults.
const (
	DetectOptimizeSF6  uint8 = 0xC5
	DetectOptimizeStd  uint8 = 0xC3
	DetectThresholdSF6 uint8 = 0x0C
	DetectThresholdStd uint8 = 0x0A
)

// Maximum length of a received payload, in bytes.
const MaxPayloadLength = 128

// Chip version register values used for variant detection.
const (
	versionSX1272 uint8 = 0x22
	versionSX1276 uint8 = 0x12
)
