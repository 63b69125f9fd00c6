// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package pktfwd

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/pkg/errors"
)

// Semtech UDP protocol, version 1: a 12-byte header (version, random token,
// opcode, gateway EUI) in front of a JSON object, plus short ACK frames.
const (
	protocolVersion = 0x01

	pktPushData = 0x00
	pktPushACK  = 0x01
	pktPullData = 0x02
	pktPullResp = 0x03
	pktPullACK  = 0x04
	pktTxACK    = 0x05

	// Management opcodes some network servers send next to the standard set.
	mgtReset   = 0x15
	mgtSetSF   = 0x16
	mgtSetFreq = 0x17
)

const headerLength = 12

// Rxpk is the JSON uplink record of the Semtech protocol, one per received
// packet.
type Rxpk struct {
	Time      string  `json:"time"`
	Timestamp uint32  `json:"tmst"`
	Freq      float64 `json:"freq"` // MHz
	Channel   uint8   `json:"chan"`
	RFChain   uint8   `json:"rfch"`
	Stat      int8    `json:"stat"`
	Modu      string  `json:"modu"`
	Datr      string  `json:"datr"`
	Codr      string  `json:"codr"`
	RSSI      int     `json:"rssi"`
	LSNR      float32 `json:"lsnr"`
	Size      uint32  `json:"size"`
	Data      string  `json:"data"` // base64 payload
}

// Txpk is the JSON downlink record carried in a PULL_RESP.
type Txpk struct {
	Immediate bool    `json:"imme"`
	Timestamp uint32  `json:"tmst,omitempty"`
	Freq      float64 `json:"freq"` // MHz
	RFChain   uint8   `json:"rfch"`
	Power     uint32  `json:"powe,omitempty"`
	Modu      string  `json:"modu"`
	Datr      string  `json:"datr"`
	Codr      string  `json:"codr,omitempty"`
	InvPolar  bool    `json:"ipol,omitempty"`
	Size      int     `json:"size"`
	Data      string  `json:"data"`
	NoCRC     bool    `json:"ncrc,omitempty"`
}

// Stat is the periodic gateway status record, pushed with the same PUSH_DATA
// opcode as uplinks.
type Stat struct {
	Time      string  `json:"time"`
	Latitude  float64 `json:"lati"`
	Longitude float64 `json:"long"`
	Altitude  int     `json:"alti"`
	RxNb      uint32  `json:"rxnb"`
	RxOK      uint32  `json:"rxok"`
	RxFw      uint32  `json:"rxfw"`
	AckRatio  float64 `json:"ackr"`
	DwNb      uint32  `json:"dwnb"`
	TxNb      uint32  `json:"txnb"`
	Platform  string  `json:"pfrm,omitempty"`
	Desc      string  `json:"desc,omitempty"`
}

type rxData struct {
	Rxpk []Rxpk `json:"rxpk"`
	Stat *Stat  `json:"stat,omitempty"`
}

type txData struct {
	Txpk Txpk `json:"txpk"`
}

// ParseGatewayEUI decodes the hex-encoded 8-byte gateway EUI.
func ParseGatewayEUI(s string) ([8]byte, error) {
	var eui [8]byte
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return eui, errors.Wrap(err, "gateway EUI is not valid hex")
	}
	if len(decoded) != 8 {
		return eui, errors.Errorf("gateway EUI must be 8 bytes, got %d", len(decoded))
	}
	copy(eui[:], decoded)
	return eui, nil
}

// encodeHeader builds the 12-byte protocol header in front of a JSON body.
func encodeHeader(token uint16, opcode byte, eui [8]byte) []byte {
	header := make([]byte, headerLength)
	header[0] = protocolVersion
	binary.BigEndian.PutUint16(header[1:3], token)
	header[3] = opcode
	copy(header[4:12], eui[:])
	return header
}

type frame struct {
	token  uint16
	opcode byte
	body   []byte
}

// decodeFrame splits a downstream datagram into its header fields and body.
// ACK frames from the server carry a 4-byte header only.
func decodeFrame(datagram []byte) (frame, error) {
	if len(datagram) < 4 {
		return frame{}, errors.New("datagram shorter than the protocol header")
	}
	if datagram[0] != protocolVersion {
		return frame{}, errors.Errorf("unsupported protocol version %d", datagram[0])
	}
	return frame{
		token:  binary.BigEndian.Uint16(datagram[1:3]),
		opcode: datagram[3],
		body:   datagram[4:],
	}, nil
}
