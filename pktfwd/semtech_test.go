// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package pktfwd

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/things4u/singlechan-forwarder/radio"
)

func TestParseGatewayEUI(t *testing.T) {
	eui, err := ParseGatewayEUI("AA555A0000000101")
	if err != nil {
		t.Fatalf("valid EUI rejected: %v", err)
	}
	expected := [8]byte{0xAA, 0x55, 0x5A, 0x00, 0x00, 0x00, 0x01, 0x01}
	if eui != expected {
		t.Errorf("EUI decoded as %x, expected %x", eui, expected)
	}

	if _, err := ParseGatewayEUI("AA555A00000001"); err == nil {
		t.Error("7-byte EUI accepted")
	}
	if _, err := ParseGatewayEUI("not-hex-at-all!!"); err == nil {
		t.Error("non-hex EUI accepted")
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	eui := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	header := encodeHeader(0xBEEF, pktPushData, eui)
	if len(header) != headerLength {
		t.Fatalf("header is %d bytes, expected %d", len(header), headerLength)
	}

	body := []byte(`{"rxpk":[]}`)
	f, err := decodeFrame(append(header, body...))
	if err != nil {
		t.Fatalf("couldn't decode an encoded frame: %v", err)
	}
	if f.token != 0xBEEF {
		t.Errorf("token decoded as %#x, expected 0xBEEF", f.token)
	}
	if f.opcode != pktPushData {
		t.Errorf("opcode decoded as %#x, expected PUSH_DATA", f.opcode)
	}
	if !bytes.Equal(f.body[8:], body) {
		t.Errorf("body decoded as %q", f.body[8:])
	}
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	if _, err := decodeFrame([]byte{0x01, 0x00}); err == nil {
		t.Error("truncated datagram accepted")
	}
	if _, err := decodeFrame([]byte{0x02, 0x00, 0x00, 0x01}); err == nil {
		t.Error("unknown protocol version accepted")
	}
}

func TestTxpkToDownlink(t *testing.T) {
	payload := []byte{0x60, 0x01, 0x02, 0x03, 0x04}
	txpk := &Txpk{
		Timestamp: 5000000,
		Freq:      869.525,
		Power:     14,
		Modu:      "LORA",
		Datr:      "SF9BW125",
		Data:      base64.StdEncoding.EncodeToString(payload),
		InvPolar:  true,
	}

	packet, err := txpkToDownlink(txpk, 14)
	if err != nil {
		t.Fatalf("valid downlink rejected: %v", err)
	}
	if !bytes.Equal(packet.Payload, payload) {
		t.Errorf("payload decoded as %x", packet.Payload)
	}
	if packet.Power != 14 {
		t.Errorf("power decoded as %d, expected 14", packet.Power)
	}
	if packet.SpreadFactor != radio.SF9 {
		t.Errorf("spreading factor decoded as %v, expected SF9", packet.SpreadFactor)
	}
	if packet.Freq != 869525000 {
		t.Errorf("frequency decoded as %d Hz, expected 869525000", packet.Freq)
	}
	if packet.Timestamp != 5000000 {
		t.Errorf("timestamp decoded as %d", packet.Timestamp)
	}
	if !packet.InvertIQ {
		t.Error("downlink should invert polarity")
	}
	if packet.Immediate {
		t.Error("timestamped downlink marked immediate")
	}
}

func TestTxpkToDownlinkRejections(t *testing.T) {
	base := func() *Txpk {
		return &Txpk{
			Modu: "LORA",
			Datr: "SF7BW125",
			Data: base64.StdEncoding.EncodeToString([]byte{0x01}),
		}
	}

	for _, tc := range []struct {
		name   string
		mutate func(*Txpk)
	}{
		{"unparsable datarate", func(t *Txpk) { t.Datr = "FSK50000" }},
		{"spreading factor out of range", func(t *Txpk) { t.Datr = "SF6BW125" }},
		{"unsupported bandwidth", func(t *Txpk) { t.Datr = "SF7BW250" }},
		{"broken base64", func(t *Txpk) { t.Data = "%%%%" }},
		{"oversized payload", func(t *Txpk) {
			t.Data = base64.StdEncoding.EncodeToString(make([]byte, radio.MaxPayloadLength+1))
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			txpk := base()
			tc.mutate(txpk)
			if _, err := txpkToDownlink(txpk, 14); err == nil {
				t.Error("unusable downlink accepted")
			}
		})
	}
}

func TestTxpkWithoutPowerUsesConfiguredDefault(t *testing.T) {
	txpk := &Txpk{
		Immediate: true,
		Freq:      868.1,
		Modu:      "LORA",
		Datr:      "SF7BW125",
		Data:      base64.StdEncoding.EncodeToString([]byte{0x60}),
	}

	packet, err := txpkToDownlink(txpk, 14)
	if err != nil {
		t.Fatalf("valid downlink rejected: %v", err)
	}
	if packet.Power != 14 {
		t.Errorf("absent powe field decoded as %d dBm, expected the configured 14", packet.Power)
	}

	txpk.Power = 5
	packet, err = txpkToDownlink(txpk, 14)
	if err != nil {
		t.Fatalf("valid downlink rejected: %v", err)
	}
	if packet.Power != 5 {
		t.Errorf("explicit powe field decoded as %d dBm, expected 5", packet.Power)
	}
}

func TestWrapUplink(t *testing.T) {
	packet := &radio.UplinkPacket{
		Payload:        []byte{0x40, 0x04, 0x03, 0x02, 0x01},
		SNR:            7,
		RSSI:           0x32,
		RSSICorrection: 157,
		SpreadFactor:   radio.SF12,
		Freq:           868100000,
		Timestamp:      1234567,
	}

	rxpk := wrapUplink(packet)
	if rxpk.Datr != "SF12BW125" {
		t.Errorf("datarate encoded as %q", rxpk.Datr)
	}
	if rxpk.Freq != 868.1 {
		t.Errorf("frequency encoded as %f MHz", rxpk.Freq)
	}
	if rxpk.RSSI != 0x32-157 {
		t.Errorf("RSSI encoded as %d, expected %d", rxpk.RSSI, 0x32-157)
	}
	if rxpk.LSNR != 7 {
		t.Errorf("SNR encoded as %f", rxpk.LSNR)
	}
	if rxpk.Timestamp != 1234567 {
		t.Errorf("timestamp encoded as %d", rxpk.Timestamp)
	}
	if rxpk.Modu != "LORA" || rxpk.Codr != "4/5" || rxpk.Stat != 1 {
		t.Errorf("fixed fields encoded as %q/%q/%d", rxpk.Modu, rxpk.Codr, rxpk.Stat)
	}
	if rxpk.Size != 5 {
		t.Errorf("size encoded as %d", rxpk.Size)
	}
	decoded, err := base64.StdEncoding.DecodeString(rxpk.Data)
	if err != nil || !bytes.Equal(decoded, packet.Payload) {
		t.Errorf("payload encoded as %q", rxpk.Data)
	}
	if !strings.HasSuffix(rxpk.Time, "Z") {
		t.Errorf("time %q is not UTC", rxpk.Time)
	}
}
