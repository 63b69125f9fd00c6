// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package pktfwd

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/things4u/singlechan-forwarder/radio"
	"github.com/things4u/singlechan-forwarder/util"
)

// The single-radio modem always listens at 125 kHz with a 4/5 coding rate.
const (
	uplinkBandwidth  = "BW125"
	uplinkCodingRate = "4/5"
)

// wrapUplink converts a received packet into the rxpk record the network
// server expects. The RSSI correction constant travels with the packet and is
// applied here, the same way for every cycle.
func wrapUplink(packet *radio.UplinkPacket) Rxpk {
	return Rxpk{
		Time:      time.Now().UTC().Format(time.RFC3339Nano),
		Timestamp: packet.Timestamp,
		Freq:      float64(packet.Freq) / 1000000,
		Channel:   0,
		RFChain:   0,
		Stat:      1, // only CRC-valid packets make it out of the modem
		Modu:      "LORA",
		Datr:      fmt.Sprintf("%s%s", packet.SpreadFactor, uplinkBandwidth),
		Codr:      uplinkCodingRate,
		RSSI:      int(packet.RSSI) - packet.RSSICorrection,
		LSNR:      float32(packet.SNR),
		Size:      uint32(len(packet.Payload)),
		Data:      base64.StdEncoding.EncodeToString(packet.Payload),
	}
}

// logUplink records the node address of the uplink, which is the only part
// of the payload the gateway itself is interested in.
func logUplink(ctx log.Interface, packet *radio.UplinkPacket) {
	devAddr, err := util.GetDevAddr(packet.Payload)
	if err != nil {
		ctx.WithError(err).Debug("Uplink without a readable device address")
		return
	}
	ctx.WithFields(log.Fields{
		"DevAddr": devAddr.String(),
		"Freq":    packet.Freq,
		"SF":      packet.SpreadFactor.String(),
		"RSSI":    int(packet.RSSI) - packet.RSSICorrection,
		"SNR":     packet.SNR,
	}).Info("Received uplink packet")
}
