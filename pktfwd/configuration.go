// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package pktfwd

import (
	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/pkg/errors"
	"github.com/things4u/singlechan-forwarder/radio"
	"github.com/things4u/singlechan-forwarder/util"
)

// configureBoard resets the transceiver if a reset pin is configured, opens
// the SPI link and assembles a modem over the detected chip.
func configureBoard(ctx log.Interface, conf util.Config) (*radio.Modem, *radio.SPIDevice, error) {
	if conf.ResetPin > 0 {
		ctx.WithField("Pin", conf.ResetPin).Info("Resetting LoRa transceiver")
		if err := ResetPin(conf.ResetPin); err != nil {
			// A failed reset isn't fatal: some boards wire the reset line
			// elsewhere and the chip may already be up.
			ctx.WithError(err).Warn("Transceiver reset failed, trying to carry on")
		}
	}

	device, err := radio.OpenSPIDevice(conf.SPIDevice)
	if err != nil {
		return nil, nil, errors.Wrap(err, "couldn't open the transceiver")
	}
	ctx.WithField("Variant", device.Variant().String()).Info("LoRa transceiver detected")

	opts := radio.Options{
		Hop:        conf.Hop,
		CAD:        conf.CAD,
		InitialSF:  radio.SpreadingFactor(conf.SpreadingFactor),
		SyncWord:   conf.SyncWord,
		RSSIOffset: device.Variant().RSSIOffset(),
	}
	modem := radio.NewModem(ctx, device, radio.ChannelPlan(conf.Channels), radio.NewClock(), opts)
	return modem, device, nil
}
