// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package util

import (
	"encoding/json"
	"io/ioutil"
	"net/http"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Default channel plan, EU868. The first three channels are the ones every
// LoRaWAN-compliant gateway has to cover; the last one is the RX2/class-B
// response channel.
var defaultChannels = []uint32{
	868100000,
	868300000,
	868500000,
	867100000,
	867300000,
	867500000,
	867700000,
	867900000,
	868800000,
	869525000,
}

// Config is the radio-side configuration of the gateway: the channel plan and
// how the single transceiver is expected to cover it.
type Config struct {
	SPIDevice       string  // SPI device path of the transceiver
	ResetPin        int     // GPIO pin of the reset line, 0 when not wired
	Channels        []uint32
	SpreadingFactor uint8   // initial spreading factor (7..12)
	Hop             bool    // scan all channels instead of the first one
	CAD             bool    // walk the spreading factors with channel activity detection
	Power           uint8   // TX output power in dBm
	SyncWord        byte    // LoRa sync word, 0x34 for public LoRaWAN networks
	RefLatitude     float64 // reference coordinates sent in status messages
	RefLongitude    float64
	RefAltitude     int
}

// LoadConfig builds the gateway configuration from the viper values bound to
// the start command. A channels-url value overrides the static channel list.
func LoadConfig(ctx log.Interface, v *viper.Viper) (*Config, error) {
	conf := &Config{
		SPIDevice:       v.GetString("spi-device"),
		ResetPin:        v.GetInt("reset-pin"),
		Channels:        defaultChannels,
		SpreadingFactor: uint8(v.GetInt("spreading-factor")),
		Hop:             v.GetBool("hop"),
		CAD:             v.GetBool("cad"),
		Power:           14,
		SyncWord:        0x34,
		RefLatitude:     v.GetFloat64("ref-latitude"),
		RefLongitude:    v.GetFloat64("ref-longitude"),
		RefAltitude:     v.GetInt("ref-altitude"),
	}

	if power := v.GetInt("power"); power != 0 {
		conf.Power = uint8(power)
	}
	if channels := v.GetIntSlice("channels"); len(channels) != 0 {
		conf.Channels = make([]uint32, len(channels))
		for i, freq := range channels {
			conf.Channels[i] = uint32(freq)
		}
	}
	if url := v.GetString("channels-url"); url != "" {
		channels, err := FetchChannelsFromURL(ctx, url)
		if err != nil {
			return nil, errors.Wrap(err, "couldn't fetch the channel plan")
		}
		conf.Channels = channels
	}

	if conf.SpreadingFactor < 7 || conf.SpreadingFactor > 12 {
		return nil, errors.New("spreading factor out of the SF7..SF12 range")
	}
	if len(conf.Channels) == 0 {
		return nil, errors.New("no channels configured")
	}

	return conf, nil
}

type channelPlan struct {
	Channels []struct {
		Freq        uint32  `json:"freq_hz"`
		Description *string `json:"desc,omitempty"`
	} `json:"channels"`
}

func jsonParseChannels(plan []byte) ([]uint32, error) {
	var parsed channelPlan
	if err := json.Unmarshal(plan, &parsed); err != nil {
		return nil, err
	}
	channels := make([]uint32, 0, len(parsed.Channels))
	for _, c := range parsed.Channels {
		channels = append(channels, c.Freq)
	}
	return channels, nil
}

// FetchChannelsFromURL downloads a JSON channel plan, for gateways that follow
// a frequency plan maintained on a central server.
func FetchChannelsFromURL(ctx log.Interface, url string) ([]uint32, error) {
	resp, err := http.Get(url)
	if err != nil {
		ctx.Error("Couldn't get the frequency plan")
		return nil, err
	}
	plan, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		ctx.Error("Failure to read the server response")
		return nil, err
	}
	resp.Body.Close()

	return jsonParseChannels(plan)
}
