// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"os"
	"runtime/trace"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/things4u/singlechan-forwarder/pktfwd"
	"github.com/things4u/singlechan-forwarder/util"
)

// standardDownlinkSendMargin is the time we hand a TX packet to the modem before its sending time.
const standardDownlinkSendMargin = 20

// downlinksSendMargin is specified at build. If it contains a numeric value, it is used as the number of
// milliseconds of time margin. If no numeric value can be parsed, we use standardDownlinkSendMargin.
var downlinksSendMargin = ""

func getDefaultDownlinkSendMargin() int64 {
	margin, err := strconv.Atoi(downlinksSendMargin)
	if err != nil || margin == 0 {
		return standardDownlinkSendMargin
	}

	return int64(margin)
}

var config = viper.GetViper()

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start Packet Forwarding",
	Long:  `singlechan-forwarder start connects to the LoRa transceiver, and starts redirecting the packets.`,

	Run: func(cmd *cobra.Command, args []string) {
		ctx := util.GetLogger()
		ctx.WithField("Version", config.GetString("version")).Info("Packet Forwarder for single-channel LoRa Gateway")

		if traceFilename := config.GetString("run-trace"); traceFilename != "" {
			f, err := os.Create(traceFilename)
			if err != nil {
				ctx.WithField("File", traceFilename).Fatal("Couldn't create trace file")
			}
			trace.Start(f)
			defer trace.Stop()
			ctx.WithField("File", traceFilename).Info("Trace writing active for this run")
		}

		conf, err := util.LoadConfig(ctx, config)
		if err != nil {
			ctx.WithError(err).Fatal("Couldn't read configuration")
			return
		}

		runConfig := pktfwd.RunConfig{
			Server:              config.GetString("server"),
			GatewayEUI:          config.GetString("gateway-eui"),
			Description:         config.GetString("description"),
			Version:             config.GetString("version"),
			DownlinksSendMargin: time.Duration(config.GetInt64("downlink-send-margin")) * time.Millisecond,
			StatusInterval:      time.Duration(config.GetInt64("status-interval")) * time.Second,
		}

		if err = pktfwd.Run(ctx, *conf, runConfig); err != nil {
			ctx.WithError(err).Error("The program ended following a failure")
		}
	},
}

func init() {
	startCmd.PersistentFlags().String("server", "router.eu.thethings.network:1700", "The network server uplinks are forwarded to, in a <host:port> format")
	startCmd.PersistentFlags().String("gateway-eui", "", "The 8-byte gateway EUI, hex-encoded")
	startCmd.PersistentFlags().String("description", "", "A human-readable description of the gateway, sent in status messages")
	startCmd.PersistentFlags().String("spi-device", "/dev/spidev0.0", "The SPI device the transceiver is connected to")
	startCmd.PersistentFlags().Int("reset-pin", 0, "The GPIO pin wired to the transceiver reset, pulsed before startup (0 to disable)")
	startCmd.PersistentFlags().Int("spreading-factor", 7, "The spreading factor the modem starts scanning at (7-12)")
	startCmd.PersistentFlags().Bool("hop", false, "Scan all configured channels instead of staying on the first one")
	startCmd.PersistentFlags().Bool("cad", true, "Use channel activity detection to cover all spreading factors")
	startCmd.PersistentFlags().String("channels-url", "", "URL of a JSON channel plan overriding the built-in EU868 list")
	startCmd.PersistentFlags().Int("power", 14, "The TX output power in dBm")
	startCmd.PersistentFlags().Float64("ref-latitude", 0, "The latitude sent in gateway status messages")
	startCmd.PersistentFlags().Float64("ref-longitude", 0, "The longitude sent in gateway status messages")
	startCmd.PersistentFlags().Int("ref-altitude", 0, "The altitude, in meters, sent in gateway status messages")
	startCmd.PersistentFlags().Int64("downlink-send-margin", getDefaultDownlinkSendMargin(), "The margin, in milliseconds, between a downlink is handed to the modem and it is being sent over the air")
	startCmd.PersistentFlags().Int64("status-interval", 30, "The interval, in seconds, between two gateway status messages")
	startCmd.PersistentFlags().String("run-trace", "", "File to which write the runtime trace of the packet forwarder. Can later be read with `go tool trace <trace_file>`.")
	startCmd.PersistentFlags().BoolP("verbose", "v", false, "Show debug logs")

	viper.BindPFlags(startCmd.PersistentFlags())

	RootCmd.AddCommand(startCmd)
}
