// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/segmentio/go-prompt"
	"github.com/spf13/cobra"
	"github.com/things4u/singlechan-forwarder/util"
	"gopkg.in/yaml.v2"
)

var configureCmd = &cobra.Command{
	Use:   "configure [config-path]",
	Short: "Configure Packet Forwarder",
	Long: `singlechan-forwarder configure creates a YAML configuration file for the packet forwarder.

The first argument is used as the storage location to the configuration file. If nothing is specified, the default configuration file path ($HOME/.scpktfwd.yml) is used.`,

	Run: func(cmd *cobra.Command, args []string) {
		ctx := util.GetLogger()
		filePath := fmt.Sprintf("%s/.scpktfwd.yml", os.Getenv("HOME"))
		if len(args) > 0 {
			filePath = args[0]
		}

		ctx.Info("The gateway EUI identifies this gateway with the network server. Derive it from the board MAC address, or make one up.")

		gatewayEUI := prompt.StringRequired("Enter the 8-byte gateway EUI, hex-encoded")
		server := prompt.StringRequired("Enter the network server address, in a <host:port> format")
		spiDevice := prompt.String("Enter the SPI device of the transceiver (default /dev/spidev0.0)")

		var resetPin int
		if prompt.Confirm("Is the transceiver reset line wired to a GPIO pin?") {
			pin, err := strconv.Atoi(prompt.StringRequired("Enter the GPIO pin number of the reset line"))
			if err != nil {
				ctx.WithError(err).Fatal("The reset pin must be a number")
			}
			resetPin = pin
		}

		hop := prompt.Confirm("Should the gateway hop over all configured channels (requires DIO1/DIO2 wiring)?")

		type yamlConfig struct {
			GatewayEUI string `yaml:"gateway-eui"`
			Server     string `yaml:"server"`
			SPIDevice  string `yaml:"spi-device,omitempty"`
			ResetPin   int    `yaml:"reset-pin,omitempty"`
			Hop        bool   `yaml:"hop"`
		}

		newConfig := &yamlConfig{
			GatewayEUI: gatewayEUI,
			Server:     server,
			SPIDevice:  spiDevice,
			ResetPin:   resetPin,
			Hop:        hop,
		}

		output, err := yaml.Marshal(newConfig)
		if err != nil {
			util.GetLogger().WithError(err).Fatal("Failed to generate YAML")
		}

		f, err := os.Create(filePath)
		if err != nil {
			util.GetLogger().WithError(err).Fatal("Failed to create file")
		}
		defer f.Close()

		f.Write(output)
		ctx.WithField("ConfigFilePath", filePath).Info("New configuration file saved")
	},
}

func init() {
	RootCmd.AddCommand(configureCmd)
}
