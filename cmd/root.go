// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var RootCmd = &cobra.Command{
	Use:   "singlechan-forwarder",
	Short: "Single-channel LoRa Packet Forwarder",
	Long: `Single-channel LoRa Packet Forwarder

Drives one SX1272/SX1276 transceiver as a scanning
concentrator and relays the traffic to a network server.`,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default \"$HOME/.scpktfwd.yml\")")
}

func initConfig() {
	viper.SetConfigType("yaml")
	viper.SetConfigName(".scpktfwd")
	viper.AddConfigPath("$HOME")
	viper.SetEnvPrefix("scpktfwd")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	err := viper.ReadInConfig()
	if err != nil {
		fmt.Println("Error when reading config file:", err)
		os.Exit(1)
	}
}
