// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package pktfwd

import (
	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/pkg/errors"
	"github.com/things4u/singlechan-forwarder/util"
)

// Run initiates the configuration, the network connection, and handles the manager
func Run(ctx log.Interface, conf util.Config, runConfig RunConfig) error {
	networkCli, err := CreateNetworkClient(ctx, runConfig.Server, runConfig.GatewayEUI)
	if err != nil {
		return errors.Wrap(err, "Network configuration failure")
	}

	// applying configuration to the board
	modem, device, err := configureBoard(ctx, conf)
	if err != nil {
		networkCli.Stop()
		return errors.Wrap(err, "Board configuration failure")
	}
	defer device.Close()

	// Creating manager
	var mgr = NewManager(ctx, conf, modem, networkCli, runConfig)
	return mgr.run()
}
