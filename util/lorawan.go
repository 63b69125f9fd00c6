// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package util

import (
	"github.com/brocaar/lorawan"
	"github.com/pkg/errors"
)

// GetDevAddr extracts the device address from a raw uplink payload, for the
// per-message statistics the gateway keeps.
func GetDevAddr(payload []byte) (lorawan.DevAddr, error) {
	var devAddr lorawan.DevAddr
	if len(payload) == 0 {
		return devAddr, errors.New("Invalid uplink")
	}

	var phyPayload lorawan.PHYPayload
	err := phyPayload.UnmarshalBinary(payload)
	if err != nil {
		return devAddr, err
	}

	macPayload, ok := phyPayload.MACPayload.(*lorawan.MACPayload)
	if !ok {
		return devAddr, errors.New("The uplink doesn't contain a MAC payload")
	}

	devAddr = macPayload.FHDR.DevAddr
	return devAddr, nil
}
