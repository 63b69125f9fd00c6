// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package pktfwd

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/TheThingsNetwork/go-utils/queue"
	"github.com/pkg/errors"
	"github.com/things4u/singlechan-forwarder/radio"
	"github.com/things4u/singlechan-forwarder/util"
)

// BootTimeSetter is implemented by every type that needs the modem boot time,
// mostly to translate the microsecond concentrator timestamps of downlinks
// into wall-clock scheduling times.
type BootTimeSetter interface {
	SetBootTime(t time.Time)
}

type multipleBootTimeSetter struct {
	list []BootTimeSetter
	t    *time.Time
}

func NewMultipleBootTimeSetter() multipleBootTimeSetter {
	return multipleBootTimeSetter{
		list: make([]BootTimeSetter, 0),
	}
}

func (b *multipleBootTimeSetter) SetBootTime(t time.Time) {
	for _, receiver := range b.list {
		receiver.SetBootTime(t)
	}
	b.t = &t
}

func (b *multipleBootTimeSetter) Add(t BootTimeSetter) {
	if b.t != nil {
		t.SetBootTime(*b.t)
	}
	b.list = append(b.list, t)
}

// DownlinkManager schedules every downlink that is given to it and hands it
// to the radio routine just ahead of its transmission time.
type DownlinkManager interface {
	BootTimeSetter
	ScheduleDownlink(txpk *Txpk)
	// Staged is the channel the radio routine drains between ticks.
	Staged() <-chan radio.DownlinkPacket
}

type downlinkManager struct {
	queue              queue.JIT
	ctx                log.Interface
	conf               util.Config
	bgCtx              context.Context
	statusMgr          StatusManager
	staged             chan radio.DownlinkPacket
	startupTime        time.Time
	downlinkSendMargin time.Duration
}

// NewDownlinkManager returns a downlink manager that runs as long as the
// context doesn't close.
func NewDownlinkManager(bgCtx context.Context, ctx log.Interface, conf util.Config, statusMgr StatusManager, sendingTimeMargin time.Duration) DownlinkManager {
	downlinkMgr := &downlinkManager{
		queue:              queue.NewJIT(),
		ctx:                ctx,
		conf:               conf,
		bgCtx:              bgCtx,
		statusMgr:          statusMgr,
		staged:             make(chan radio.DownlinkPacket, 1),
		downlinkSendMargin: sendingTimeMargin,
	}
	ctx.WithField("SendingTimeMargin", sendingTimeMargin).Debug("Configured margin between downlink staging and air time")
	go downlinkMgr.handleDownlinks()
	return downlinkMgr
}

func (d *downlinkManager) SetBootTime(t time.Time) {
	d.startupTime = t
}

func (d *downlinkManager) Staged() <-chan radio.DownlinkPacket {
	return d.staged
}

func (d *downlinkManager) handleDownlinks() {
	for {
		item := d.queue.Next()
		if item == nil {
			d.ctx.Warn("JIT queue closing, no more downlinks sent")
			return
		}
		select {
		case <-d.bgCtx.Done():
			return
		default:
		}

		txpk := item.(*Txpk)
		packet, err := txpkToDownlink(txpk, d.conf.Power)
		if err != nil {
			d.ctx.WithError(err).Warn("Dropping unusable downlink")
			continue
		}

		d.ctx.WithField("ModemUptime", time.Now().Sub(d.startupTime)).Info("Received downlink from JIT queue, staging for transmission")
		select {
		case d.staged <- packet:
			d.statusMgr.SentTX()
		default:
			d.ctx.Warn("Radio routine didn't pick up the previous downlink, dropping")
		}
	}
}

func (d *downlinkManager) ScheduleDownlink(txpk *Txpk) {
	if txpk.Modu != "LORA" {
		d.ctx.WithField("Modulation", txpk.Modu).Warn("Received non-LoRa downlink, ignoring")
		return
	}
	d.statusMgr.ReceivedTX()

	if txpk.Immediate {
		d.queue.Schedule(txpk, time.Now())
		return
	}

	schedulingTimestamp := util.TXTimestamp(txpk.Timestamp)
	scheduleAt := d.startupTime.Add(-d.downlinkSendMargin).Add(schedulingTimestamp.GetAsDuration())
	d.ctx.WithFields(log.Fields{
		"ExpectedSendingTimestamp": schedulingTimestamp.GetAsDuration(),
		"ModemBootTime":            d.startupTime,
		"SchedulingTimestamp":      scheduleAt,
	}).Info("Scheduled downlink")
	d.queue.Schedule(txpk, scheduleAt)
}

// txpkToDownlink converts the JSON downlink record into the packet the modem
// consumes. The datarate string has the SF<n>BW<k> shape of the protocol; a
// missing powe field falls back to the configured TX power.
func txpkToDownlink(txpk *Txpk, defaultPower uint8) (radio.DownlinkPacket, error) {
	var packet radio.DownlinkPacket

	var sf, bw uint32
	nb, err := fmt.Sscanf(txpk.Datr, "SF%dBW%d", &sf, &bw)
	if err != nil || nb != 2 {
		return packet, errors.Errorf("couldn't parse LoRa datarate %q", txpk.Datr)
	}
	spreadFactor := radio.SpreadingFactor(sf)
	if !spreadFactor.Valid() {
		return packet, errors.Errorf("downlink with unsupported spreading factor SF%d", sf)
	}
	if bw != 125 {
		return packet, errors.Errorf("downlink with unsupported bandwidth BW%d", bw)
	}

	payload, err := base64.StdEncoding.DecodeString(txpk.Data)
	if err != nil {
		return packet, errors.Wrap(err, "couldn't decode the downlink payload")
	}
	if len(payload) > radio.MaxPayloadLength {
		return packet, errors.Errorf("payload of %d bytes too big to transmit", len(payload))
	}

	power := uint8(txpk.Power)
	if power == 0 {
		power = defaultPower
	}

	packet = radio.DownlinkPacket{
		Payload:      payload,
		Timestamp:    txpk.Timestamp,
		Immediate:    txpk.Immediate,
		SpreadFactor: spreadFactor,
		Power:        power,
		Freq:         uint32(txpk.Freq*1000000 + 0.5),
		DisableCRC:   txpk.NoCRC,
		InvertIQ:     txpk.InvPolar,
	}
	return packet, nil
}
