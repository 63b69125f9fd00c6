// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package pktfwd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/pkg/errors"
	"github.com/things4u/singlechan-forwarder/radio"
	"github.com/things4u/singlechan-forwarder/util"
)

const (
	initUplinkPollingRate   = 100 * time.Microsecond
	stableUplinkPollingRate = 5 * time.Millisecond
	defaultStatusInterval   = 30 * time.Second
)

// RunConfig carries the network-side parameters of one forwarder run.
type RunConfig struct {
	Server              string
	GatewayEUI          string
	Description         string
	Version             string
	DownlinksSendMargin time.Duration
	StatusInterval      time.Duration
}

/* Manager struct manages the routines during runtime, once the transceiver and
network configuration have been set up. It starts the routines, that are only
stopped when the user wants to close the program or when an error occurs. */
type Manager struct {
	ctx               log.Interface
	conf              util.Config
	modem             *radio.Modem
	netClient         NetworkClient
	statusMgr         StatusManager
	uplinkPollingRate time.Duration
	// Modem boot time, the zero point of the microsecond timestamps
	bootTimeSetters     multipleBootTimeSetter
	downlinksSendMargin time.Duration
	statusInterval      time.Duration
}

func NewManager(ctx log.Interface, conf util.Config, modem *radio.Modem, netClient NetworkClient, runConfig RunConfig) Manager {
	statusMgr := NewStatusManager(ctx, conf, runConfig.Description)
	bootTimeSetters := NewMultipleBootTimeSetter()
	bootTimeSetters.Add(statusMgr)
	statusInterval := runConfig.StatusInterval
	if statusInterval <= 0 {
		statusInterval = defaultStatusInterval
	}
	return Manager{
		ctx:             ctx,
		conf:            conf,
		modem:           modem,
		netClient:       netClient,
		statusMgr:       statusMgr,
		bootTimeSetters: bootTimeSetters,
		// At the beginning, until we get our first uplinks, we keep a high polling rate on the modem
		uplinkPollingRate:   initUplinkPollingRate,
		downlinksSendMargin: runConfig.DownlinksSendMargin,
		statusInterval:      statusInterval,
	}
}

func (m *Manager) run() error {
	runStart := time.Now()
	m.ctx.WithField("DateTime", runStart).Info("Starting LoRa modem...")
	if err := m.modem.Start(); err != nil {
		return err
	}
	m.bootTimeSetters.SetBootTime(runStart)

	m.ctx.WithField("DateTime", time.Now()).Info("Modem started, packets can now be received and sent")
	err := m.handler()
	if shutdownErr := m.shutdown(); shutdownErr != nil {
		m.ctx.WithError(shutdownErr).Error("Couldn't stop modem gracefully")
	}
	return err
}

func (m *Manager) handler() (err error) {
	// First, we'll handle the case when the user wants to end the program
	c := make(chan os.Signal)
	signal.Notify(c, os.Interrupt, os.Kill, syscall.SIGABRT)

	// We'll start the routines, and attach them a context
	bgCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var routinesErr = make(chan error)
	go m.startRoutines(bgCtx, routinesErr)

	// Finally, we'll listen to the different issues
	select {
	case sig := <-c:
		m.ctx.WithField("Signal", sig.String()).Info("Stopping packet forwarder")
	case err = <-routinesErr:
		m.ctx.Error("Program ended after one of the network links failed")
	}

	return err
}

// radioRoutine is the scheduling tick driver of the modem: it runs the state
// machine, relays populated uplinks, and hands staged downlinks to the modem
// between ticks. It is the only goroutine touching the modem, which keeps the
// register traffic single-threaded.
func (m *Manager) radioRoutine(bgCtx context.Context, staged <-chan radio.DownlinkPacket) {
	m.ctx.Info("Waiting for uplink packets")
	for {
		select {
		case <-bgCtx.Done():
			return
		case packet := <-staged:
			m.ctx.Info("Handing staged downlink to the modem")
			m.modem.Send(packet)
		default:
		}

		m.modem.Tick()

		if up := m.modem.TakeUplink(); up != nil {
			logUplink(m.ctx, up)
			m.statusMgr.CountUplink(up.SpreadFactor, true)
			m.netClient.SendUplinks([]Rxpk{wrapUplink(up)})
			// First uplink seen: the channel configuration works, relax the
			// polling rate.
			m.uplinkPollingRate = stableUplinkPollingRate
		}

		if !m.modem.PendingEvent() {
			time.Sleep(m.uplinkPollingRate)
		}
	}
}

func (m *Manager) downlinkRoutine(bgCtx context.Context, dManager DownlinkManager) {
	m.ctx.Info("Waiting for downlink messages")
	downlinkQueue := m.netClient.Downlinks()
	for {
		select {
		case downlink := <-downlinkQueue:
			m.ctx.Info("Scheduling newly-received downlink packet")
			dManager.ScheduleDownlink(downlink)
		case <-bgCtx.Done():
			return
		}
	}
}

func (m *Manager) statusRoutine(bgCtx context.Context, errC chan error) {
	for {
		select {
		case <-time.After(m.statusInterval):
			rtt, err := m.netClient.Ping()
			if err != nil {
				m.ctx.WithError(err).Warn("Network server keepalive failed")
			} else {
				m.ctx.WithField("RTT", rtt).Debug("Network server keepalive acknowledged")
			}

			stat := m.statusMgr.GenerateStat(m.netClient.AckRatio())
			if err := m.netClient.SendStat(stat); err != nil {
				errC <- errors.Wrap(err, "Gateway status transmission error")
				return
			}
		case <-bgCtx.Done():
			return
		}
	}
}

func (m *Manager) startRoutines(bgCtx context.Context, err chan error) {
	var errC = make(chan error)
	radioCtx, radioCancel := context.WithCancel(bgCtx)
	downCtx, downCancel := context.WithCancel(bgCtx)
	statsCtx, statsCancel := context.WithCancel(bgCtx)

	dManager := NewDownlinkManager(downCtx, m.ctx, m.conf, m.statusMgr, m.downlinksSendMargin)
	m.bootTimeSetters.Add(dManager)

	go m.radioRoutine(radioCtx, dManager.Staged())
	go m.downlinkRoutine(downCtx, dManager)
	go m.statusRoutine(statsCtx, errC)

	select {
	case routineErr := <-errC:
		err <- routineErr
		close(errC)
	case <-bgCtx.Done():
		err <- nil
	}
	radioCancel()
	downCancel()
	statsCancel()
}

func (m *Manager) shutdown() error {
	m.netClient.Stop()
	return stopModem(m.ctx, m.modem)
}

func stopModem(ctx log.Interface, modem *radio.Modem) error {
	err := modem.Stop()
	if err != nil {
		return err
	}

	ctx.Info("Modem stopped gracefully")
	return nil
}
