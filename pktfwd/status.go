// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package pktfwd

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
	"github.com/things4u/singlechan-forwarder/radio"
	"github.com/things4u/singlechan-forwarder/util"
)

// statTimeFormat is the timestamp format of the Semtech status record.
const statTimeFormat = "2006-01-02 15:04:05 MST"

type StatusManager interface {
	BootTimeSetter
	CountUplink(sf radio.SpreadingFactor, forwarded bool)
	ReceivedTX()
	SentTX()
	GenerateStat(ackRatio float64) Stat
}

func NewStatusManager(ctx log.Interface, conf util.Config, description string) StatusManager {
	return &statusManager{
		ctx:         ctx,
		conf:        conf,
		description: description,
	}
}

type statusManager struct {
	ctx         log.Interface
	conf        util.Config
	description string
	rxIn        uint32
	rxFw        uint32
	perSF       [6]uint32
	txIn        uint32
	txOk        uint32
	bootTime    *time.Time
}

func (s *statusManager) SetBootTime(t time.Time) {
	s.bootTime = &t
}

func (s *statusManager) ReceivedTX() {
	atomic.AddUint32(&s.txIn, 1)
}

func (s *statusManager) SentTX() {
	atomic.AddUint32(&s.txOk, 1)
}

func (s *statusManager) CountUplink(sf radio.SpreadingFactor, forwarded bool) {
	atomic.AddUint32(&s.rxIn, 1)
	if forwarded {
		atomic.AddUint32(&s.rxFw, 1)
	}
	if sf.Valid() {
		atomic.AddUint32(&s.perSF[sf-radio.SF7], 1)
	}
}

// logOSMetrics reports host load next to the status message. Temperature is
// left out: there is no portable way of reading it across the boards this
// runs on.
func (s *statusManager) logOSMetrics() {
	fields := log.Fields{}

	stats, err := cpu.Times(false)
	if err == nil && len(stats) > 0 {
		cpuStat := stats[0]
		cpuUsageTime := cpuStat.Total() - cpuStat.Idle
		fields["CpuPercentage"] = float32(cpuUsageTime / cpuStat.Total() * 100)
	} // CPU stats not available on every platform

	loadInfo, err := load.Avg()
	if err == nil {
		fields["Load1"] = float32(loadInfo.Load1)
		fields["Load5"] = float32(loadInfo.Load5)
		fields["Load15"] = float32(loadInfo.Load15)
	}

	virtualMemory, err := mem.VirtualMemory()
	if err == nil {
		fields["MemoryPercentage"] = float32(virtualMemory.UsedPercent)
	}

	s.ctx.WithFields(fields).Debug("Host metrics")
}

func (s *statusManager) GenerateStat(ackRatio float64) Stat {
	var uptime time.Duration
	if s.bootTime != nil {
		uptime = time.Now().Sub(*s.bootTime)
	}
	s.logOSMetrics()

	rxIn := atomic.LoadUint32(&s.rxIn)
	stat := Stat{
		Time:      time.Now().UTC().Format(statTimeFormat),
		Latitude:  s.conf.RefLatitude,
		Longitude: s.conf.RefLongitude,
		Altitude:  s.conf.RefAltitude,
		RxNb:      rxIn,
		RxOK:      rxIn, // the modem only surfaces CRC-valid packets
		RxFw:      atomic.LoadUint32(&s.rxFw),
		AckRatio:  ackRatio,
		DwNb:      atomic.LoadUint32(&s.txIn),
		TxNb:      atomic.LoadUint32(&s.txOk),
		Platform:  runtime.GOOS,
		Desc:      s.description,
	}

	s.ctx.WithFields(log.Fields{
		"Uptime": uptime,
		"RxNb":   stat.RxNb,
		"RxFw":   stat.RxFw,
		"TxNb":   stat.TxNb,
		"SF7":    atomic.LoadUint32(&s.perSF[0]),
		"SF8":    atomic.LoadUint32(&s.perSF[1]),
		"SF9":    atomic.LoadUint32(&s.perSF[2]),
		"SF10":   atomic.LoadUint32(&s.perSF[3]),
		"SF11":   atomic.LoadUint32(&s.perSF[4]),
		"SF12":   atomic.LoadUint32(&s.perSF[5]),
	}).Info("Gateway status")

	return stat
}
