// Copyright © 2017 The Things Network. Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package pktfwd

import (
	"encoding/json"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/pkg/errors"
)

const (
	downlinksBufferSize = 8
	ackTimeout          = 5 * time.Second
	readBufferSize      = 2048
	readRetryBackoff    = time.Second
)

// NetworkClient is the link between the gateway and a network server.
type NetworkClient interface {
	GatewayEUI() [8]byte
	SendUplinks(rxpks []Rxpk)
	SendStat(stat Stat) error
	Downlinks() <-chan *Txpk
	// Ping sends a PULL_DATA keepalive and reports the round-trip time to
	// the matching PULL_ACK.
	Ping() (time.Duration, error)
	AckRatio() float64
	Stop()
}

// semtechClient forwards traffic to a network server over the Semtech UDP
// protocol. PUSH_DATA carries uplinks and status, PULL_DATA keeps the
// downlink path open through NAT, PULL_RESP delivers downlinks.
type semtechClient struct {
	ctx       log.Interface
	conn      *net.UDPConn
	eui       [8]byte
	downlinks chan *Txpk

	// acked counters feed the ackr field of status messages
	pushSent  uint32
	pushAcked uint32

	pullMutex sync.Mutex
	pullToken uint16
	pullAcked chan uint16

	stopped chan struct{}
}

// CreateNetworkClient resolves the network server address and starts the
// datagram read loop.
func CreateNetworkClient(ctx log.Interface, server, gatewayEUI string) (NetworkClient, error) {
	eui, err := ParseGatewayEUI(gatewayEUI)
	if err != nil {
		return nil, err
	}

	addr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't resolve network server %s", server)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't open the uplink socket")
	}

	c := &semtechClient{
		ctx:       ctx.WithField("Server", server),
		conn:      conn,
		eui:       eui,
		downlinks: make(chan *Txpk, downlinksBufferSize),
		pullAcked: make(chan uint16, 1),
		stopped:   make(chan struct{}),
	}
	go c.readLoop()

	c.ctx.WithField("GatewayEUI", gatewayEUI).Info("Connected to the network server")
	return c, nil
}

func (c *semtechClient) GatewayEUI() [8]byte {
	return c.eui
}

func (c *semtechClient) SendUplinks(rxpks []Rxpk) {
	if len(rxpks) == 0 {
		return
	}
	if err := c.push(rxData{Rxpk: rxpks}); err != nil {
		c.ctx.WithError(err).Warn("Uplink transmission to the network server failed")
		return
	}
	c.ctx.WithField("NbPackets", len(rxpks)).Debug("Uplinks sent to the network server")
}

func (c *semtechClient) SendStat(stat Stat) error {
	return c.push(rxData{Rxpk: []Rxpk{}, Stat: &stat})
}

func (c *semtechClient) Downlinks() <-chan *Txpk {
	return c.downlinks
}

func (c *semtechClient) Ping() (time.Duration, error) {
	token := uint16(rand.Uint32())
	c.pullMutex.Lock()
	c.pullToken = token
	c.pullMutex.Unlock()

	start := time.Now()
	if _, err := c.conn.Write(encodeHeader(token, pktPullData, c.eui)); err != nil {
		return 0, errors.Wrap(err, "PULL_DATA transmission failed")
	}

	select {
	case <-c.pullAcked:
		return time.Since(start), nil
	case <-time.After(ackTimeout):
		return 0, errors.New("no PULL_ACK from the network server")
	case <-c.stopped:
		return 0, errors.New("network client stopped")
	}
}

// AckRatio returns the fraction of PUSH_DATA datagrams the server
// acknowledged since startup.
func (c *semtechClient) AckRatio() float64 {
	sent := atomic.LoadUint32(&c.pushSent)
	if sent == 0 {
		return 0
	}
	return float64(atomic.LoadUint32(&c.pushAcked)) / float64(sent) * 100
}

func (c *semtechClient) Stop() {
	close(c.stopped)
	c.conn.Close()
}

func (c *semtechClient) push(data rxData) error {
	body, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "couldn't marshal the upstream JSON")
	}

	token := uint16(rand.Uint32())
	datagram := append(encodeHeader(token, pktPushData, c.eui), body...)
	if _, err := c.conn.Write(datagram); err != nil {
		return errors.Wrap(err, "PUSH_DATA transmission failed")
	}
	atomic.AddUint32(&c.pushSent, 1)
	return nil
}

func (c *semtechClient) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			select {
			case <-c.stopped:
				return
			default:
			}
			// Transient on a connected UDP socket: an ICMP unreachable while
			// the server restarts surfaces here as ECONNREFUSED. Keep the
			// loop alive, downlinks resume once the server is back.
			c.ctx.WithError(err).Warn("Network read error, retrying")
			time.Sleep(readRetryBackoff)
			continue
		}

		f, err := decodeFrame(buf[:n])
		if err != nil {
			c.ctx.WithError(err).Debug("Dropping malformed datagram")
			continue
		}

		switch f.opcode {
		case pktPushACK:
			atomic.AddUint32(&c.pushAcked, 1)

		case pktPullACK:
			c.pullMutex.Lock()
			match := f.token == c.pullToken
			c.pullMutex.Unlock()
			if match {
				select {
				case c.pullAcked <- f.token:
				default:
				}
			}

		case pktPullResp:
			c.handlePullResp(f)

		case mgtReset, mgtSetSF, mgtSetFreq:
			// Management extensions of some servers; reconfiguration happens
			// through the local config file instead.
			c.ctx.WithField("Opcode", f.opcode).Warn("Management downlink not supported, ignoring")

		default:
			c.ctx.WithField("Opcode", f.opcode).Debug("Unknown opcode from the network server")
		}
	}
}

func (c *semtechClient) handlePullResp(f frame) {
	var data txData
	if err := json.Unmarshal(f.body, &data); err != nil {
		c.ctx.WithError(err).Warn("Couldn't parse PULL_RESP downlink")
		return
	}

	select {
	case c.downlinks <- &data.Txpk:
	default:
		c.ctx.Warn("Downlink queue full, dropping PULL_RESP")
	}

	// TX_ACK echoes the PULL_RESP token so the server knows the downlink
	// reached the gateway.
	if _, err := c.conn.Write(encodeHeader(f.token, pktTxACK, c.eui)); err != nil {
		c.ctx.WithError(err).Warn("TX_ACK transmission failed")
	}
}
