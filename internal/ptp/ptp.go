// Package ptp implements a minimal IEEE 1588 PTP slave clock sufficient for
// AES67 media-clock synchronization: it listens for Sync/Follow_Up messages
// on the standard multicast groups, filters an offset-from-master estimate,
// and exposes a 48 kHz media timestamp for RTP. Grounded on
// original_source/server/src/network_audio/ptp.rs; the low-pass filter,
// holdover timeout, and wire layout are carried over unchanged.
package ptp

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"
)

// State mirrors the original's PtpState enum.
type State int

const (
	Initializing State = iota
	Listening
	Slave
	Master
	Holdover
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Listening:
		return "listening"
	case Slave:
		return "slave"
	case Master:
		return "master"
	case Holdover:
		return "holdover"
	default:
		return "unknown"
	}
}

const (
	eventPort   = 319
	generalPort = 320

	primaryMulticast = "224.0.1.129"
	pdelayMulticast  = "224.0.0.107" // not joined; Pdelay is not processed

	holdoverTimeout = 3 * time.Second
	readTimeout     = 100 * time.Millisecond

	msgTypeSync     = 0x0
	msgTypeDelayReq = 0x1
	msgTypeFollowUp = 0x8
	msgTypeDelayResp = 0x9
	msgTypeAnnounce = 0xB

	twoStepFlag = 0x02
)

// Stats is a snapshot of synchronization quality.
type Stats struct {
	OffsetNS       int64
	PathDelayNS    int64
	SyncCount      uint64
	ClockAccuracyNS uint64
	StepsRemoved   uint16
}

// Clock is a PTP slave clock running its receive loop on its own goroutine.
type Clock struct {
	iface  string
	domain uint8

	running atomic.Bool
	state   atomic.Int32
	offset  atomic.Int64

	syncCount   atomic.Uint64
	accuracyNS  atomic.Uint64
	lastSyncUnixNano atomic.Int64 // 0 = never synced

	stop chan struct{}
	done chan struct{}
}

// New returns a clock bound to iface with AES67's default domain 0.
func New(iface string) *Clock {
	c := &Clock{iface: iface, domain: 0}
	c.state.Store(int32(Initializing))
	return c
}

// SetDomain clamps domain to the legal PTP range [0,127].
func (c *Clock) SetDomain(domain uint8) {
	if domain > 127 {
		domain = 127
	}
	c.domain = domain
}

func (c *Clock) State() State       { return State(c.state.Load()) }
func (c *Clock) OffsetNS() int64    { return c.offset.Load() }
func (c *Clock) IsSynchronized() bool {
	s := c.State()
	return s == Slave || s == Master
}

func (c *Clock) Stats() Stats {
	return Stats{
		OffsetNS:        c.offset.Load(),
		SyncCount:       c.syncCount.Load(),
		ClockAccuracyNS: c.accuracyNS.Load(),
	}
}

// Start is idempotent: calling it while already running is a no-op.
func (c *Clock) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return nil
	}
	c.state.Store(int32(Listening))
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	event, err := joinMulticastSocket(eventPort, primaryMulticast)
	if err != nil {
		c.running.Store(false)
		return fmt.Errorf("bind ptp event socket: %w", err)
	}
	general, err := joinMulticastSocket(generalPort, primaryMulticast)
	if err != nil {
		event.Close()
		c.running.Store(false)
		return fmt.Errorf("bind ptp general socket: %w", err)
	}

	slog.Info("ptp clock starting", "interface", c.iface, "domain", c.domain)
	go c.run(event, general)
	return nil
}

// Stop is idempotent and blocks until the receive loop has exited.
func (c *Clock) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	close(c.stop)
	<-c.done
	c.state.Store(int32(Initializing))
	slog.Info("ptp clock stopped")
}

func joinMulticastSocket(port int, group string) (*net.UDPConn, error) {
	conn, err := net.ListenMulticastUDP("udp4", nil, &net.UDPAddr{IP: net.ParseIP(group), Port: port})
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadBuffer(1 << 20)
	return conn, nil
}

func (c *Clock) run(event, general *net.UDPConn) {
	defer close(c.done)
	defer event.Close()
	defer general.Close()

	buf := make([]byte, 1024)
	var syncSequence uint16
	var t1 int64
	var haveT1 bool
	var t2 int64

	for {
		select {
		case <-c.stop:
			return
		default:
		}

		_ = event.SetReadDeadline(time.Now().Add(readTimeout))
		if n, _, err := event.ReadFromUDP(buf); err == nil && n >= 34 {
			if buf[4] == c.domain {
				switch buf[0] & 0x0F {
				case msgTypeSync:
					t2 = time.Now().UnixNano()
					syncSequence = binary.BigEndian.Uint16(buf[30:32])
					twoStep := buf[0]&twoStepFlag != 0
					if !twoStep {
						t1 = extractTimestamp(buf[34:44])
						haveT1 = true
						c.processSync(t1, t2)
					}
				case msgTypeDelayReq:
					slog.Debug("ptp delay_req received")
				}
			}
		}

		_ = general.SetReadDeadline(time.Now().Add(readTimeout))
		if n, _, err := general.ReadFromUDP(buf); err == nil && n >= 34 {
			if buf[4] == c.domain {
				switch buf[0] & 0x0F {
				case msgTypeFollowUp:
					seq := binary.BigEndian.Uint16(buf[30:32])
					if seq == syncSequence {
						t1 = extractTimestamp(buf[34:44])
						haveT1 = true
						c.processSync(t1, t2)
					}
				case msgTypeAnnounce:
					slog.Debug("ptp announce received")
				}
			}
		}
		_ = haveT1

		last := c.lastSyncUnixNano.Load()
		if last != 0 && c.State() == Slave {
			if time.Since(time.Unix(0, last)) > holdoverTimeout {
				slog.Warn("ptp sync lost, entering holdover")
				c.state.Store(int32(Holdover))
			}
		}
	}
}

// extractTimestamp decodes a PTP 48-bit-seconds + 32-bit-nanoseconds
// timestamp field (10 bytes) into nanoseconds since the PTP epoch.
func extractTimestamp(data []byte) int64 {
	if len(data) < 10 {
		return 0
	}
	seconds := uint64(data[0])<<40 | uint64(data[1])<<32 | uint64(data[2])<<24 |
		uint64(data[3])<<16 | uint64(data[4])<<8 | uint64(data[5])
	nanos := binary.BigEndian.Uint32(data[6:10])
	return int64(seconds)*1_000_000_000 + int64(nanos)
}

func (c *Clock) processSync(t1, t2 int64) {
	offset := t1 - t2
	current := c.offset.Load()
	var filtered int64
	if current == 0 {
		filtered = offset
	} else {
		filtered = (current*7 + offset) / 8
	}
	c.offset.Store(filtered)

	diff := offset - current
	if diff < 0 {
		diff = -diff
	}
	c.accuracyNS.Store(uint64(diff))
	c.syncCount.Add(1)
	c.lastSyncUnixNano.Store(time.Now().UnixNano())

	if c.State() != Slave {
		slog.Info("ptp synchronized to master", "offset_ns", filtered)
		c.state.Store(int32(Slave))
	}
}

// MediaTimestamp returns the current 48 kHz media clock, wrapped to 32 bits,
// for use as an RTP timestamp.
func (c *Clock) MediaTimestamp() uint32 {
	now := time.Now().UnixNano()
	corrected := now + c.offset.Load()
	samples := corrected/1_000_000_000*48000 + corrected%1_000_000_000*48000/1_000_000_000
	return uint32(samples & 0xFFFFFFFF)
}
