// Package aes67 ties PTP, RTP, the jitter buffer, and SAP discovery together
// into the audio network backend the real-time engine reads from and writes
// to. Grounded on original_source/server/src/network_audio/backend.rs; the
// Rust trait becomes the Go Backend interface below.
package aes67

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/rtcp"

	"mixconsole/server/internal/jitter"
	"mixconsole/server/internal/ptp"
	"mixconsole/server/internal/rtp"
	"mixconsole/server/internal/sap"
)

// DeviceType mirrors the original's NetworkDeviceType.
type DeviceType int

const (
	DeviceTransmitter DeviceType = iota
	DeviceReceiver
	DeviceBoth
)

// Device describes one discoverable network audio endpoint.
type Device struct {
	ID             string
	Name           string
	Type           DeviceType
	Channels       uint32
	SampleRate     uint32
	IPAddress      string
	MulticastGroup string
}

// Backend is the contract the audio engine uses regardless of transport.
type Backend interface {
	Name() string
	Init() error
	Discover() ([]Device, error)
	Connect(device Device) error
	Disconnect() error
	ReadSamples(buf []float32, channels int) int
	WriteSamples(buf []float32, channels int) int
	Latency() int
	IsConnected() bool
}

// AES67Backend binds PTP timing, SAP discovery, and RTP transport into a
// single Backend implementation.
type AES67Backend struct {
	iface string

	clock     *ptp.Clock
	discovery *sap.Discovery

	// mu guards Connect/Disconnect (control-plane only, never taken from
	// the audio thread). The audio thread reaches sender/receiver state
	// exclusively through the atomic pointers below.
	mu       sync.Mutex
	receiver *rtp.Receiver

	sender   atomic.Pointer[rtp.Sender]
	rxBuffer atomic.Pointer[jitter.Buffer]

	connected atomic.Bool
	format    rtp.Format
}

// New returns a backend bound to the named network interface, with PTP and
// SAP services constructed but not yet started.
func New(iface string) *AES67Backend {
	return &AES67Backend{
		iface:     iface,
		clock:     ptp.New(iface),
		discovery: sap.New(),
		format:    rtp.DefaultFormat(),
	}
}

func (b *AES67Backend) Name() string { return "aes67" }

// Init starts the PTP clock and SAP discovery listener.
func (b *AES67Backend) Init() error {
	if err := b.clock.Start(); err != nil {
		return fmt.Errorf("start ptp clock: %w", err)
	}
	if err := b.discovery.Start(); err != nil {
		b.clock.Stop()
		return fmt.Errorf("start sap discovery: %w", err)
	}
	slog.Info("aes67 backend initialized", "interface", b.iface)
	return nil
}

// Discover lists streams currently known to SAP discovery.
func (b *AES67Backend) Discover() ([]Device, error) {
	streams := b.discovery.Streams()
	devices := make([]Device, 0, len(streams))
	for _, s := range streams {
		dt := DeviceReceiver
		switch s.Direction {
		case sap.DirectionSend:
			dt = DeviceTransmitter
		case sap.DirectionSendReceive:
			dt = DeviceBoth
		}
		devices = append(devices, Device{
			ID:             s.SessionID,
			Name:           s.Name,
			Type:           dt,
			Channels:       uint32(s.Channels),
			SampleRate:     s.SampleRate,
			IPAddress:      s.Origin,
			MulticastGroup: s.MulticastAddr,
		})
	}
	return devices, nil
}

// Connect opens a receiver for device's multicast group and a sender for
// the same group (AES67 streams are bidirectional at the transport level;
// routing decides direction at the mixer layer).
func (b *AES67Backend) Connect(device Device) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connected.Load() {
		return fmt.Errorf("aes67 backend already connected")
	}

	jb := jitter.New(int(b.format.SampleRate) / 10) // 4800 interleaved samples: 50ms of stereo headroom
	receiver, err := rtp.NewReceiver(device.MulticastGroup, 5004, jb, 0)
	if err != nil {
		return fmt.Errorf("connect receiver: %w", err)
	}

	sender, err := rtp.NewSender(device.MulticastGroup, 5004, b.format, b.clock.MediaTimestamp)
	if err != nil {
		receiver.Stop()
		return fmt.Errorf("connect sender: %w", err)
	}

	b.receiver = receiver
	b.rxBuffer.Store(jb)
	b.sender.Store(sender)
	b.connected.Store(true)

	go receiver.Run()
	slog.Info("aes67 backend connected", "device", device.Name, "group", device.MulticastGroup)
	return nil
}

// Disconnect tears down the active sender/receiver pair, if any.
func (b *AES67Backend) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected.CompareAndSwap(true, false) {
		return nil
	}
	if b.receiver != nil {
		b.receiver.Stop()
		b.receiver = nil
	}
	if sender := b.sender.Swap(nil); sender != nil {
		sender.Close()
	}
	b.rxBuffer.Store(nil)
	slog.Info("aes67 backend disconnected")
	return nil
}

// ReadSamples drains up to len(buf) interleaved samples from the jitter
// buffer, zero-filling any underrun; returns the real sample count. Safe to
// call from the real-time audio thread: no locks, atomic pointer load only.
func (b *AES67Backend) ReadSamples(buf []float32, channels int) int {
	jb := b.rxBuffer.Load()
	if jb == nil {
		for i := range buf {
			buf[i] = 0
		}
		return 0
	}
	return jb.PopSamples(buf)
}

// WriteSamples encodes buf and transmits it as one or more RTP packets of the
// configured packet size. Safe to
// call from the real-time audio thread: no locks, atomic pointer load only.
func (b *AES67Backend) WriteSamples(buf []float32, channels int) int {
	sender := b.sender.Load()
	if sender == nil {
		return 0
	}
	if err := sender.Send(buf); err != nil {
		slog.Warn("aes67 send error", "err", err)
		return 0
	}
	return len(buf)
}

// Latency reports the jitter buffer's current fill in samples.
func (b *AES67Backend) Latency() int {
	jb := b.rxBuffer.Load()
	if jb == nil {
		return 0
	}
	return jb.Available()
}

func (b *AES67Backend) IsConnected() bool { return b.connected.Load() }

// ReceptionReport summarizes RTP packet loss on the active receiver, or a
// zero-value report when nothing is connected.
func (b *AES67Backend) ReceptionReport() rtcp.ReceptionReport {
	b.mu.Lock()
	r := b.receiver
	b.mu.Unlock()
	if r == nil {
		return rtcp.ReceptionReport{}
	}
	return r.ReceptionReport()
}

// Clock exposes the PTP clock for status reporting.
func (b *AES67Backend) Clock() *ptp.Clock { return b.clock }

// Discovery exposes the SAP discovery service for status reporting and
// local stream announcement.
func (b *AES67Backend) Discovery() *sap.Discovery { return b.discovery }

// Shutdown disconnects any active stream, then stops PTP and SAP services.
func (b *AES67Backend) Shutdown() {
	_ = b.Disconnect()
	b.discovery.Stop()
	b.clock.Stop()
}
