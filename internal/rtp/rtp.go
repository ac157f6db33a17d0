// Package rtp implements the AES67 RTP L24 audio transport: packet framing
// via pion/rtp, the L24 codec, and a sender/receiver pair that feeds a
// jitter buffer. Grounded on
// original_source/server/src/network_audio/rtp.rs; the hand-rolled header
// struct there becomes pion/rtp's Header/Packet (see DESIGN.md), while the
// L24 codec and sender/receiver loops are ported line-for-line in
// semantics.
package rtp

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	pionrtp "github.com/pion/rtp"
	"golang.org/x/net/ipv4"

	"mixconsole/server/internal/jitter"
)

// PayloadTypeL24 is the dynamic RTP payload type AES67 uses for L24 audio.
const PayloadTypeL24 = 97

const (
	DefaultSampleRate       = 48000
	DefaultChannels         = 2
	DefaultBitsPerSample    = 24
	DefaultSamplesPerPacket = 48 // 1ms at 48kHz

	readTimeout = 10 * time.Millisecond
)

// Format describes the immutable session parameters of an AES67 stream.
type Format struct {
	SampleRate       uint32
	Channels         uint8
	BitsPerSample    uint8
	SamplesPerPacket uint16
}

// DefaultFormat returns AES67's standard 48kHz/stereo/L24/1ms format.
func DefaultFormat() Format {
	return Format{
		SampleRate:       DefaultSampleRate,
		Channels:         DefaultChannels,
		BitsPerSample:    DefaultBitsPerSample,
		SamplesPerPacket: DefaultSamplesPerPacket,
	}
}

// BytesPerPacket is the audio payload size for one packet at this format.
func (f Format) BytesPerPacket() int {
	return int(f.SamplesPerPacket) * int(f.Channels) * 3
}

// EncodeL24 converts interleaved f32 samples in [-1,1] into 24-bit
// big-endian signed PCM, clamping out-of-range inputs.
func EncodeL24(samples []float32) []byte {
	out := make([]byte, len(samples)*3)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		scaled := int32(s * 8388607.0) // 2^23 - 1
		out[i*3] = byte(scaled >> 16)
		out[i*3+1] = byte(scaled >> 8)
		out[i*3+2] = byte(scaled)
	}
	return out
}

// DecodeL24 converts 24-bit big-endian signed PCM back to f32 in [-1,1],
// sign-extending from bit 23.
func DecodeL24(data []byte) []float32 {
	n := len(data) / 3
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		off := i * 3
		raw := int32(data[off])<<16 | int32(data[off+1])<<8 | int32(data[off+2])
		if raw&0x800000 != 0 {
			raw |= ^int32(0xFFFFFF)
		}
		out[i] = float32(raw) / 8388607.0
	}
	return out
}

// Sender transmits L24-encoded audio over RTP to a multicast group.
type Sender struct {
	conn    *net.UDPConn
	pconn   *ipv4.PacketConn
	dest    *net.UDPAddr
	ssrc    uint32
	seq     atomic.Uint32
	format  Format
	mediaTS func() uint32
}

// NewSender opens a UDP socket on an ephemeral local port with multicast TTL
// 64, ready to send RTP packets to the multicast group/port, timestamped by
// mediaTS (typically ptp.Clock.MediaTimestamp).
func NewSender(group string, port int, format Format, mediaTS func() uint32) (*Sender, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("open rtp send socket: %w", err)
	}
	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.SetMulticastTTL(64); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set rtp multicast ttl: %w", err)
	}

	s := &Sender{
		conn:    conn,
		pconn:   pconn,
		dest:    &net.UDPAddr{IP: net.ParseIP(group), Port: port},
		ssrc:    rand.Uint32(),
		format:  format,
		mediaTS: mediaTS,
	}
	s.seq.Store(uint32(uint16(rand.Uint32())))
	return s, nil
}

// SSRC returns this sender's synchronization source identifier.
func (s *Sender) SSRC() uint32 { return s.ssrc }

// Send splits samples into samples-per-packet chunks and transmits each as
// one RTP packet, incrementing the sequence number once per packet.
func (s *Sender) Send(samples []float32) error {
	perPacket := int(s.format.SamplesPerPacket) * int(s.format.Channels)
	if perPacket <= 0 {
		return fmt.Errorf("invalid rtp format: samples per packet is zero")
	}
	for offset := 0; offset < len(samples); offset += perPacket {
		end := offset + perPacket
		if end > len(samples) {
			end = len(samples)
		}
		if err := s.sendPacket(samples[offset:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) sendPacket(samples []float32) error {
	seq := uint16(s.seq.Add(1))
	var ts uint32
	if s.mediaTS != nil {
		ts = s.mediaTS()
	}
	pkt := pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			PayloadType:    PayloadTypeL24,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           s.ssrc,
		},
		Payload: EncodeL24(samples),
	}
	raw, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("marshal rtp packet: %w", err)
	}
	if _, err := s.conn.WriteToUDP(raw, s.dest); err != nil {
		return fmt.Errorf("send rtp packet: %w", err)
	}
	return nil
}

// Close releases the sender's socket.
func (s *Sender) Close() error { return s.conn.Close() }

// Receiver joins a multicast group, decodes incoming L24 RTP packets, and
// pushes the decoded samples into a jitter buffer. A gap of
// 1-99 missing sequence numbers is logged as packet loss; anything larger
// is treated as an SSRC change or sequence wraparound and ignored.
type Receiver struct {
	conn         *net.UDPConn
	buf          *jitter.Buffer
	expectedSSRC uint32
	filterSSRC   bool

	running atomic.Bool
	done    chan struct{}

	lastSSRC    atomic.Uint32
	packetsSeen atomic.Uint64
	packetsLost atomic.Uint64
}

// NewReceiver binds a reuse-address UDP socket to port, joins the
// multicast group, and prepares (but does not start) the receive loop.
// expectedSSRC of 0 disables SSRC filtering.
func NewReceiver(group string, port int, buf *jitter.Buffer, expectedSSRC uint32) (*Receiver, error) {
	conn, err := net.ListenMulticastUDP("udp4", nil, &net.UDPAddr{IP: net.ParseIP(group), Port: port})
	if err != nil {
		return nil, fmt.Errorf("bind rtp receive socket: %w", err)
	}
	_ = conn.SetReadBuffer(1 << 20)

	r := &Receiver{
		conn:         conn,
		buf:          buf,
		expectedSSRC: expectedSSRC,
		filterSSRC:   expectedSSRC != 0,
		done:         make(chan struct{}),
	}
	r.running.Store(true)
	return r, nil
}

// Run executes the receive loop; call it on its own goroutine. It returns
// once Stop has been called.
func (r *Receiver) Run() {
	defer close(r.done)

	buf := make([]byte, 2048)
	var lastSeq uint16
	haveLast := false

	for r.running.Load() {
		_ = r.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if !r.running.Load() {
				return
			}
			slog.Warn("rtp receive error", "err", err)
			continue
		}
		if n < 12 {
			continue
		}

		var hdr pionrtp.Header
		hn, err := hdr.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		if r.filterSSRC && hdr.SSRC != r.expectedSSRC {
			continue
		}

		if haveLast {
			gap := int(hdr.SequenceNumber) - int(lastSeq) - 1
			if gap < 0 {
				gap += 1 << 16
			}
			if gap >= 1 && gap <= 99 {
				slog.Warn("rtp packet loss detected", "lost", gap)
				r.packetsLost.Add(uint64(gap))
			}
		}
		lastSeq = hdr.SequenceNumber
		haveLast = true
		r.lastSSRC.Store(hdr.SSRC)
		r.packetsSeen.Add(1)

		samples := DecodeL24(buf[hn:n])
		r.buf.PushSamples(samples)
	}
}

// ReceptionReport builds an RTCP-style reception report summarizing this
// receiver's packet loss since it started, in the same shape an RTCP
// receiver report would carry (used for the aes67_status wire payload, not
// transmitted over the network).
func (r *Receiver) ReceptionReport() rtcp.ReceptionReport {
	seen := r.packetsSeen.Load()
	lost := r.packetsLost.Load()
	expected := seen + lost

	var fraction uint8
	if expected > 0 {
		fraction = uint8((lost * 256) / expected)
	}

	total := lost
	if total > 0xFFFFFF {
		total = 0xFFFFFF // RTCP cumulative lost is a 24-bit field
	}

	return rtcp.ReceptionReport{
		SSRC:               r.lastSSRC.Load(),
		FractionLost:       fraction,
		TotalLost:          uint32(total),
		LastSequenceNumber: uint32(seen),
	}
}

// Stop signals the receive loop to exit and blocks until it has, then
// closes the socket. Idempotent.
func (r *Receiver) Stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}
	<-r.done
	r.conn.Close()
}
