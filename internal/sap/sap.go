// Package sap implements SAP/SDP discovery of AES67 streams: a multicast
// listener that collects announced streams into a table, and an announcer
// that advertises our own streams on the same group. Grounded on
// original_source/server/src/network_audio/sap.rs. SDP is parsed and
// generated by hand rather than via a generic SDP library (see DESIGN.md for
// why pion/sdp's line-ordering was rejected) since AES67 receivers expect
// the exact field order the original produces.
package sap

import (
	"bytes"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	MulticastAddr = "224.2.127.254"
	Port          = 9875

	readTimeout = 500 * time.Millisecond

	deletionFlag = 0x04
	versionMask  = 0xE0
	version1     = 0x20

	payloadTypeL24 = 97
)

// Direction mirrors the original's StreamDirection enum.
type Direction int

const (
	DirectionSend Direction = iota
	DirectionReceive
	DirectionSendReceive
)

// Stream describes one discovered or locally-announced AES67 session.
type Stream struct {
	Name           string
	SessionID      string
	Origin         string
	MulticastAddr  string
	Port           uint16
	Channels       uint8
	SampleRate     uint32
	BitsPerSample  uint8
	PtimeUS        uint32
	Direction      Direction
	SDP            string
}

// Discovery listens for SAP announcements and can announce local streams.
type Discovery struct {
	mu      sync.RWMutex
	streams map[string]Stream

	announcedMu sync.Mutex
	announced   []Stream

	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}

	eventHook atomic.Value // holds eventHookBox
}

// eventHookBox wraps the event callback so atomic.Value always sees the
// same concrete type, even when the callback is nil.
type eventHookBox struct {
	fn func(sessionID string, deletion bool, s Stream)
}

func New() *Discovery {
	d := &Discovery{streams: make(map[string]Stream)}
	d.eventHook.Store(eventHookBox{})
	return d
}

// OnEvent registers a callback invoked once per append/withdraw observation
// (deletion=false on append, true on withdraw), off the receive loop's
// critical section. Intended for persisting discovery history; pass nil to
// clear. Not required for discovery to function.
func (d *Discovery) OnEvent(fn func(sessionID string, deletion bool, s Stream)) {
	d.eventHook.Store(eventHookBox{fn: fn})
}

// Streams returns a snapshot of all currently discovered streams.
func (d *Discovery) Streams() []Stream {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Stream, 0, len(d.streams))
	for _, s := range d.streams {
		out = append(out, s)
	}
	return out
}

// Start is idempotent; the listener runs on its own goroutine until Stop.
func (d *Discovery) Start() error {
	if !d.running.CompareAndSwap(false, true) {
		return nil
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, &net.UDPAddr{IP: net.ParseIP(MulticastAddr), Port: Port})
	if err != nil {
		d.running.Store(false)
		return fmt.Errorf("bind sap listener: %w", err)
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})

	slog.Info("sap discovery starting", "addr", MulticastAddr, "port", Port)
	go d.run(conn)
	return nil
}

func (d *Discovery) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	close(d.stop)
	<-d.done
	slog.Info("sap discovery stopped")
}

func (d *Discovery) run(conn *net.UDPConn) {
	defer close(d.done)
	defer conn.Close()

	buf := make([]byte, 4096)
	for {
		select {
		case <-d.stop:
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			continue // timeout is the normal, expected path when idle
		}
		if n < 8 {
			continue
		}
		stream, deletion, ok := parsePacket(buf[:n], src.IP.String())
		if !ok {
			continue
		}
		d.mu.Lock()
		if deletion {
			delete(d.streams, stream.SessionID)
		} else {
			d.streams[stream.SessionID] = stream
		}
		d.mu.Unlock()
		slog.Debug("sap stream update", "session_id", stream.SessionID, "deletion", deletion)
		d.fireEvent(stream.SessionID, deletion, stream)
	}
}

func (d *Discovery) fireEvent(sessionID string, deletion bool, s Stream) {
	box := d.eventHook.Load().(eventHookBox)
	if box.fn != nil {
		box.fn(sessionID, deletion, s)
	}
}

// Announce sends one SAP announcement for stream and adds it to the
// announced list; the announcement is not repeated periodically.
func (d *Discovery) Announce(stream Stream) error {
	sdp := GenerateSDP(stream)
	packet := buildPacket(stream.SessionID, sdp, false)
	if err := send(packet); err != nil {
		return err
	}
	d.announcedMu.Lock()
	d.announced = append(d.announced, stream)
	d.announcedMu.Unlock()
	slog.Info("sap stream announced", "name", stream.Name)
	d.fireEvent(stream.SessionID, false, stream)
	return nil
}

// RemoveAnnouncement sends an SAP deletion announcement for sessionID.
func (d *Discovery) RemoveAnnouncement(sessionID string) error {
	packet := buildPacket(sessionID, "", true)
	if err := send(packet); err != nil {
		return err
	}
	d.announcedMu.Lock()
	kept := d.announced[:0]
	for _, s := range d.announced {
		if s.SessionID != sessionID {
			kept = append(kept, s)
		}
	}
	d.announced = kept
	d.announcedMu.Unlock()
	slog.Info("sap announcement removed", "session_id", sessionID)
	d.fireEvent(sessionID, true, Stream{SessionID: sessionID})
	return nil
}

func send(packet []byte) error {
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.ParseIP(MulticastAddr), Port: Port})
	if err != nil {
		return fmt.Errorf("dial sap multicast: %w", err)
	}
	defer conn.Close()
	_, err = conn.Write(packet)
	return err
}

// parsePacket decodes one SAP datagram into its carried stream, reporting
// whether the deletion bit was set.
func parsePacket(data []byte, sourceIP string) (Stream, bool, bool) {
	if len(data) < 8 {
		return Stream{}, false, false
	}
	version := (data[0] & versionMask) >> 5
	if version != 1 {
		return Stream{}, false, false
	}
	deletion := data[0]&deletionFlag != 0
	authLen := int(data[1]) * 4
	addrLen := 4
	if data[0]&0x10 != 0 {
		addrLen = 16
	}
	headerLen := 4 + addrLen + authLen
	if len(data) < headerLen {
		return Stream{}, false, false
	}

	payload := data[headerLen:]
	sdpStart := 0
	if idx := bytes.IndexByte(payload, 0); idx >= 0 {
		sdpStart = idx + 1
	}
	if sdpStart >= len(payload) {
		return Stream{}, false, false
	}

	stream, ok := ParseSDP(string(payload[sdpStart:]), sourceIP)
	if !ok {
		return Stream{}, false, false
	}
	return stream, deletion, true
}

// ParseSDP extracts the fields the mixer cares about from a raw SDP body.
// defaultOrigin is used when the o= line's address field is missing.
func ParseSDP(sdp, defaultOrigin string) (Stream, bool) {
	s := Stream{
		Origin:        defaultOrigin,
		Port:          5004,
		Channels:      2,
		SampleRate:    48000,
		BitsPerSample: 24,
		PtimeUS:       1000,
		Direction:     DirectionSend,
		SDP:           sdp,
	}

	for _, raw := range strings.Split(sdp, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "s="):
			s.Name = line[2:]
		case strings.HasPrefix(line, "o="):
			parts := strings.Fields(line[2:])
			if len(parts) >= 6 {
				s.SessionID = parts[0] + "_" + parts[1]
				s.Origin = parts[5]
			}
		case strings.HasPrefix(line, "c="):
			parts := strings.Fields(line[2:])
			if len(parts) >= 3 {
				addr := strings.SplitN(parts[2], "/", 2)[0]
				if net.ParseIP(addr) != nil {
					s.MulticastAddr = addr
				}
			}
		case strings.HasPrefix(line, "m=audio "):
			fields := strings.Fields(line[len("m=audio "):])
			if len(fields) > 0 {
				if p, err := strconv.ParseUint(fields[0], 10, 16); err == nil {
					s.Port = uint16(p)
				}
			}
		case strings.HasPrefix(line, "a=rtpmap:"):
			if strings.Contains(line, "L24/") || strings.Contains(line, "L16/") {
				parts := strings.Split(line, "/")
				if len(parts) >= 2 {
					if r, err := strconv.ParseUint(parts[1], 10, 32); err == nil {
						s.SampleRate = uint32(r)
					}
				}
				if len(parts) >= 3 {
					if c, err := strconv.ParseUint(parts[2], 10, 8); err == nil {
						s.Channels = uint8(c)
					}
				}
				if strings.Contains(line, "L24") {
					s.BitsPerSample = 24
				} else {
					s.BitsPerSample = 16
				}
			}
		case strings.HasPrefix(line, "a=ptime:"):
			if ms, err := strconv.ParseFloat(line[len("a=ptime:"):], 32); err == nil {
				s.PtimeUS = uint32(ms * 1000.0)
			}
		}
	}

	if s.Name == "" {
		s.Name = "AES67 Stream " + s.SessionID
	}
	if s.SessionID == "" {
		return Stream{}, false
	}
	return s, true
}

// GenerateSDP renders stream into the exact field order AES67 receivers
// expect: v, o, s, c, t, m, rtpmap, ptime, ts-refclk, mediaclk.
func GenerateSDP(stream Stream) string {
	sessionVersion := time.Now().Unix()
	ptimeMS := float64(stream.PtimeUS) / 1000.0

	var b strings.Builder
	fmt.Fprintf(&b, "v=0\r\n")
	fmt.Fprintf(&b, "o=- %s %d IN IP4 %s\r\n", stream.SessionID, sessionVersion, stream.Origin)
	fmt.Fprintf(&b, "s=%s\r\n", stream.Name)
	fmt.Fprintf(&b, "c=IN IP4 %s/64\r\n", stream.MulticastAddr)
	fmt.Fprintf(&b, "t=0 0\r\n")
	fmt.Fprintf(&b, "m=audio %d RTP/AVP %d\r\n", stream.Port, payloadTypeL24)
	fmt.Fprintf(&b, "a=rtpmap:%d L%d/%d/%d\r\n", payloadTypeL24, stream.BitsPerSample, stream.SampleRate, stream.Channels)
	fmt.Fprintf(&b, "a=ptime:%.3f\r\n", ptimeMS)
	fmt.Fprintf(&b, "a=ts-refclk:ptp=IEEE1588-2008:00-00-00-00-00-00-00-00:0\r\n")
	fmt.Fprintf(&b, "a=mediaclk:direct=0\r\n")
	return b.String()
}

func buildPacket(sessionID, sdp string, deletion bool) []byte {
	var packet bytes.Buffer

	flags := byte(version1)
	if deletion {
		flags |= deletionFlag
	}
	packet.WriteByte(flags)
	packet.WriteByte(0) // auth length

	var hash uint16
	for _, c := range []byte(sessionID) {
		hash += uint16(c)
	}
	packet.WriteByte(byte(hash >> 8))
	packet.WriteByte(byte(hash))

	packet.Write([]byte{0, 0, 0, 0}) // originating source

	packet.WriteString("application/sdp\x00")
	packet.WriteString(sdp)
	return packet.Bytes()
}
