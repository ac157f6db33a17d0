// Package audioengine drives the real-time audio callback: it binds a
// portaudio duplex stream, runs channel and master processing per frame,
// and exposes a command channel so control-plane goroutines can subscribe
// to AES67 streams without touching the audio thread directly. Grounded on
// original_source/server/src/audio/engine.rs; the async mpsc/oneshot
// command pattern becomes a buffered Go channel carrying a reply channel
// per command, matching the original voice-chat server's own client.go
// command-dispatch idiom.
package audioengine

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"mixconsole/server/internal/aes67"
	"mixconsole/server/internal/master"
	"mixconsole/server/internal/mixer"
)

// Source selects where input frames are read from.
type Source int

const (
	SourceLocal Source = iota
	SourceAES67
)

// SubscribeResult is returned to the caller once a stream subscription
// succeeds.
type SubscribeResult struct {
	StreamID     string
	StreamName   string
	Channels     uint8
	StartChannel uint32
}

type subscribeCommand struct {
	streamID     string
	startChannel *uint32
	reply        chan subscribeReply
}

type subscribeReply struct {
	result SubscribeResult
	err    error
}

type unsubscribeCommand struct {
	streamID string
	reply    chan error
}

// CommandSender is the control-plane handle used by the hub to subscribe
// and unsubscribe AES67 streams without blocking on the audio thread.
type CommandSender struct {
	subscribe   chan subscribeCommand
	unsubscribe chan unsubscribeCommand
}

// SubscribeStream requests the engine connect to an AES67 stream and blocks
// until it replies.
func (s *CommandSender) SubscribeStream(streamID string, startChannel *uint32) (SubscribeResult, error) {
	reply := make(chan subscribeReply, 1)
	s.subscribe <- subscribeCommand{streamID: streamID, startChannel: startChannel, reply: reply}
	r := <-reply
	return r.result, r.err
}

// UnsubscribeStream requests the engine disconnect and blocks until it
// replies.
func (s *CommandSender) UnsubscribeStream(streamID string) error {
	reply := make(chan error, 1)
	s.unsubscribe <- unsubscribeCommand{streamID: streamID, reply: reply}
	return <-reply
}

// Engine owns the portaudio stream and the command channel the control
// plane uses to reach it.
type Engine struct {
	sampleRate float64
	bufferSize int

	stream *portaudio.Stream

	mixerRef  *mixer.Mixer
	masterRef *master.Section
	backend   *aes67.AES67Backend

	source atomic.Int32

	commands chan any
	sender   CommandSender

	running atomic.Bool

	// aes67Scratch is a fixed-size interleaved read buffer reused across
	// callback invocations; sized once in Start so the real-time callback
	// never allocates.
	aes67Scratch []float32

	// rawScratch holds the two hardware/AES67 source channels before
	// they are fanned out across the mixer's input strips; sendScratch is
	// the interleaved buffer used to publish the processed master-bus
	// output back out over AES67. Both sized once in Start.
	rawScratch  [][]float32
	sendScratch []float32
}

// New returns an engine that still needs SetMixer/SetMaster and Start.
func New(sampleRate float64, bufferSize int) *Engine {
	e := &Engine{
		sampleRate: sampleRate,
		bufferSize: bufferSize,
		commands:   make(chan any, 32),
	}
	e.sender = CommandSender{
		subscribe:   make(chan subscribeCommand, 32),
		unsubscribe: make(chan unsubscribeCommand, 32),
	}
	return e
}

func (e *Engine) SetMixer(m *mixer.Mixer)       { e.mixerRef = m }
func (e *Engine) SetMaster(s *master.Section)   { e.masterRef = s }
func (e *Engine) SetAES67Backend(b *aes67.AES67Backend) { e.backend = b }

func (e *Engine) Source() Source { return Source(e.source.Load()) }
func (e *Engine) IsRunning() bool { return e.running.Load() }

// ProcessCommands drains pending subscribe/unsubscribe requests; call it
// from a control-plane goroutine, never from the audio callback.
func (e *Engine) ProcessCommands() {
	for {
		select {
		case cmd := <-e.sender.subscribe:
			result, err := e.handleSubscribe(cmd.streamID, cmd.startChannel)
			cmd.reply <- subscribeReply{result: result, err: err}
		case cmd := <-e.sender.unsubscribe:
			cmd.reply <- e.handleUnsubscribe(cmd.streamID)
		default:
			return
		}
	}
}

// CommandSender returns the handle for subscribing control-plane callers.
func (e *Engine) CommandSender() *CommandSender { return &e.sender }

func (e *Engine) handleSubscribe(streamID string, startChannel *uint32) (SubscribeResult, error) {
	if e.backend == nil {
		return SubscribeResult{}, fmt.Errorf("aes67 backend not initialized")
	}
	var found *aes67Stream
	for _, s := range e.backend.Discovery().Streams() {
		if s.SessionID == streamID {
			found = &aes67Stream{name: s.Name, channels: s.Channels, origin: s.Origin, multicastAddr: s.MulticastAddr, sampleRate: s.SampleRate}
			break
		}
	}
	if found == nil {
		return SubscribeResult{}, fmt.Errorf("stream %q not found", streamID)
	}

	startCh := uint32(0)
	if startChannel != nil {
		startCh = *startChannel
	}

	device := aes67.Device{
		ID:             streamID,
		Name:           found.name,
		Type:           aes67.DeviceTransmitter,
		Channels:       uint32(found.channels),
		SampleRate:     found.sampleRate,
		IPAddress:      found.origin,
		MulticastGroup: found.multicastAddr,
	}
	if err := e.backend.Connect(device); err != nil {
		return SubscribeResult{}, fmt.Errorf("connect: %w", err)
	}
	e.source.Store(int32(SourceAES67))

	slog.Info("subscribed to aes67 stream", "stream", found.name, "channels", found.channels, "start_channel", startCh)
	return SubscribeResult{StreamID: streamID, StreamName: found.name, Channels: found.channels, StartChannel: startCh}, nil
}

func (e *Engine) handleUnsubscribe(streamID string) error {
	if e.backend == nil {
		return nil
	}
	if err := e.backend.Disconnect(); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	e.source.Store(int32(SourceLocal))
	slog.Info("unsubscribed from aes67 stream", "stream_id", streamID)
	return nil
}

type aes67Stream struct {
	name          string
	channels      uint8
	origin        string
	multicastAddr string
	sampleRate    uint32
}

// Start opens the default duplex portaudio stream and begins processing.
// Must be called after portaudio.Initialize() by the caller (main wires
// that lifecycle, matching how the original leaves cpal host init to the
// caller of AudioEngine::new).
func (e *Engine) Start() error {
	if !e.running.CompareAndSwap(false, true) {
		return nil
	}
	slog.Info("audio engine starting", "sample_rate", e.sampleRate, "buffer_size", e.bufferSize)

	var oscPhase float64
	e.aes67Scratch = make([]float32, e.bufferSize*2)
	e.sendScratch = make([]float32, e.bufferSize*2)
	e.rawScratch = [][]float32{make([]float32, e.bufferSize), make([]float32, e.bufferSize)}
	stream, err := portaudio.OpenDefaultStream(2, 2, e.sampleRate, e.bufferSize, func(in, out [][]float32) {
		e.callback(in, out, &oscPhase)
	})
	if err != nil {
		e.running.Store(false)
		return fmt.Errorf("open portaudio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		e.running.Store(false)
		return fmt.Errorf("start portaudio stream: %w", err)
	}
	e.stream = stream
	slog.Info("audio engine running")
	return nil
}

// Stop closes the stream; safe to call multiple times.
func (e *Engine) Stop() error {
	if !e.running.CompareAndSwap(true, false) {
		return nil
	}
	slog.Info("audio engine stopping")
	if e.stream != nil {
		if err := e.stream.Stop(); err != nil {
			return fmt.Errorf("stop portaudio stream: %w", err)
		}
		if err := e.stream.Close(); err != nil {
			return fmt.Errorf("close portaudio stream: %w", err)
		}
		e.stream = nil
	}
	return nil
}

// callback runs on the real-time audio thread: no allocation, no locks
// beyond the lock-free atomics in Mixer/Section/RoutingMatrix, no logging,
// no I/O beyond the AES67 backend's own lock-free send/receive paths.
func (e *Engine) callback(in, out [][]float32, oscPhase *float64) {
	frames := len(out[0])
	raw := e.rawScratch
	if e.Source() == SourceAES67 && e.backend != nil {
		interleaved := e.aes67Scratch
		if len(interleaved) < frames*2 {
			frames = len(interleaved) / 2
		}
		e.backend.ReadSamples(interleaved[:frames*2], 2)
		for i := 0; i < frames; i++ {
			raw[0][i] = interleaved[i*2]
			raw[1][i] = interleaved[i*2+1]
		}
	} else {
		copy(raw[0][:frames], in[0][:frames])
		copy(raw[1][:frames], in[1][:frames])
	}

	if e.mixerRef != nil {
		processChannels(raw, out, frames, e.mixerRef)
	} else {
		copy(out[0][:frames], raw[0][:frames])
		copy(out[1][:frames], raw[1][:frames])
	}

	if e.masterRef != nil {
		processMaster(out, e.masterRef, e.sampleRate)
	}

	if e.backend != nil && e.backend.IsConnected() {
		e.publishAES67Send(out, frames)
	}
}

// publishAES67Send interleaves the processed master-bus stereo output and
// hands it to the backend's send path. Safe for the real-time thread: the
// scratch buffer is preallocated and WriteSamples only takes atomic pointer
// loads.
func (e *Engine) publishAES67Send(out [][]float32, frames int) {
	buf := e.sendScratch
	if len(buf) < frames*2 {
		frames = len(buf) / 2
	}
	for i := 0; i < frames; i++ {
		buf[i*2] = out[0][i]
		buf[i*2+1] = out[1][i]
	}
	e.backend.WriteSamples(buf[:frames*2], 2)
}

// processChannels mixes the source channels in raw, fanned out across the
// mixer's input strips (strip i reads raw[i % len(raw)], so every strip
// carries signal even though the duplex device only has two physical
// channels), through each strip's gain/pan composition and the routing
// matrix, accumulating into out's output buses. Must not allocate: the
// routing snapshot is a single lock-free pointer load and out/raw are the
// caller's preallocated buffers.
func processChannels(raw, out [][]float32, frames int, m *mixer.Mixer) {
	for o := range out {
		buf := out[o][:frames]
		for i := range buf {
			buf[i] = 0
		}
	}

	matrix := m.Routing().TrySnapshot()
	outputCount := m.OutputCount()
	if outputCount > len(out) {
		outputCount = len(out)
	}

	for ch := 0; ch < m.InputCount(); ch++ {
		c := m.Channel(uint32(ch))
		if c == nil || ch >= len(matrix) {
			continue
		}
		src := raw[ch%len(raw)]
		row := matrix[ch]
		effective := c.EffectiveGain()
		l, r := c.StereoGains()

		var peak float32
		for i := 0; i < frames; i++ {
			x := src[i]
			if a := absf32(x * effective); a > peak {
				peak = a
			}
			for o := 0; o < outputCount; o++ {
				cell := row[o]
				if cell == 0 {
					continue
				}
				var send float32
				switch o {
				case 0:
					send = x * l
				case 1:
					send = x * r
				default:
					send = x * effective
				}
				out[o][i] += send * cell
			}
		}
		m.UpdateMeter(c.ID(), peak)
	}
}

// processMaster runs the stereo master pipeline over every frame.
func processMaster(out [][]float32, s *master.Section, sampleRate float64) {
	if len(out) < 2 {
		return
	}
	l, r := out[0], out[1]
	for i := range l {
		ol, or_ := s.Process(l[i], r[i], sampleRate)
		l[i], r[i] = ol, or_
	}
}

func absf32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
