// Package ws implements the multi-client synchronization protocol: a
// broadcast hub fanning state deltas out to every connected control surface,
// and the per-connection session loop that applies inbound commands to the
// mixer. The Echo websocket registration, upgrade-then-serve idiom, and slog
// usage follow the original voice-chat server's handler; the hub/session/
// dispatch semantics themselves are this console's own.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"mixconsole/server/internal/aes67"
	"mixconsole/server/internal/audioengine"
	"mixconsole/server/internal/master"
	"mixconsole/server/internal/mixer"
	"mixconsole/server/internal/protocol"
	"mixconsole/server/internal/store"
)

const (
	hubCapacity   = 256
	meterInterval = 50 * time.Millisecond
	writeTimeout  = 5 * time.Second
)

// Hub is the multi-producer/multi-consumer broadcast fan-out:
// every subscribed session gets its own bounded channel, so one
// lagging client only drops messages for itself.
type Hub struct {
	mu      sync.Mutex
	clients map[string]chan protocol.Envelope
}

// NewHub returns an empty broadcast hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]chan protocol.Envelope)}
}

// Join registers a new subscriber and returns its id and delivery channel.
func (h *Hub) Join() (string, <-chan protocol.Envelope) {
	id := uuid.NewString()
	ch := make(chan protocol.Envelope, hubCapacity)
	h.mu.Lock()
	h.clients[id] = ch
	h.mu.Unlock()
	return id, ch
}

// Leave unregisters a subscriber and closes its channel.
func (h *Hub) Leave(id string) {
	h.mu.Lock()
	ch, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Count returns the number of currently subscribed clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast delivers env to every subscriber's channel without blocking. A
// subscriber whose channel is full (it is lagging beyond hubCapacity) has
// this message dropped and the drop logged; it is never
// disconnected for this alone.
func (h *Hub) Broadcast(env protocol.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		select {
		case ch <- env:
		default:
			slog.Warn("ws broadcast dropped message for lagging client", "client", id, "type", env.Type)
		}
	}
}

// Handler upgrades HTTP connections to the control-plane websocket and
// serves the per-connection session loop.
type Handler struct {
	hub      *Hub
	mixer    *mixer.Mixer
	master   *master.Section
	backend  *aes67.AES67Backend
	engine   *audioengine.Engine
	audit    *store.Store
	upgrader websocket.Upgrader

	serverName   string
	sampleRate   uint32
	audioBackend string
}

// Config bundles the dependencies a Handler needs.
type Config struct {
	Hub          *Hub
	Mixer        *mixer.Mixer
	Master       *master.Section
	Backend      *aes67.AES67Backend // nil if AES67 was not started
	Engine       *audioengine.Engine
	Audit        *store.Store // nil disables audit persistence
	ServerName   string
	SampleRate   uint32
	AudioBackend string
}

// NewHandler constructs a websocket handler bound to the mixer's live state.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		hub:          cfg.Hub,
		mixer:        cfg.Mixer,
		master:       cfg.Master,
		backend:      cfg.Backend,
		engine:       cfg.Engine,
		audit:        cfg.Audit,
		serverName:   cfg.ServerName,
		sampleRate:   cfg.SampleRate,
		audioBackend: cfg.AudioBackend,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds the websocket route on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
}

// Hub exposes the broadcast hub so other control surfaces (the REST facade)
// can fan deltas out to the same subscriber set a websocket change reaches.
func (h *Handler) Hub() *Hub { return h.hub }

// Mixer, Master, Backend, Engine, and Audit expose the same live state this
// handler mutates, so the REST facade operates on one shared mixer/master
// instead of a second copy.
func (h *Handler) Mixer() *mixer.Mixer             { return h.mixer }
func (h *Handler) Master() *master.Section         { return h.master }
func (h *Handler) Backend() *aes67.AES67Backend    { return h.backend }
func (h *Handler) Engine() *audioengine.Engine     { return h.engine }
func (h *Handler) Audit() *store.Store             { return h.audit }
func (h *Handler) ServerName() string              { return h.serverName }
func (h *Handler) SampleRate() uint32              { return h.sampleRate }
func (h *Handler) AudioBackend() string            { return h.audioBackend }

// BroadcastChannelUpdate fans a channel_updated message out to every
// subscriber, exactly as dispatch does for a websocket-originated change.
func (h *Handler) BroadcastChannelUpdate(st mixer.State) {
	h.hub.Broadcast(mustEnvelope(protocol.TypeChannelUpdated, toProtoChannel(st)))
}

// BroadcastRoutingUpdate fans a routing_updated message out.
func (h *Handler) BroadcastRoutingUpdate(input, output uint32, gain float32) {
	h.hub.Broadcast(mustEnvelope(protocol.TypeRoutingUpdated, protocol.RoutingUpdatedPayload{
		Input: input, Output: output, Gain: gain,
	}))
}

// BroadcastState fans a full state message out.
func (h *Handler) BroadcastState(s mixer.Snapshot) {
	h.hub.Broadcast(mustEnvelope(protocol.TypeState, toProtoState(s)))
}

// BroadcastMasterUpdate fans a master_updated message out.
func (h *Handler) BroadcastMasterUpdate(st master.State) {
	h.hub.Broadcast(mustEnvelope(protocol.TypeMasterUpdated, toProtoMaster(st)))
}

// ServerInfo returns the current server_info payload.
func (h *Handler) ServerInfo() protocol.ServerInfo {
	return currentServerInfo(h)
}

// Aes67Status returns the current aes67_status payload.
func (h *Handler) Aes67Status() protocol.Aes67Status {
	return aes67StatusPayload(h)
}

// Aes67Streams returns the current aes67_streams payload.
func (h *Handler) Aes67Streams() []protocol.Aes67StreamInfo {
	return aes67StreamsPayload(h)
}

// HandleWebSocket upgrades one request and serves it until disconnect.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	remoteAddr := c.RealIP()
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("ws upgrade failed", "remote", remoteAddr, "err", err)
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.serveConn(conn, remoteAddr)
	return nil
}

func (h *Handler) serveConn(conn *websocket.Conn, remoteAddr string) {
	defer conn.Close()
	conn.SetReadLimit(1 << 20)

	id, deliveries := h.hub.Join()
	slog.Info("ws connected", "client", id, "remote", remoteAddr)

	sess := &session{
		id:      id,
		conn:    conn,
		handler: h,
	}
	sess.metersOn.Store(true)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); sess.runBroadcastTask(deliveries, done) }()
	go func() { defer wg.Done(); sess.runMeterTask(done) }()

	sess.sendWelcome()

	h.hub.Broadcast(mustEnvelope(protocol.TypeClientCountChanged, protocol.ClientCountChangedPayload{Count: uint32(h.hub.Count())}))

	sess.runReceiveTask()

	close(done)
	h.hub.Leave(id)
	wg.Wait()
	slog.Info("ws disconnected", "client", id, "remote", remoteAddr)
	if sess.name() != "" {
		h.hub.Broadcast(mustEnvelope(protocol.TypeClientDisconnected, protocol.ClientDisconnectedPayload{Name: sess.name()}))
	}
	h.hub.Broadcast(mustEnvelope(protocol.TypeClientCountChanged, protocol.ClientCountChangedPayload{Count: uint32(h.hub.Count())}))
}

// session is one connected client: its websocket, its hub membership, and
// whether it currently wants the 50ms meter stream.
type session struct {
	id      string
	conn    *websocket.Conn
	handler *Handler
	writeMu sync.Mutex

	metersOn  atomic.Bool
	nameValue atomic.Value // string
}

func (s *session) name() string {
	v, _ := s.nameValue.Load().(string)
	return v
}

func (s *session) write(env protocol.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(env)
}

func (s *session) sendWelcome() {
	h := s.handler
	info := protocol.ServerInfo{
		Name:         h.serverName,
		Version:      "1.0",
		InputCount:   uint32(h.mixer.InputCount()),
		OutputCount:  uint32(h.mixer.OutputCount()),
		SampleRate:   h.sampleRate,
		ClientCount:  uint32(h.hub.Count()),
		AudioBackend: h.audioBackend,
	}
	payload := protocol.WelcomePayload{
		ServerInfo: info,
		State:      toProtoState(h.mixer.GetState()),
	}
	env, _ := protocol.Encode(protocol.TypeWelcome, payload)
	if err := s.write(env); err != nil {
		slog.Debug("ws welcome send failed", "client", s.id, "err", err)
	}
}

// runBroadcastTask forwards every hub delivery to this client until done is
// closed or the hub channel closes (on Leave).
func (s *session) runBroadcastTask(deliveries <-chan protocol.Envelope, done <-chan struct{}) {
	for {
		select {
		case env, ok := <-deliveries:
			if !ok {
				return
			}
			if err := s.write(env); err != nil {
				slog.Debug("ws broadcast write failed", "client", s.id, "err", err)
				return
			}
		case <-done:
			return
		}
	}
}

// runMeterTask emits a Meters message to this client every 50ms
// while subscribe_meters has not disabled it.
func (s *session) runMeterTask(done <-chan struct{}) {
	ticker := time.NewTicker(meterInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !s.metersOn.Load() {
				continue
			}
			payload := protocol.MeterData{
				Peaks:     s.handler.mixer.GetMeters(),
				Timestamp: uint64(time.Now().UnixMilli()),
			}
			env, _ := protocol.Encode(protocol.TypeMeters, payload)
			if err := s.write(env); err != nil {
				slog.Debug("ws meter write failed", "client", s.id, "err", err)
				return
			}
		case <-done:
			return
		}
	}
}

// runReceiveTask reads and dispatches inbound messages until the connection
// closes; it runs on the goroutine that called serveConn.
func (s *session) runReceiveTask() {
	for {
		var env protocol.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.handlePotentialParseError(err)
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws unexpected close", "client", s.id, "err", err)
			} else if _, ok := err.(*websocket.CloseError); !ok {
				s.handlePotentialParseError(err)
			}
			return
		}
		reply, broadcast := dispatch(s, env)
		if reply.Type != "" {
			if err := s.write(reply); err != nil {
				slog.Debug("ws reply write failed", "client", s.id, "err", err)
				return
			}
		}
		if broadcast {
			s.handler.hub.Broadcast(reply)
		}
		s.auditCommand(env)
	}
}

// handlePotentialParseError reports malformed JSON as an error message
// without closing the connection. ReadJSON already
// consumed the frame, so a genuinely malformed body surfaces here; a real
// close error is handled by the caller.
func (s *session) handlePotentialParseError(err error) {
	env, _ := protocol.Encode(protocol.TypeError, protocol.ErrorPayload{
		Code:    protocol.ErrCodeBadRequest,
		Message: err.Error(),
	})
	_ = s.write(env)
}

func (s *session) auditCommand(env protocol.Envelope) {
	if s.handler.audit == nil || !store.IsMutatingCommand(env.Type) {
		return
	}
	if err := s.handler.audit.RecordCommand(s.id, env.Type, string(env.Payload)); err != nil {
		slog.Warn("ws audit log write failed", "client", s.id, "type", env.Type, "err", err)
	}
}

func mustEnvelope(msgType string, payload any) protocol.Envelope {
	env, _ := protocol.Encode(msgType, payload)
	return env
}

func toProtoState(s mixer.Snapshot) protocol.MixerState {
	channels := make([]protocol.ChannelState, len(s.Channels))
	for i, c := range s.Channels {
		channels[i] = toProtoChannel(c)
	}
	return protocol.MixerState{
		Channels:    channels,
		Routing:     s.Routing,
		InputCount:  s.InputCount,
		OutputCount: s.OutputCount,
	}
}

func toProtoMaster(s master.State) protocol.MasterState {
	return protocol.MasterState{
		Fader:              s.Fader,
		Mute:               s.Mute,
		DimEnabled:         s.DimEnabled,
		DimDB:              s.DimDB,
		MonoSum:            s.MonoSum,
		LimiterEnabled:     s.LimiterEnabled,
		LimiterThresholdDB: s.LimiterThresholdDB,
		LimiterRatio:       s.LimiterRatio,
		OscEnabled:         s.OscEnabled,
		OscFreq:            s.OscFreq,
		OscLevelDB:         s.OscLevelDB,
		PeakL:              s.PeakL,
		PeakR:              s.PeakR,
		GainReductionDB:    s.GainReductionDB,
	}
}

func toProtoChannel(c mixer.State) protocol.ChannelState {
	return protocol.ChannelState{
		ID:          c.ID,
		Name:        c.Name,
		Fader:       c.Fader,
		Mute:        c.Mute,
		Solo:        c.Solo,
		Pan:         c.Pan,
		Gain:        c.Gain,
		PhaseInvert: c.PhaseInvert,
		Color:       c.Color,
		Meter:       c.Meter,
	}
}
