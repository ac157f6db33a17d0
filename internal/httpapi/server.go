// Package httpapi implements the REST facade: a one-to-one mapping of the
// mixer/master/AES67 control-plane operations onto HTTP verbs, for clients
// that want request/response instead of the websocket's push protocol. The
// Echo app/middleware/requestLogger idiom follows the original voice-chat
// server's own HTTP surface; the route shape follows
// original_source/server/src/api/routes.rs, and the
// {"success","data","error"} envelope mirrors
// original_source/shared/protocol/src/messages.rs::ApiResponse<T>.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"mixconsole/server/internal/eq"
	"mixconsole/server/internal/mixer"
	"mixconsole/server/internal/store"
	"mixconsole/server/internal/ws"
)

// Server is the REST facade's Echo application. It shares the live
// mixer/master/backend/hub held by the websocket Handler, so a change
// applied over REST is broadcast to websocket subscribers exactly like a
// change applied over the websocket is.
type Server struct {
	echo *echo.Echo
	ws   *ws.Handler
}

// New constructs the REST facade bound to a running websocket handler and
// registers its routes (including the handler's own /ws route).
func New(handler *ws.Handler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(requestLogger())

	s := &Server{echo: e, ws: handler}
	s.registerRoutes()
	return s
}

// requestLogger logs each HTTP request via slog, quieting the noisy paths.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			path := req.URL.Path
			if path == "/health" {
				slog.Debug("http request", "method", req.Method, "path", path, "status", c.Response().Status)
			} else {
				slog.Info("http request",
					"method", req.Method,
					"path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
					"remote", c.RealIP(),
				)
			}
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance, primarily for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/info", s.handleServerInfo)
	s.echo.GET("/api/state", s.handleState)

	s.echo.GET("/api/channels", s.handleGetChannels)
	s.echo.GET("/api/channels/:id", s.handleGetChannel)
	s.echo.PATCH("/api/channels/:id", s.handlePatchChannel)
	s.echo.POST("/api/channels/:id/fader", s.handleSetFader)
	s.echo.POST("/api/channels/:id/mute", s.handleSetMute)
	s.echo.POST("/api/channels/:id/solo", s.handleSetSolo)
	s.echo.POST("/api/channels/:id/pan", s.handleSetPan)
	s.echo.POST("/api/channels/:id/gain", s.handleSetGain)

	s.echo.GET("/api/routing", s.handleGetRouting)
	s.echo.POST("/api/routing", s.handleSetRouting)
	s.echo.POST("/api/routing/unity", s.handleSetRoutingUnity)
	s.echo.POST("/api/routing/clear", s.handleClearRouting)

	s.echo.GET("/api/master", s.handleGetMaster)
	s.echo.POST("/api/master/fader", s.handleMasterFader)
	s.echo.POST("/api/master/mute", s.handleMasterMute)
	s.echo.POST("/api/master/dim", s.handleMasterDim)
	s.echo.POST("/api/master/mono", s.handleMasterMono)
	s.echo.POST("/api/master/oscillator", s.handleMasterOscillator)
	s.echo.POST("/api/master/eq", s.handleMasterEQEnabled)
	s.echo.POST("/api/master/eq/:band", s.handleMasterEQBand)

	s.echo.GET("/api/aes67/status", s.handleAes67Status)
	s.echo.GET("/api/aes67/streams", s.handleAes67Streams)
	s.echo.POST("/api/aes67/streams/:id/subscribe", s.handleAes67Subscribe)
	s.echo.POST("/api/aes67/streams/:id/unsubscribe", s.handleAes67Unsubscribe)

	// Scene/config/MIDI/mDNS remain external collaborators; this port
	// reports the same 501 the websocket dispatch table gives them.
	s.echo.GET("/api/scenes", s.handleNotImplemented)
	s.echo.POST("/api/scenes", s.handleNotImplemented)
	s.echo.GET("/api/scenes/:id", s.handleNotImplemented)
	s.echo.DELETE("/api/scenes/:id", s.handleNotImplemented)
	s.echo.POST("/api/scenes/:id/recall", s.handleNotImplemented)

	s.echo.GET("/api/audit", s.handleAudit)
	s.echo.GET("/api/audit/discovery/:session_id", s.handleDiscoveryHistory)

	s.ws.Register(s.echo)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down http api server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

// --- response envelope ---

type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(c echo.Context, status int, data any) error {
	return c.JSON(status, apiResponse{Success: true, Data: data})
}

func fail(c echo.Context, status int, message string) error {
	return c.JSON(status, apiResponse{Success: false, Error: message})
}

func (s *Server) handleHealth(c echo.Context) error {
	return ok(c, http.StatusOK, map[string]any{"status": "ok", "clients": s.ws.Hub().Count()})
}

func (s *Server) handleServerInfo(c echo.Context) error {
	return ok(c, http.StatusOK, s.ws.ServerInfo())
}

func (s *Server) handleState(c echo.Context) error {
	return ok(c, http.StatusOK, s.ws.Mixer().GetState())
}

func (s *Server) handleGetChannels(c echo.Context) error {
	return ok(c, http.StatusOK, s.ws.Mixer().GetAllChannels())
}

func channelIDParam(c echo.Context) (uint32, error) {
	v, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func (s *Server) handleGetChannel(c echo.Context) error {
	id, err := channelIDParam(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "invalid channel id")
	}
	state, ok2 := s.ws.Mixer().GetChannel(id)
	if !ok2 {
		return fail(c, http.StatusNotFound, "channel not found")
	}
	return ok(c, http.StatusOK, state)
}

type patchChannelRequest struct {
	Fader       *float32 `json:"fader"`
	Mute        *bool    `json:"mute"`
	Solo        *bool    `json:"solo"`
	Pan         *float32 `json:"pan"`
	GainDB      *float32 `json:"gain"`
	Name        *string  `json:"name"`
	Color       *string  `json:"color"`
	PhaseInvert *bool    `json:"phase_invert"`
}

func (s *Server) handlePatchChannel(c echo.Context) error {
	id, err := channelIDParam(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "invalid channel id")
	}
	var req patchChannelRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}

	m := s.ws.Mixer()
	var state mixer.State
	var applied bool
	apply := func(st mixer.State, ok2 bool) {
		if ok2 {
			state, applied = st, true
		}
	}
	if req.Fader != nil {
		apply(m.SetFader(id, *req.Fader))
	}
	if req.Mute != nil {
		apply(m.SetMute(id, *req.Mute))
	}
	if req.Solo != nil {
		apply(m.SetSolo(id, *req.Solo))
	}
	if req.Pan != nil {
		apply(m.SetPan(id, *req.Pan))
	}
	if req.GainDB != nil {
		apply(m.SetGain(id, *req.GainDB))
	}
	if req.Name != nil {
		apply(m.SetChannelName(id, *req.Name))
	}
	if req.Color != nil {
		apply(m.SetChannelColor(id, *req.Color))
	}
	if req.PhaseInvert != nil {
		apply(m.SetPhaseInvert(id, *req.PhaseInvert))
	}
	if !applied {
		if st, ok2 := m.GetChannel(id); ok2 {
			state = st
		} else {
			return fail(c, http.StatusNotFound, "channel not found")
		}
	}

	s.broadcastChannel("update_channel", state)
	return ok(c, http.StatusOK, state)
}

type faderRequest struct {
	Value float32 `json:"value"`
}
type boolRequest struct {
	Value bool `json:"value"`
}

func (s *Server) handleSetFader(c echo.Context) error {
	id, err := channelIDParam(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "invalid channel id")
	}
	var req faderRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	state, ok2 := s.ws.Mixer().SetFader(id, req.Value)
	if !ok2 {
		return fail(c, http.StatusNotFound, "channel not found")
	}
	s.broadcastChannel("set_fader", state)
	return ok(c, http.StatusOK, state)
}

func (s *Server) handleSetMute(c echo.Context) error {
	id, err := channelIDParam(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "invalid channel id")
	}
	var req boolRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	state, ok2 := s.ws.Mixer().SetMute(id, req.Value)
	if !ok2 {
		return fail(c, http.StatusNotFound, "channel not found")
	}
	s.broadcastChannel("set_mute", state)
	return ok(c, http.StatusOK, state)
}

func (s *Server) handleSetSolo(c echo.Context) error {
	id, err := channelIDParam(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "invalid channel id")
	}
	var req boolRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	state, ok2 := s.ws.Mixer().SetSolo(id, req.Value)
	if !ok2 {
		return fail(c, http.StatusNotFound, "channel not found")
	}
	s.broadcastChannel("set_solo", state)
	return ok(c, http.StatusOK, state)
}

func (s *Server) handleSetPan(c echo.Context) error {
	id, err := channelIDParam(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "invalid channel id")
	}
	var req faderRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	state, ok2 := s.ws.Mixer().SetPan(id, req.Value)
	if !ok2 {
		return fail(c, http.StatusNotFound, "channel not found")
	}
	s.broadcastChannel("set_pan", state)
	return ok(c, http.StatusOK, state)
}

func (s *Server) handleSetGain(c echo.Context) error {
	id, err := channelIDParam(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "invalid channel id")
	}
	var req faderRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	state, ok2 := s.ws.Mixer().SetGain(id, req.Value)
	if !ok2 {
		return fail(c, http.StatusNotFound, "channel not found")
	}
	s.broadcastChannel("set_gain", state)
	return ok(c, http.StatusOK, state)
}

func (s *Server) broadcastChannel(command string, state mixer.State) {
	s.ws.BroadcastChannelUpdate(state)
	s.recordAudit(command, state.ID)
}

func (s *Server) recordAudit(command string, channelID uint32) {
	audit := s.ws.Audit()
	if audit == nil {
		return
	}
	if err := audit.RecordCommand("rest-api", command, strconv.FormatUint(uint64(channelID), 10)); err != nil {
		slog.Warn("rest api audit log write failed", "command", command, "err", err)
	}
}

func (s *Server) handleGetRouting(c echo.Context) error {
	return ok(c, http.StatusOK, s.ws.Mixer().Routing().Snapshot())
}

type routingRequest struct {
	Input  uint32  `json:"input"`
	Output uint32  `json:"output"`
	Gain   float32 `json:"gain"`
}

func (s *Server) handleSetRouting(c echo.Context) error {
	var req routingRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	m := s.ws.Mixer()
	if !m.SetRouting(int(req.Input), int(req.Output), req.Gain) {
		return fail(c, http.StatusBadRequest, "routing index out of range")
	}
	s.ws.BroadcastRoutingUpdate(req.Input, req.Output, req.Gain)
	s.recordAudit("set_routing", req.Input)
	return ok(c, http.StatusOK, m.Routing().Snapshot())
}

func (s *Server) handleSetRoutingUnity(c echo.Context) error {
	m := s.ws.Mixer()
	m.Routing().SetUnity()
	s.ws.BroadcastState(m.GetState())
	s.recordAudit("set_routing_unity", 0)
	return ok(c, http.StatusOK, m.Routing().Snapshot())
}

func (s *Server) handleClearRouting(c echo.Context) error {
	m := s.ws.Mixer()
	m.Routing().Clear()
	s.ws.BroadcastState(m.GetState())
	s.recordAudit("clear_routing", 0)
	return ok(c, http.StatusOK, m.Routing().Snapshot())
}

func (s *Server) handleGetMaster(c echo.Context) error {
	return ok(c, http.StatusOK, s.ws.Master().State())
}

type floatRequest struct {
	Value float32 `json:"value"`
}

func (s *Server) handleMasterFader(c echo.Context) error {
	var req floatRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	s.ws.Master().SetFader(req.Value)
	return s.masterUpdated(c, "set_master_fader")
}

func (s *Server) handleMasterMute(c echo.Context) error {
	var req boolRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	s.ws.Master().SetMute(req.Value)
	return s.masterUpdated(c, "set_master_mute")
}

func (s *Server) handleMasterDim(c echo.Context) error {
	var req boolRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	s.ws.Master().SetDimEnabled(req.Value)
	return s.masterUpdated(c, "set_master_dim")
}

func (s *Server) handleMasterMono(c echo.Context) error {
	var req boolRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	s.ws.Master().SetMonoSum(req.Value)
	return s.masterUpdated(c, "set_master_mono")
}

type oscillatorRequest struct {
	Enabled     bool    `json:"enabled"`
	FrequencyHz float32 `json:"frequency_hz"`
	LevelDB     float32 `json:"level_db"`
}

func (s *Server) handleMasterOscillator(c echo.Context) error {
	var req oscillatorRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	master := s.ws.Master()
	master.SetOscEnabled(req.Enabled)
	master.SetOscFreq(req.FrequencyHz)
	master.SetOscLevelDB(req.LevelDB)
	return s.masterUpdated(c, "set_master_oscillator")
}

func (s *Server) handleMasterEQEnabled(c echo.Context) error {
	var req boolRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	s.ws.Master().EQ().SetEnabled(req.Value)
	return s.masterUpdated(c, "set_master_eq_enabled")
}

type eqBandRequest struct {
	FrequencyHz float32 `json:"frequency_hz"`
	GainDB      float32 `json:"gain_db"`
	Q           float32 `json:"q"`
	FilterType  string  `json:"filter_type"`
	Enabled     bool    `json:"enabled"`
}

func (s *Server) handleMasterEQBand(c echo.Context) error {
	band, err := strconv.Atoi(c.Param("band"))
	if err != nil {
		return fail(c, http.StatusBadRequest, "invalid band index")
	}
	var req eqBandRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	filterType, ok := eq.ParseFilterType(req.FilterType)
	if !ok {
		return fail(c, http.StatusBadRequest, "unknown filter_type")
	}
	if !s.ws.Master().EQ().SetBandParams(band, eq.BandParams{
		FrequencyHz: req.FrequencyHz,
		GainDB:      req.GainDB,
		Q:           req.Q,
		FilterType:  filterType,
		Enabled:     req.Enabled,
	}) {
		return fail(c, http.StatusBadRequest, "eq band index out of range")
	}
	return s.masterUpdated(c, "set_master_eq_band")
}

func (s *Server) masterUpdated(c echo.Context, command string) error {
	state := s.ws.Master().State()
	s.ws.BroadcastMasterUpdate(state)
	s.recordAudit(command, 0)
	return ok(c, http.StatusOK, state)
}

func (s *Server) handleAes67Status(c echo.Context) error {
	return ok(c, http.StatusOK, s.ws.Aes67Status())
}

func (s *Server) handleAes67Streams(c echo.Context) error {
	return ok(c, http.StatusOK, s.ws.Aes67Streams())
}

type subscribeRequest struct {
	StartChannel *uint32 `json:"start_channel"`
}

func (s *Server) handleAes67Subscribe(c echo.Context) error {
	engine := s.ws.Engine()
	if engine == nil {
		return fail(c, http.StatusServiceUnavailable, "aes67 engine not available")
	}
	streamID := c.Param("id")
	var req subscribeRequest
	_ = c.Bind(&req)
	result, err := engine.CommandSender().SubscribeStream(streamID, req.StartChannel)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	s.recordAudit("subscribe_aes67_stream", 0)
	return ok(c, http.StatusOK, result)
}

func (s *Server) handleAes67Unsubscribe(c echo.Context) error {
	engine := s.ws.Engine()
	if engine == nil {
		return fail(c, http.StatusServiceUnavailable, "aes67 engine not available")
	}
	streamID := c.Param("id")
	if err := engine.CommandSender().UnsubscribeStream(streamID); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	s.recordAudit("unsubscribe_aes67_stream", 0)
	return ok(c, http.StatusOK, map[string]string{"stream_id": streamID})
}

func (s *Server) handleNotImplemented(c echo.Context) error {
	return fail(c, http.StatusNotImplemented, "not implemented")
}

func (s *Server) handleAudit(c echo.Context) error {
	audit := s.ws.Audit()
	if audit == nil {
		return ok(c, http.StatusOK, []store.AuditEntry{})
	}
	limit := 100
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil {
		limit = v
	}
	entries, err := audit.RecentCommands(c.Request().Context(), limit)
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	return ok(c, http.StatusOK, entries)
}

func (s *Server) handleDiscoveryHistory(c echo.Context) error {
	audit := s.ws.Audit()
	if audit == nil {
		return ok(c, http.StatusOK, []store.DiscoveryEvent{})
	}
	sessionID := c.Param("session_id")
	limit := 50
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil {
		limit = v
	}
	events, err := audit.DiscoveryHistory(c.Request().Context(), sessionID, limit)
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	return ok(c, http.StatusOK, events)
}
