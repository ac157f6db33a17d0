// Package protocol defines the JSON wire envelope for the mixer's WebSocket
// control connection: a {"type","payload"} discriminated envelope mirroring
// shared/protocol/src/messages.rs, built in the same flat-tagged-struct
// style as the original voice-chat wire protocol.
package protocol

import "encoding/json"

// Client -> server message type tags.
const (
	TypeHello                 = "hello"
	TypePing                  = "ping"
	TypeSetFader              = "set_fader"
	TypeSetMute               = "set_mute"
	TypeSetSolo               = "set_solo"
	TypeSetPan                = "set_pan"
	TypeSetGain               = "set_gain"
	TypeSetChannelName        = "set_channel_name"
	TypeSetChannelColor       = "set_channel_color"
	TypeSetRouting            = "set_routing"
	TypeSetRoutingUnity       = "set_routing_unity"
	TypeClearRouting          = "clear_routing"
	TypeSaveScene             = "save_scene"
	TypeRecallScene           = "recall_scene"
	TypeDeleteScene           = "delete_scene"
	TypeGetState              = "get_state"
	TypeGetServerInfo         = "get_server_info"
	TypeGetScenes             = "get_scenes"
	TypeSubscribeMeters       = "subscribe_meters"
	TypeGetAes67Status        = "get_aes67_status"
	TypeGetAes67Streams       = "get_aes67_streams"
	TypeSubscribeAes67Stream  = "subscribe_aes67_stream"
	TypeUnsubscribeAes67Stream = "unsubscribe_aes67_stream"
	TypeRefreshAes67          = "refresh_aes67"
)

// Server -> client message type tags.
const (
	TypeWelcome            = "welcome"
	TypePong               = "pong"
	TypeError              = "error"
	TypeChannelUpdated     = "channel_updated"
	TypeRoutingUpdated     = "routing_updated"
	TypeState              = "state"
	TypeServerInfo         = "server_info"
	TypeMeters             = "meters"
	TypeScenes             = "scenes"
	TypeSceneSaved         = "scene_saved"
	TypeSceneRecalled      = "scene_recalled"
	TypeClientConnected    = "client_connected"
	TypeClientDisconnected = "client_disconnected"
	TypeAes67Status        = "aes67_status"
	TypeAes67Streams       = "aes67_streams"
	TypeAes67Subscribed    = "aes67_subscribed"
	TypeAes67Unsubscribed  = "aes67_unsubscribed"
	TypeClientCountChanged = "client_count_changed"
	TypeMasterUpdated      = "master_updated"
)

// Error codes for the error payload.
const (
	ErrCodeInvalidChannel = "INVALID_CHANNEL"
	ErrCodeInvalidValue   = "INVALID_VALUE"
	ErrCodeNotImplemented = "NOT_IMPLEMENTED"
	ErrCodeBadRequest     = "PARSE_ERROR"
	ErrCodeInternal       = "INTERNAL"
)

// Envelope is the JSON frame exchanged in both directions: a type
// discriminator and an arbitrary typed payload, deferred decoding via
// RawMessage so the hub can dispatch on Type before unmarshaling Payload
// into the concrete request struct.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func Encode(msgType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}

// --- Client request payloads ---

type HelloPayload struct {
	Name        string   `json:"name"`
	ClientType  string   `json:"client_type"`
	Version     string   `json:"version"`
	Features    []string `json:"features,omitempty"`
}

type PingPayload struct {
	Timestamp uint64 `json:"timestamp"`
}

type ChannelFaderPayload struct {
	Channel uint32  `json:"channel"`
	Value   float32 `json:"value"`
}

type ChannelMutePayload struct {
	Channel uint32 `json:"channel"`
	Muted   bool   `json:"muted"`
}

type ChannelSoloPayload struct {
	Channel uint32 `json:"channel"`
	Solo    bool   `json:"solo"`
}

type ChannelPanPayload struct {
	Channel uint32  `json:"channel"`
	Value   float32 `json:"value"`
}

type ChannelGainPayload struct {
	Channel uint32  `json:"channel"`
	Value   float32 `json:"value"`
}

type ChannelNamePayload struct {
	Channel uint32 `json:"channel"`
	Name    string `json:"name"`
}

type ChannelColorPayload struct {
	Channel uint32 `json:"channel"`
	Color   string `json:"color"`
}

type SetRoutingPayload struct {
	Input  uint32  `json:"input"`
	Output uint32  `json:"output"`
	Gain   float32 `json:"gain"`
}

type SaveScenePayload struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type SceneIDPayload struct {
	ID uint32 `json:"id"`
}

type SubscribeMetersPayload struct {
	Enabled    bool    `json:"enabled"`
	IntervalMS *uint32 `json:"interval_ms,omitempty"`
}

type SubscribeAes67StreamPayload struct {
	StreamID     string  `json:"stream_id"`
	StartChannel *uint32 `json:"start_channel,omitempty"`
}

type UnsubscribeAes67StreamPayload struct {
	StreamID string `json:"stream_id"`
}

// --- Shared domain shapes ---

type ChannelState struct {
	ID          uint32  `json:"id"`
	Name        string  `json:"name"`
	Fader       float32 `json:"fader"`
	Mute        bool    `json:"mute"`
	Solo        bool    `json:"solo"`
	Pan         float32 `json:"pan"`
	Gain        float32 `json:"gain"`
	PhaseInvert bool    `json:"phase_invert"`
	Color       string  `json:"color"`
	Meter       float32 `json:"meter"`
}

type MixerState struct {
	Channels    []ChannelState `json:"channels"`
	Routing     [][]float32    `json:"routing"`
	InputCount  uint32         `json:"input_count"`
	OutputCount uint32         `json:"output_count"`
}

type MeterData struct {
	Peaks     []float32 `json:"peaks"`
	Timestamp uint64    `json:"timestamp"`
}

type Scene struct {
	ID          uint32     `json:"id"`
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	State       MixerState `json:"state"`
	CreatedAt   uint64     `json:"created_at"`
	UpdatedAt   uint64     `json:"updated_at"`
}

type ServerInfo struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	InputCount   uint32 `json:"input_count"`
	OutputCount  uint32 `json:"output_count"`
	SampleRate   uint32 `json:"sample_rate"`
	ClientCount  uint32 `json:"client_count"`
	AudioBackend string `json:"audio_backend"`
}

type Aes67Status struct {
	State        string  `json:"state"`
	OffsetNS     int64   `json:"offset_ns"`
	SyncCount    uint64  `json:"sync_count"`
	Connected    bool    `json:"connected"`
	LatencyMS    float32 `json:"latency_ms"`
	PacketsLost  uint32  `json:"packets_lost"`
	FractionLost uint8   `json:"fraction_lost"`
}

// MasterState mirrors internal/master.State for the wire; the REST facade
// supplements the minimal client tag list with master-bus control, and
// broadcasts the result here so websocket subscribers see it too.
type MasterState struct {
	Fader              float32 `json:"fader"`
	Mute               bool    `json:"mute"`
	DimEnabled         bool    `json:"dim_enabled"`
	DimDB              float32 `json:"dim_db"`
	MonoSum            bool    `json:"mono_sum"`
	LimiterEnabled     bool    `json:"limiter_enabled"`
	LimiterThresholdDB float32 `json:"limiter_threshold_db"`
	LimiterRatio       float32 `json:"limiter_ratio"`
	OscEnabled         bool    `json:"osc_enabled"`
	OscFreq            float32 `json:"osc_freq"`
	OscLevelDB         float32 `json:"osc_level_db"`
	PeakL              float32 `json:"peak_l"`
	PeakR              float32 `json:"peak_r"`
	GainReductionDB    float32 `json:"gain_reduction_db"`
}

type Aes67StreamInfo struct {
	SessionID     string `json:"session_id"`
	Name          string `json:"name"`
	Origin        string `json:"origin"`
	MulticastAddr string `json:"multicast_addr"`
	Port          uint16 `json:"port"`
	Channels      uint8  `json:"channels"`
	SampleRate    uint32 `json:"sample_rate"`
}

// --- Server response payloads ---

type WelcomePayload struct {
	ServerInfo ServerInfo `json:"server_info"`
	State      MixerState `json:"state"`
}

type PongPayload struct {
	Timestamp  uint64 `json:"timestamp"`
	ServerTime uint64 `json:"server_time"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RoutingUpdatedPayload struct {
	Input  uint32  `json:"input"`
	Output uint32  `json:"output"`
	Gain   float32 `json:"gain"`
}

type SceneSavedPayload struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
}

type ClientConnectedPayload struct {
	Name       string `json:"name"`
	ClientType string `json:"client_type"`
}

type ClientDisconnectedPayload struct {
	Name string `json:"name"`
}

type Aes67SubscribedPayload struct {
	StreamID     string `json:"stream_id"`
	StreamName   string `json:"stream_name"`
	Channels     uint8  `json:"channels"`
	StartChannel uint32 `json:"start_channel"`
}

type Aes67UnsubscribedPayload struct {
	StreamID string `json:"stream_id"`
}

type ClientCountChangedPayload struct {
	Count uint32 `json:"count"`
}
