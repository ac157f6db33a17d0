package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"mixconsole/server/internal/protocol"
)

// dispatch decodes one inbound envelope, applies it, and returns the direct
// reply plus whether that same reply should also be broadcast to every
// subscriber. Broadcast is true for state-mutating commands and
// false for queries, Hello, and Ping.
func dispatch(s *session, env protocol.Envelope) (protocol.Envelope, bool) {
	h := s.handler

	switch env.Type {
	case protocol.TypeHello:
		var p protocol.HelloPayload
		_ = json.Unmarshal(env.Payload, &p)
		s.nameValue.Store(p.Name)
		if p.Name != "" {
			h.hub.Broadcast(mustEnvelope(protocol.TypeClientConnected, protocol.ClientConnectedPayload{
				Name:       p.Name,
				ClientType: p.ClientType,
			}))
		}
		return mustEnvelope(protocol.TypeServerInfo, currentServerInfo(h)), false

	case protocol.TypePing:
		var p protocol.PingPayload
		_ = json.Unmarshal(env.Payload, &p)
		return mustEnvelope(protocol.TypePong, protocol.PongPayload{
			Timestamp:  p.Timestamp,
			ServerTime: uint64(time.Now().UnixMilli()),
		}), false

	case protocol.TypeSetFader:
		var p protocol.ChannelFaderPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return parseError(err), false
		}
		st, ok := h.mixer.SetFader(p.Channel, p.Value)
		if !ok {
			return channelError(p.Channel), false
		}
		return mustEnvelope(protocol.TypeChannelUpdated, toProtoChannel(st)), true

	case protocol.TypeSetMute:
		var p protocol.ChannelMutePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return parseError(err), false
		}
		st, ok := h.mixer.SetMute(p.Channel, p.Muted)
		if !ok {
			return channelError(p.Channel), false
		}
		return mustEnvelope(protocol.TypeChannelUpdated, toProtoChannel(st)), true

	case protocol.TypeSetSolo:
		var p protocol.ChannelSoloPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return parseError(err), false
		}
		st, ok := h.mixer.SetSolo(p.Channel, p.Solo)
		if !ok {
			return channelError(p.Channel), false
		}
		return mustEnvelope(protocol.TypeChannelUpdated, toProtoChannel(st)), true

	case protocol.TypeSetPan:
		var p protocol.ChannelPanPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return parseError(err), false
		}
		st, ok := h.mixer.SetPan(p.Channel, p.Value)
		if !ok {
			return channelError(p.Channel), false
		}
		return mustEnvelope(protocol.TypeChannelUpdated, toProtoChannel(st)), true

	case protocol.TypeSetGain:
		var p protocol.ChannelGainPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return parseError(err), false
		}
		st, ok := h.mixer.SetGain(p.Channel, p.Value)
		if !ok {
			return channelError(p.Channel), false
		}
		return mustEnvelope(protocol.TypeChannelUpdated, toProtoChannel(st)), true

	case protocol.TypeSetChannelName:
		var p protocol.ChannelNamePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return parseError(err), false
		}
		st, ok := h.mixer.SetChannelName(p.Channel, p.Name)
		if !ok {
			return channelError(p.Channel), false
		}
		return mustEnvelope(protocol.TypeChannelUpdated, toProtoChannel(st)), true

	case protocol.TypeSetChannelColor:
		var p protocol.ChannelColorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return parseError(err), false
		}
		st, ok := h.mixer.SetChannelColor(p.Channel, p.Color)
		if !ok {
			return channelError(p.Channel), false
		}
		return mustEnvelope(protocol.TypeChannelUpdated, toProtoChannel(st)), true

	case protocol.TypeSetRouting:
		var p protocol.SetRoutingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return parseError(err), false
		}
		if !h.mixer.SetRouting(int(p.Input), int(p.Output), p.Gain) {
			return invalidError("routing index out of range"), false
		}
		return mustEnvelope(protocol.TypeRoutingUpdated, protocol.RoutingUpdatedPayload(p)), true

	case protocol.TypeSetRoutingUnity:
		h.mixer.Routing().SetUnity()
		return mustEnvelope(protocol.TypeState, toProtoState(h.mixer.GetState())), true

	case protocol.TypeClearRouting:
		h.mixer.Routing().Clear()
		return mustEnvelope(protocol.TypeState, toProtoState(h.mixer.GetState())), true

	case protocol.TypeGetState:
		return mustEnvelope(protocol.TypeState, toProtoState(h.mixer.GetState())), false

	case protocol.TypeGetServerInfo:
		return mustEnvelope(protocol.TypeServerInfo, currentServerInfo(h)), false

	case protocol.TypeSubscribeMeters:
		var p protocol.SubscribeMetersPayload
		_ = json.Unmarshal(env.Payload, &p)
		s.metersOn.Store(p.Enabled)
		return protocol.Envelope{}, false

	case protocol.TypeGetAes67Status:
		return mustEnvelope(protocol.TypeAes67Status, aes67StatusPayload(h)), false

	case protocol.TypeGetAes67Streams:
		return mustEnvelope(protocol.TypeAes67Streams, aes67StreamsPayload(h)), false

	case protocol.TypeSubscribeAes67Stream:
		var p protocol.SubscribeAes67StreamPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return parseError(err), false
		}
		if h.engine == nil {
			return invalidError("aes67 engine not available"), false
		}
		result, err := h.engine.CommandSender().SubscribeStream(p.StreamID, p.StartChannel)
		if err != nil {
			return invalidError(err.Error()), false
		}
		return mustEnvelope(protocol.TypeAes67Subscribed, protocol.Aes67SubscribedPayload{
			StreamID:     result.StreamID,
			StreamName:   result.StreamName,
			Channels:     result.Channels,
			StartChannel: result.StartChannel,
		}), true

	case protocol.TypeUnsubscribeAes67Stream:
		var p protocol.UnsubscribeAes67StreamPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return parseError(err), false
		}
		if h.engine == nil {
			return invalidError("aes67 engine not available"), false
		}
		if err := h.engine.CommandSender().UnsubscribeStream(p.StreamID); err != nil {
			return invalidError(err.Error()), false
		}
		return mustEnvelope(protocol.TypeAes67Unsubscribed, protocol.Aes67UnsubscribedPayload{StreamID: p.StreamID}), true

	case protocol.TypeRefreshAes67:
		// Discovery runs continuously in the background; refresh just
		// reports the current snapshot, but it is still a state-mutating
		// trigger from the client's perspective so it broadcasts.
		return mustEnvelope(protocol.TypeAes67Streams, aes67StreamsPayload(h)), true

	// save_scene/recall_scene/delete_scene/get_scenes are recognized but the
	// scene store is treated as an out-of-scope external collaborator;
	// this mirrors the original's own unimplemented match arms.
	case protocol.TypeSaveScene, protocol.TypeRecallScene, protocol.TypeDeleteScene, protocol.TypeGetScenes:
		return notImplementedError(env.Type), false

	default:
		return notImplementedError(env.Type), false
	}
}

func currentServerInfo(h *Handler) protocol.ServerInfo {
	return protocol.ServerInfo{
		Name:         h.serverName,
		Version:      "1.0",
		InputCount:   uint32(h.mixer.InputCount()),
		OutputCount:  uint32(h.mixer.OutputCount()),
		SampleRate:   h.sampleRate,
		ClientCount:  uint32(h.hub.Count()),
		AudioBackend: h.audioBackend,
	}
}

func aes67StatusPayload(h *Handler) protocol.Aes67Status {
	if h.backend == nil {
		return protocol.Aes67Status{State: "disabled"}
	}
	clock := h.backend.Clock()
	stats := clock.Stats()
	report := h.backend.ReceptionReport()
	return protocol.Aes67Status{
		State:        clock.State().String(),
		OffsetNS:     stats.OffsetNS,
		SyncCount:    stats.SyncCount,
		Connected:    h.backend.IsConnected(),
		LatencyMS:    float32(h.backend.Latency()) / float32(h.sampleRate) * 1000,
		PacketsLost:  report.TotalLost,
		FractionLost: report.FractionLost,
	}
}

func aes67StreamsPayload(h *Handler) []protocol.Aes67StreamInfo {
	if h.backend == nil {
		return nil
	}
	streams := h.backend.Discovery().Streams()
	out := make([]protocol.Aes67StreamInfo, len(streams))
	for i, st := range streams {
		out[i] = protocol.Aes67StreamInfo{
			SessionID:     st.SessionID,
			Name:          st.Name,
			Origin:        st.Origin,
			MulticastAddr: st.MulticastAddr,
			Port:          st.Port,
			Channels:      st.Channels,
			SampleRate:    st.SampleRate,
		}
	}
	return out
}

func parseError(err error) protocol.Envelope {
	return mustEnvelope(protocol.TypeError, protocol.ErrorPayload{
		Code:    protocol.ErrCodeBadRequest,
		Message: fmt.Sprintf("parse error: %v", err),
	})
}

func invalidError(msg string) protocol.Envelope {
	return mustEnvelope(protocol.TypeError, protocol.ErrorPayload{Code: protocol.ErrCodeInvalidValue, Message: msg})
}

func channelError(id uint32) protocol.Envelope {
	return mustEnvelope(protocol.TypeError, protocol.ErrorPayload{
		Code:    protocol.ErrCodeInvalidChannel,
		Message: fmt.Sprintf("channel %d not found", id),
	})
}

func notImplementedError(msgType string) protocol.Envelope {
	return mustEnvelope(protocol.TypeError, protocol.ErrorPayload{
		Code:    protocol.ErrCodeNotImplemented,
		Message: fmt.Sprintf("unsupported message type: %s", msgType),
	})
}
