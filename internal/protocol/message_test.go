package protocol

import (
	"encoding/json"
	"testing"
)

func TestEncodeProducesTypeAndPayload(t *testing.T) {
	env, err := Encode(TypeSetFader, ChannelFaderPayload{Channel: 3, Value: 0.75})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if env.Type != TypeSetFader {
		t.Fatalf("type = %q, want %q", env.Type, TypeSetFader)
	}

	var decoded ChannelFaderPayload
	if err := json.Unmarshal(env.Payload, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.Channel != 3 || decoded.Value != 0.75 {
		t.Fatalf("decoded payload = %+v, want channel=3 value=0.75", decoded)
	}
}

func TestEnvelopeRoundTripsThroughJSON(t *testing.T) {
	env, err := Encode(TypeError, ErrorPayload{Code: ErrCodeInvalidChannel, Message: "no such channel"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	var got Envelope
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if got.Type != TypeError {
		t.Fatalf("type = %q, want %q", got.Type, TypeError)
	}

	var payload ErrorPayload
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if payload.Code != ErrCodeInvalidChannel || payload.Message != "no such channel" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestMixerStateEnvelope(t *testing.T) {
	state := MixerState{
		Channels: []ChannelState{
			{ID: 0, Name: "Ch 1", Fader: 0.75, Pan: 0, Gain: 0, Color: "#ffffff"},
		},
		Routing:     [][]float32{{1, 0}, {0, 1}},
		InputCount:  1,
		OutputCount: 2,
	}
	env, err := Encode(TypeState, state)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got MixerState
	if err := json.Unmarshal(env.Payload, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Channels) != 1 || got.Channels[0].Name != "Ch 1" {
		t.Fatalf("channels = %+v", got.Channels)
	}
	if got.InputCount != 1 || got.OutputCount != 2 {
		t.Fatalf("counts = %d/%d, want 1/2", got.InputCount, got.OutputCount)
	}
}
