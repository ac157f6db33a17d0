package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"mixconsole/server/internal/master"
	"mixconsole/server/internal/mixer"
	"mixconsole/server/internal/ws"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	h := ws.NewHandler(ws.Config{
		Hub:          ws.NewHub(),
		Mixer:        mixer.New(8, 2),
		Master:       master.New(),
		ServerName:   "test-console",
		SampleRate:   48000,
		AudioBackend: "local",
	})
	return New(h)
}

func TestHealthAndState(t *testing.T) {
	api := newTestServer(t)
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", resp.StatusCode)
	}

	stateResp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatalf("GET /api/state: %v", err)
	}
	defer stateResp.Body.Close()
	var envelope apiResponse
	if err := json.NewDecoder(stateResp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if !envelope.Success {
		t.Fatalf("expected success, got %#v", envelope)
	}
}

func TestSetFaderClamps(t *testing.T) {
	api := newTestServer(t)
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	body, _ := json.Marshal(map[string]float32{"value": 2.0})
	resp, err := http.Post(ts.URL+"/api/channels/0/fader", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST fader: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var envelope struct {
		Success bool         `json:"success"`
		Data    mixer.State  `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Fader > 1.25 {
		t.Fatalf("expected fader clamped to <= 1.25, got %v", envelope.Data.Fader)
	}
}

func TestSetFaderUnknownChannel(t *testing.T) {
	api := newTestServer(t)
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	body, _ := json.Marshal(map[string]float32{"value": 0.5})
	resp, err := http.Post(ts.URL+"/api/channels/99/fader", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST fader: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSetMasterEQBandClamps(t *testing.T) {
	api := newTestServer(t)
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	body, _ := json.Marshal(map[string]any{
		"frequency_hz": 99999.0,
		"gain_db":      99.0,
		"q":            0.5,
		"filter_type":  "peak",
		"enabled":      true,
	})
	resp, err := http.Post(ts.URL+"/api/master/eq/0", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST eq band: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var envelope struct {
		Success bool          `json:"success"`
		Data    master.State  `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(envelope.Data.EQBands) != 4 {
		t.Fatalf("expected 4 eq bands in state, got %d", len(envelope.Data.EQBands))
	}
	if envelope.Data.EQBands[0].FrequencyHz != 20000 {
		t.Fatalf("expected frequency clamped to 20000, got %v", envelope.Data.EQBands[0].FrequencyHz)
	}
}

func TestSetMasterEQBandOutOfRange(t *testing.T) {
	api := newTestServer(t)
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	body, _ := json.Marshal(map[string]any{"filter_type": "peak"})
	resp, err := http.Post(ts.URL+"/api/master/eq/9", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST eq band: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSceneRoutesAreNotImplemented(t *testing.T) {
	api := newTestServer(t)
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/scenes")
	if err != nil {
		t.Fatalf("GET /api/scenes: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", resp.StatusCode)
	}
}
