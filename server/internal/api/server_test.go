package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"yuhwa-talk/server/internal/affect"
	"yuhwa-talk/server/internal/config"
	"yuhwa-talk/server/internal/gateway"
	"yuhwa-talk/server/internal/llm"
	"yuhwa-talk/server/internal/model"
	"yuhwa-talk/server/internal/orchestrator"
	"yuhwa-talk/server/internal/persona"
	"yuhwa-talk/server/internal/timeline"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type stubInference struct{}

func (stubInference) RequestDialogue(llm.Request) bool { return true }
func (stubInference) RequestSummary(llm.Request) bool  { return true }
func (stubInference) PollDialogue() (string, bool)     { return "", false }
func (stubInference) PollSummary() (string, bool)      { return "", false }
func (stubInference) DialogueBusy() bool               { return false }

type stubSynth struct{}

func (stubSynth) Enabled() bool { return false }
func (stubSynth) Synthesize(string, string) (string, bool) {
	return "", false
}

type stubPlayer struct{}

func (stubPlayer) Play(string) {}

type stubRetriever struct{}

func (stubRetriever) Search(context.Context, string, int) []model.RetrievalHit { return nil }

type stubAmbience struct{}

func (stubAmbience) UpdateSanity(int)      {}
func (stubAmbience) PauseForListening()    {}
func (stubAmbience) ResumeAfterListening() {}

type stubReveal struct{}

func (stubReveal) Reveal(string, func()) {}
func (stubReveal) Skip()                 {}
func (stubReveal) IsFinished() bool      { return true }

type stubGate struct{}

func (stubGate) SetDisabled(bool) {}

type fixture struct {
	server *httptest.Server
	loop   *orchestrator.Loop
	cancel context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{}
	cfg.Session.ID = "test-session"
	cfg.Persona.Name = "유화"
	cfg.LLM.DialogueModel = "gemini-3-pro-preview"
	cfg.LLM.SummaryModel = "exaone3.5:7.8b"

	logger := quietLogger()
	state := affect.NewState(affect.KeywordConfig{SimilarityThreshold: 80, DecreaseAmount: 5}, logger)
	builder := persona.NewBuilder(cfg.Persona, cfg.LLM, logger)
	tl := timeline.NewInMemoryStore()

	orc := orchestrator.New(orchestrator.Deps{
		Affect:    state,
		Inference: stubInference{},
		Synth:     stubSynth{},
		Player:    stubPlayer{},
		Retriever: stubRetriever{},
		Persona:   builder,
		Ambience:  stubAmbience{},
		Reveal:    stubReveal{},
		Input:     stubGate{},
		Timeline:  tl,
		SessionID: cfg.Session.ID,
		Logger:    logger,
	})
	loop := orchestrator.NewLoop(orc, 5*time.Millisecond, logger)
	gw := gateway.New(loop, nil, 20, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	srv := NewServer(cfg, loop, gw, tl)
	ts := httptest.NewServer(srv.Routes())
	f := &fixture{server: ts, loop: loop, cancel: cancel}
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return f
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func (f *fixture) post(t *testing.T, path, payload string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func waitForTurn(t *testing.T, f *fixture, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.loop.Status().Turn == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("turn never reached %d (now %d)", want, f.loop.Status().Turn)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, body := f.get(t, "/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "ok") {
		t.Errorf("body = %s", body)
	}
}

func TestStatus_Defaults(t *testing.T) {
	f := newFixture(t)
	resp, body := f.get(t, "/api/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var got model.StatusSummary
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Likability != 50 || got.Sanity != 100 || got.Turn != 0 {
		t.Errorf("status = %+v", got)
	}
	if got.SanityLabel != "안정" || got.LikabilityLabel != "호기심" {
		t.Errorf("labels = %q / %q", got.SanityLabel, got.LikabilityLabel)
	}
}

func TestSubmit_AdvancesTurnAndLogsTimeline(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.post(t, "/api/submit", `{"text": "안녕"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	waitForTurn(t, f, 1)

	_, body := f.get(t, "/api/timeline")
	var listed struct {
		SessionID string            `json:"session_id"`
		Events    []model.TurnEvent `json:"events"`
	}
	if err := json.Unmarshal(body, &listed); err != nil {
		t.Fatalf("unmarshal timeline: %v", err)
	}
	if listed.SessionID != "test-session" {
		t.Errorf("session_id = %q", listed.SessionID)
	}
	found := false
	for _, evt := range listed.Events {
		if evt.Type == "user_message" && evt.Text == "안녕" {
			found = true
		}
	}
	if !found {
		t.Errorf("user_message not logged: %+v", listed.Events)
	}
}

func TestSubmit_InvalidJSON(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.post(t, "/api/submit", "{broken")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestDebugAffect_ClampsAndReturnsStatus(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/api/debug/affect", `{"sanity": 500, "likability": -10}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got model.StatusSummary
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Sanity != 100 || got.Likability != 0 {
		t.Errorf("clamped status = %+v", got)
	}

	resp, _ = f.post(t, "/api/debug/affect", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty request status = %d", resp.StatusCode)
	}
}

func TestReset_RestoresDefaults(t *testing.T) {
	f := newFixture(t)
	f.post(t, "/api/debug/affect", `{"sanity": 10, "likability": 90}`)

	resp, body := f.post(t, "/api/reset", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got model.StatusSummary
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Likability != 50 || got.Sanity != 100 || got.Turn != 0 {
		t.Errorf("status after reset = %+v", got)
	}
}

func TestWS_SubmitRoutedThroughGateway(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(gateway.ClientMessage{Type: gateway.EventTypeSubmit, Text: "안녕"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitForTurn(t, f, 1)
}
