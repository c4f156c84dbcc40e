package tts

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"yuhwa-talk/server/internal/config"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func baseTTSConfig(url, outputPath string) config.TTSConfig {
	return config.TTSConfig{
		Enabled:        true,
		APIURL:         url,
		TextLang:       "ko",
		OutputPath:     outputPath,
		DefaultEmotion: "neutral",
		EmotionMaps: map[string]config.VoiceProfile{
			"neutral": {Path: "ref/neutral.wav", Text: "그냥 평범한 하루였어.", Lang: "ko"},
			"angry":   {Path: "ref/angry.wav", Text: "지금 뭐라고 했어?", Lang: "ko"},
		},
		LabelMap: map[string]string{
			"평온": "neutral",
			"분노": "angry",
			"짜증": "angry",
		},
		Synthesis: config.SynthesisParams{
			SpeedFactor: 1.0,
			Temperature: 1.0,
			TopP:        0.9,
			Timeout:     2 * time.Second,
		},
	}
}

func TestSynthesize_WavBody(t *testing.T) {
	wav := []byte("RIFFfakewavdata")
	var gotReq synthesisRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(wav)
	}))
	defer server.Close()

	out := filepath.Join(t.TempDir(), "resp.wav")
	s := NewSynthesizer(baseTTSConfig(server.URL, out), testLogger())

	path, ok := s.Synthesize("지금 뭐 하는 거야", "분노")
	if !ok {
		t.Fatal("expected audio handle")
	}
	if path != out {
		t.Errorf("path = %q, want %q", path, out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != string(wav) {
		t.Error("written audio differs from response body")
	}
	if gotReq.RefAudioPath != "ref/angry.wav" || gotReq.PromptText != "지금 뭐라고 했어?" {
		t.Errorf("voice profile not applied: %+v", gotReq)
	}
}

func TestSynthesize_JSONEnvelopeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(synthesisEnvelope{Status: "success", AudioPath: "/tmp/out.wav"})
	}))
	defer server.Close()

	s := NewSynthesizer(baseTTSConfig(server.URL, ""), testLogger())
	path, ok := s.Synthesize("안녕", "평온")
	if !ok || path != "/tmp/out.wav" {
		t.Errorf("path=%q ok=%v", path, ok)
	}
}

func TestSynthesize_JSONEnvelopeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(synthesisEnvelope{Status: "error", Message: "ref audio not found"})
	}))
	defer server.Close()

	s := NewSynthesizer(baseTTSConfig(server.URL, ""), testLogger())
	if _, ok := s.Synthesize("안녕", "평온"); ok {
		t.Error("failure envelope must return absent")
	}
}

func TestSynthesize_AbsentPaths(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be called")
	}))
	defer server.Close()

	disabled := NewSynthesizer(config.TTSConfig{Enabled: false, APIURL: server.URL}, testLogger())
	if _, ok := disabled.Synthesize("안녕", "평온"); ok {
		t.Error("disabled synthesizer returned a handle")
	}

	s := NewSynthesizer(baseTTSConfig(server.URL, ""), testLogger())
	if _, ok := s.Synthesize("   ", "평온"); ok {
		t.Error("blank text returned a handle")
	}
}

func TestSynthesize_NetworkErrorReturnsAbsent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused

	s := NewSynthesizer(baseTTSConfig(server.URL, ""), testLogger())
	if _, ok := s.Synthesize("안녕", "평온"); ok {
		t.Error("network failure returned a handle")
	}
}

func TestSynthesize_UnknownEmotionFallsBackToDefault(t *testing.T) {
	var gotReq synthesisRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte("RIFF"))
	}))
	defer server.Close()

	out := filepath.Join(t.TempDir(), "resp.wav")
	s := NewSynthesizer(baseTTSConfig(server.URL, out), testLogger())
	if _, ok := s.Synthesize("모르는 감정", "선악과적분노"); !ok {
		t.Fatal("expected default-profile synthesis")
	}
	if gotReq.RefAudioPath != "ref/neutral.wav" {
		t.Errorf("ref path = %q, want default profile", gotReq.RefAudioPath)
	}
}

func TestNewSynthesizer_DisablesItselfWithoutURL(t *testing.T) {
	s := NewSynthesizer(config.TTSConfig{Enabled: true}, testLogger())
	if s.Enabled() {
		t.Error("synthesizer with no api_url should disable itself")
	}
}

func TestPlayer_AtMostOneActivePlayback(t *testing.T) {
	var events []string
	p := NewPlayer(testLogger())
	p.SetNotify(func(handle string, playing bool) {
		state := "stop"
		if playing {
			state = "play"
		}
		events = append(events, state+":"+handle)
	})

	p.Play("a.wav")
	if !p.IsPlaying() || p.Current() != "a.wav" {
		t.Fatalf("state after first Play: playing=%v current=%q", p.IsPlaying(), p.Current())
	}

	p.Play("b.wav")
	if p.Current() != "b.wav" {
		t.Errorf("current = %q, want b.wav", p.Current())
	}

	want := []string{"play:a.wav", "stop:a.wav", "play:b.wav"}
	if len(events) != len(want) {
		t.Fatalf("events = %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, events[i], want[i])
		}
	}

	p.Stop()
	if p.IsPlaying() {
		t.Error("still playing after Stop")
	}
	p.Stop() // 重复 Stop 是 no-op
	if got := len(events); got != 4 {
		t.Errorf("events after double Stop = %d, want 4", got)
	}
}

func TestPlayer_MarkFinished(t *testing.T) {
	p := NewPlayer(testLogger())
	p.Play("a.wav")

	p.MarkFinished("other.wav")
	if !p.IsPlaying() {
		t.Error("finish report for a different handle cleared playback")
	}

	p.MarkFinished("a.wav")
	if p.IsPlaying() {
		t.Error("still playing after MarkFinished")
	}
}
