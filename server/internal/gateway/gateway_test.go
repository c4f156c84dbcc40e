package gateway

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type fakeLoop struct {
	mu      sync.Mutex
	submits []string
	skips   int
	resets  int
}

func (f *fakeLoop) Submit(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, text)
}

func (f *fakeLoop) Skip() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skips++
}

func (f *fakeLoop) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeLoop) submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submits...)
}

type fakePlayback struct {
	mu       sync.Mutex
	finished []string
}

func (f *fakePlayback) MarkFinished(handle string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, handle)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ---------------------------------------------------------------------------
// Revealer

func TestDialogueIndex(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"안녕하세요", 0},
		{"(미소 짓는다)\n안녕하세요", len([]rune("(미소 짓는다)\n"))},
		{"(닫히지 않은 괄호 안녕", 0},
	}
	for _, tc := range cases {
		if got := dialogueIndex(tc.text); got != tc.want {
			t.Errorf("dialogueIndex(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestRevealer_FiresDialogueStartOnce(t *testing.T) {
	var emitted []*ServerMessage
	var fired atomic.Int32
	r := NewRevealer(1000, func(msg *ServerMessage) { emitted = append(emitted, msg) }, nil)

	r.Reveal("(미소 짓는다)\n안녕하세요", func() { fired.Add(1) })

	if len(emitted) != 1 || emitted[0].Type != EventTypeReveal {
		t.Fatalf("emitted = %v", emitted)
	}
	if emitted[0].Metadata["dialogue_at"] != dialogueIndex("(미소 짓는다)\n안녕하세요") {
		t.Errorf("dialogue_at = %v", emitted[0].Metadata["dialogue_at"])
	}

	waitFor(t, "dialogue-start callback", func() bool { return fired.Load() == 1 })
	waitFor(t, "reveal finished", r.IsFinished)
	if fired.Load() != 1 {
		t.Errorf("callback fired %d times", fired.Load())
	}
}

func TestRevealer_SkipFiresPendingCallback(t *testing.T) {
	var fired atomic.Int32
	// 极慢的揭示速度：不跳过的话回调要等很久。
	r := NewRevealer(0.001, func(*ServerMessage) {}, nil)

	r.Reveal("(미소 짓는다)\n안녕하세요", func() { fired.Add(1) })
	if r.IsFinished() {
		t.Fatal("finished immediately at slow speed")
	}

	r.Skip()
	if fired.Load() != 1 {
		t.Errorf("callback fired %d times after skip", fired.Load())
	}
	if !r.IsFinished() {
		t.Error("not finished after skip")
	}

	r.Skip() // 重复 Skip 不再触发
	if fired.Load() != 1 {
		t.Errorf("callback fired %d times after double skip", fired.Load())
	}
}

func TestRevealer_NewRevealReplacesOld(t *testing.T) {
	var firstFired atomic.Int32
	r := NewRevealer(0.001, func(*ServerMessage) {}, nil)

	r.Reveal("(느리게)\n첫 번째", func() { firstFired.Add(1) })
	r.Reveal("두 번째", nil)

	time.Sleep(20 * time.Millisecond)
	if firstFired.Load() != 0 {
		t.Error("stale dialogue callback fired after replacement")
	}
}

func TestRevealer_NoActionTextFiresImmediately(t *testing.T) {
	var fired atomic.Int32
	r := NewRevealer(1000, func(*ServerMessage) {}, nil)
	r.Reveal("안녕하세요", func() { fired.Add(1) })
	waitFor(t, "immediate callback", func() bool { return fired.Load() == 1 })
}

// ---------------------------------------------------------------------------
// 消息路由

func TestHandleMessage_Routing(t *testing.T) {
	loop := &fakeLoop{}
	playback := &fakePlayback{}
	g := New(loop, playback, 20, testLogger())

	msgs := []string{
		`{"type": "submit", "text": "안녕"}`,
		`{"type": "submit", "text": ""}`,
		`{"type": "skip"}`,
		`{"type": "reset"}`,
		`{"type": "playback_finished", "handle": "out.wav"}`,
	}
	for _, m := range msgs {
		if err := g.handleMessage([]byte(m)); err != nil {
			t.Fatalf("handleMessage(%s): %v", m, err)
		}
	}

	if got := loop.submitted(); len(got) != 2 || got[0] != "안녕" || got[1] != "" {
		t.Errorf("submits = %v", got)
	}
	if loop.skips != 1 || loop.resets != 1 {
		t.Errorf("skips=%d resets=%d", loop.skips, loop.resets)
	}
	if len(playback.finished) != 1 || playback.finished[0] != "out.wav" {
		t.Errorf("finished = %v", playback.finished)
	}
}

func TestHandleMessage_MalformedAndUnknown(t *testing.T) {
	g := New(&fakeLoop{}, nil, 20, testLogger())
	if err := g.handleMessage([]byte("{not json")); err == nil {
		t.Error("malformed json accepted")
	}
	if err := g.handleMessage([]byte(`{"type": "teleport"}`)); err != nil {
		t.Errorf("unknown type must be ignored, got %v", err)
	}
}

func TestSend_WithoutConnectionIsNoop(t *testing.T) {
	g := New(&fakeLoop{}, nil, 20, testLogger())
	g.Send(&ServerMessage{Type: EventTypeInputGate}) // 不应 panic
	g.SetDisabled(true)
	g.NotifyAmbience("hum", false)
	g.NotifyAudio("out.wav", true)
}

// ---------------------------------------------------------------------------
// WebSocket 往返

func TestGateway_WebSocketRoundTrip(t *testing.T) {
	loop := &fakeLoop{}
	g := New(loop, nil, 20, testLogger())

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		go g.Attach(conn)
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// 入站：客户端提交文本。
	if err := conn.WriteJSON(ClientMessage{Type: EventTypeSubmit, Text: "안녕"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "submit routed", func() bool {
		return len(loop.submitted()) == 1
	})

	// 出站：seq 单调递增。
	g.SetDisabled(true)
	g.NotifyAmbience("hum", false)

	var first, second ServerMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first: %v", err)
	}
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read second: %v", err)
	}
	if first.Type != EventTypeInputGate || second.Type != EventTypeAmbience {
		t.Errorf("types = %s, %s", first.Type, second.Type)
	}
	if second.Seq <= first.Seq {
		t.Errorf("seq not monotonic: %d then %d", first.Seq, second.Seq)
	}
	if second.Text != "hum" {
		t.Errorf("ambience track = %q", second.Text)
	}
}
