package sound

import (
	"io"
	"log"
	"testing"

	"yuhwa-talk/server/internal/config"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testSoundConfig() config.SoundConfig {
	return config.SoundConfig{
		Enabled: true,
		Tracks: map[string]string{
			"hum":    "assets/bgm/hum.ogg",
			"quiet":  "assets/bgm/quiet.ogg",
			"glitch": "assets/bgm/glitch.ogg",
		},
	}
}

func TestTrackForSanity(t *testing.T) {
	cases := []struct {
		sanity int
		want   string
	}{
		{100, "hum"}, {71, "hum"},
		{70, "quiet"}, {1, "quiet"},
		{0, "glitch"}, {-5, "glitch"},
	}
	for _, tc := range cases {
		if got := trackForSanity(tc.sanity); got != tc.want {
			t.Errorf("trackForSanity(%d) = %q, want %q", tc.sanity, got, tc.want)
		}
	}
}

func TestUpdateSanity_SwitchesOnBandChangeOnly(t *testing.T) {
	var events []string
	d := NewDirector(testSoundConfig(), testLogger())
	d.SetNotify(func(track string, paused bool) {
		events = append(events, track)
	})

	d.UpdateSanity(100)
	d.UpdateSanity(95) // 同一分段，不切换
	d.UpdateSanity(60)
	d.UpdateSanity(40) // 同一分段
	d.UpdateSanity(0)

	want := []string{"hum", "quiet", "glitch"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, events[i], want[i])
		}
	}
	if d.Current() != "glitch" {
		t.Errorf("current = %q", d.Current())
	}
}

func TestUpdateSanity_DisabledStaysQuiet(t *testing.T) {
	d := NewDirector(config.SoundConfig{Enabled: false}, testLogger())
	called := false
	d.SetNotify(func(track string, paused bool) { called = true })

	d.UpdateSanity(10)
	if called || d.Current() != "" {
		t.Error("disabled director still switched tracks")
	}
}

func TestUpdateSanity_UnregisteredTrackIgnored(t *testing.T) {
	d := NewDirector(config.SoundConfig{
		Enabled: true,
		Tracks:  map[string]string{"hum": "assets/bgm/hum.ogg"},
	}, testLogger())
	d.UpdateSanity(100)
	d.UpdateSanity(50) // quiet 未注册
	if d.Current() != "hum" {
		t.Errorf("current = %q, want hum kept", d.Current())
	}
}

func TestPauseResumeForListening(t *testing.T) {
	type event struct {
		track  string
		paused bool
	}
	var events []event
	d := NewDirector(testSoundConfig(), testLogger())
	d.SetNotify(func(track string, paused bool) {
		events = append(events, event{track, paused})
	})

	d.UpdateSanity(100)
	d.PauseForListening()
	if !d.Paused() {
		t.Fatal("not paused")
	}
	d.PauseForListening() // 重复暂停是 no-op

	// 暂停期间段位变化不发通知，但状态要跟上。
	d.UpdateSanity(50)
	d.ResumeAfterListening()
	d.ResumeAfterListening() // 重复恢复是 no-op

	want := []event{
		{"hum", false},
		{"hum", true},
		{"quiet", false},
	}
	if len(events) != len(want) {
		t.Fatalf("events = %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %v, want %v", i, events[i], want[i])
		}
	}
	if d.Current() != "quiet" {
		t.Errorf("current = %q, want quiet", d.Current())
	}
}
