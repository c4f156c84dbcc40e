package sound

import (
	"log"
	"sync"

	"yuhwa-talk/server/internal/config"
)

// Director 环境音导演。服务端不放音频：只按精神值分段决定当前应播的
// BGM 轨道名，并把轨道切换/暂停事件通知渲染端（gateway 注册 notify）。
// 分段：san>70 -> hum，0<san<=70 -> quiet，san<=0 -> glitch。
type Director struct {
	mu      sync.Mutex
	enabled bool
	tracks  map[string]string
	current string
	sanity  int
	paused  bool
	notify  func(track string, paused bool)
	logger  *log.Logger
}

func NewDirector(cfg config.SoundConfig, logger *log.Logger) *Director {
	if logger == nil {
		logger = log.Default()
	}
	return &Director{
		enabled: cfg.Enabled,
		tracks:  cfg.Tracks,
		sanity:  100,
		logger:  logger,
	}
}

// SetNotify 注册轨道事件回调。回调在锁外调用。
func (d *Director) SetNotify(fn func(track string, paused bool)) {
	d.mu.Lock()
	d.notify = fn
	d.mu.Unlock()
}

func trackForSanity(sanity int) string {
	switch {
	case sanity > 70:
		return "hum"
	case sanity > 0:
		return "quiet"
	default:
		return "glitch"
	}
}

// UpdateSanity 编排器在每次精神值变化后调用。
// 目标轨道变化时才发通知；未注册的轨道键只记日志不切换。
func (d *Director) UpdateSanity(sanity int) {
	d.mu.Lock()
	d.sanity = sanity
	if !d.enabled {
		d.mu.Unlock()
		return
	}

	target := trackForSanity(sanity)
	if target == d.current {
		d.mu.Unlock()
		return
	}
	if _, ok := d.tracks[target]; !ok {
		d.logger.Printf("[Sound] unknown bgm track %q (sanity %d)", target, sanity)
		d.mu.Unlock()
		return
	}
	prev := d.current
	d.current = target
	notify := d.notify
	paused := d.paused
	d.mu.Unlock()

	d.logger.Printf("[Sound] sanity %d: bgm %q -> %q", sanity, prev, target)
	if notify != nil && !paused {
		notify(target, false)
	}
}

// PauseForListening 录音期间压低环境音，避免混进麦克风。
func (d *Director) PauseForListening() {
	d.mu.Lock()
	if !d.enabled || d.paused {
		d.mu.Unlock()
		return
	}
	d.paused = true
	current := d.current
	notify := d.notify
	d.mu.Unlock()

	d.logger.Printf("[Sound] ambience paused for listening")
	if notify != nil {
		notify(current, true)
	}
}

// ResumeAfterListening 录音结束后恢复环境音。
func (d *Director) ResumeAfterListening() {
	d.mu.Lock()
	if !d.enabled || !d.paused {
		d.mu.Unlock()
		return
	}
	d.paused = false
	current := d.current
	notify := d.notify
	d.mu.Unlock()

	d.logger.Printf("[Sound] ambience resumed")
	if notify != nil {
		notify(current, false)
	}
}

func (d *Director) Current() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *Director) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}
