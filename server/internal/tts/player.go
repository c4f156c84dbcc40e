package tts

import (
	"log"
	"sync"
)

// Player 播放状态机。服务端不碰音频设备：Play 只负责维护
// 「至多一个在播句柄」的不变量，并把开始/停止事件通知给渲染端
// （由 gateway 注册 notify，把事件推给 WebSocket 客户端）。
type Player struct {
	mu      sync.Mutex
	current string
	playing bool
	notify  func(handle string, playing bool)
	logger  *log.Logger
}

func NewPlayer(logger *log.Logger) *Player {
	if logger == nil {
		logger = log.Default()
	}
	return &Player{logger: logger}
}

// SetNotify 注册播放事件回调。回调在锁外调用。
func (p *Player) SetNotify(fn func(handle string, playing bool)) {
	p.mu.Lock()
	p.notify = fn
	p.mu.Unlock()
}

// Play 开始播放一个句柄。已有在播内容时先停掉它。
func (p *Player) Play(handle string) {
	p.mu.Lock()
	prev := ""
	if p.playing {
		prev = p.current
	}
	p.current = handle
	p.playing = true
	notify := p.notify
	p.mu.Unlock()

	if prev != "" {
		p.logger.Printf("[Player] stopping %s for new playback", prev)
		if notify != nil {
			notify(prev, false)
		}
	}
	p.logger.Printf("[Player] playing %s", handle)
	if notify != nil {
		notify(handle, true)
	}
}

func (p *Player) Stop() {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return
	}
	handle := p.current
	p.playing = false
	p.current = ""
	notify := p.notify
	p.mu.Unlock()

	p.logger.Printf("[Player] stopped %s", handle)
	if notify != nil {
		notify(handle, false)
	}
}

// MarkFinished 渲染端上报播放自然结束时调用。
func (p *Player) MarkFinished(handle string) {
	p.mu.Lock()
	if p.playing && p.current == handle {
		p.playing = false
		p.current = ""
	}
	p.mu.Unlock()
}

func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *Player) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}
