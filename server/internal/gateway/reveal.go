package gateway

import (
	"strings"
	"sync"
	"time"
)

// Revealer 服务端的逐字揭示时钟。客户端收到 reveal 消息后自行做
// 打字机动画，服务端只维护两件事：台词段开始的时刻（触发语音播放
// 回调）和揭示结束的时刻（编排器据此离开 Presenting）。
// 新的 Reveal 会直接顶掉未完成的旧揭示（上一回合文字还没走完时
// 允许开启新回合）。
type Revealer struct {
	mu       sync.Mutex
	cps      float64
	emit     func(*ServerMessage)
	now      func() time.Time
	timer    *time.Timer
	finishAt time.Time
	fired    bool
	callback func()
}

// NewRevealer cps 为每秒揭示的字符数，<=0 时取 20。
func NewRevealer(cps float64, emit func(*ServerMessage), now func() time.Time) *Revealer {
	if cps <= 0 {
		cps = 20
	}
	if now == nil {
		now = time.Now
	}
	if emit == nil {
		emit = func(*ServerMessage) {}
	}
	return &Revealer{cps: cps, emit: emit, now: now}
}

// dialogueIndex 台词段起点：文本以 "(행동)" 开头时跳过行动段与其换行，
// 否则从 0 开始。按 rune 计数。
func dialogueIndex(text string) int {
	if !strings.HasPrefix(text, "(") {
		return 0
	}
	end := strings.Index(text, ")\n")
	if end < 0 {
		return 0
	}
	return len([]rune(text[:end+2]))
}

// Reveal 开始揭示一段文本。onDialogueStart 在台词段起点的时刻触发
// （最多一次）；为 nil 时只做纯文本揭示。
func (r *Revealer) Reveal(text string, onDialogueStart func()) {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}

	runes := []rune(text)
	total := time.Duration(float64(len(runes)) / r.cps * float64(time.Second))
	dialogueAt := dialogueIndex(text)
	delay := time.Duration(float64(dialogueAt) / r.cps * float64(time.Second))

	r.finishAt = r.now().Add(total)
	r.fired = false
	r.callback = onDialogueStart
	if onDialogueStart != nil {
		r.timer = time.AfterFunc(delay, r.fireDialogueStart)
	}
	emit := r.emit
	r.mu.Unlock()

	emit(&ServerMessage{
		Type: EventTypeReveal,
		Text: text,
		Metadata: map[string]any{
			"chars_per_second": r.cps,
			"dialogue_at":      dialogueAt,
		},
	})
}

func (r *Revealer) fireDialogueStart() {
	r.mu.Lock()
	if r.fired || r.callback == nil {
		r.mu.Unlock()
		return
	}
	r.fired = true
	cb := r.callback
	r.mu.Unlock()
	cb()
}

// Skip 立即展示全文。未触发的台词回调会在这里补触发。
func (r *Revealer) Skip() {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.finishAt = r.now()
	emit := r.emit
	r.mu.Unlock()

	r.fireDialogueStart()
	emit(&ServerMessage{Type: EventTypeRevealSkip})
}

func (r *Revealer) IsFinished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.now().Before(r.finishAt)
}
