package orchestrator

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"yuhwa-talk/server/internal/affect"
	"yuhwa-talk/server/internal/llm"
	"yuhwa-talk/server/internal/model"
	"yuhwa-talk/server/internal/persona"
	"yuhwa-talk/server/internal/rag"
	"yuhwa-talk/server/internal/timeline"
)

// State 编排器的显式状态。
type State int

const (
	StateIdle State = iota
	StateRecording
	StateInferring
	StateAwaitingSynthesis
	StatePresenting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateInferring:
		return "inferring"
	case StateAwaitingSynthesis:
		return "awaiting_synthesis"
	case StatePresenting:
		return "presenting"
	default:
		return "unknown"
	}
}

// Inference 推理调度器的契约（llm.Manager 实现）。
type Inference interface {
	RequestDialogue(req llm.Request) bool
	RequestSummary(req llm.Request) bool
	PollDialogue() (string, bool)
	PollSummary() (string, bool)
	DialogueBusy() bool
}

// Synthesizer 语音合成契约（tts.Synthesizer 实现）。
type Synthesizer interface {
	Enabled() bool
	Synthesize(text, emotion string) (string, bool)
}

// AudioPlayer 播放契约（tts.Player 实现）。
type AudioPlayer interface {
	Play(handle string)
}

// Recognizer 语音识别契约（stt.Recognizer 实现）。
type Recognizer interface {
	StartListening(durationSeconds int) bool
	CheckResult() (string, bool)
	IsProcessing() bool
}

// Retriever 知识检索契约（rag.Retriever 实现）。
type Retriever interface {
	Search(ctx context.Context, query string, k int) []model.RetrievalHit
}

// RevealSink 文本揭示端。onDialogueStart 在台词段开始展示的瞬间触发
// （行动段之后），用于对齐语音播放起点；可以为 nil。
type RevealSink interface {
	Reveal(text string, onDialogueStart func())
	Skip()
	IsFinished() bool
}

// InputGate 输入闸门。
type InputGate interface {
	SetDisabled(disabled bool)
}

// Ambience 环境音协作方（sound.Director 实现）。
type Ambience interface {
	UpdateSanity(sanity int)
	PauseForListening()
	ResumeAfterListening()
}

// pendingTurn 一个回合的在途数据，同一时刻至多存在一个。
// committed 保证情感提交恰好一次。
type pendingTurn struct {
	turnID    string
	userText  string
	result    model.DialogueResult
	committed bool
}

// ttsOutcome 合成 worker 的单次结果。gen 标记它属于哪一代会话，
// Reset 之后送达的旧结果据此丢弃。
type ttsOutcome struct {
	gen    int
	handle string
	ok     bool
}

// Deps 编排器的全部协作方。Recognizer/Timeline 可为 nil（对应功能关闭）。
type Deps struct {
	Affect     *affect.State
	Inference  Inference
	Synth      Synthesizer
	Player     AudioPlayer
	Recognizer Recognizer
	Retriever  Retriever
	Persona    *persona.Builder
	Ambience   Ambience
	Reveal     RevealSink
	Input      InputGate
	Timeline   timeline.Store
	SessionID  string
	Logger     *log.Logger
	Now        func() time.Time
}

// Orchestrator 回合编排器：风险扫描 -> 检索 -> 推理 -> (摘要 ∥ 合成) ->
// 情感提交 -> 揭示 -> 解锁输入。
//
// 并发契约：所有方法只能从同一个回合循环 goroutine 调用（见 Loop）；
// 唯一的跨线程通道是合成 worker 的 ttsCh 与各协作方自己的队列。
// 情感数值只在这个 goroutine 上变更。
type Orchestrator struct {
	deps Deps

	state       State
	lastEmotion string
	lastTopic   string
	pending     *pendingTurn

	ttsCh       chan ttsOutcome
	ttsInFlight bool
	gen         int

	logger *log.Logger
	now    func() time.Time
}

func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		deps:        deps,
		state:       StateIdle,
		lastEmotion: "평온",
		ttsCh:       make(chan ttsOutcome, 1),
		logger:      logger,
		now:         now,
	}
}

// SetReveal 与 SetInputGate 供装配期补齐依赖：网关持有回合循环，
// 而编排器又要用网关的揭示端和输入闸门，存在装配环。
// 两者都必须在 Loop.Run 启动之前调用。
func (o *Orchestrator) SetReveal(r RevealSink) {
	o.deps.Reveal = r
}

func (o *Orchestrator) SetInputGate(g InputGate) {
	o.deps.Input = g
}

func (o *Orchestrator) State() State {
	return o.state
}

func (o *Orchestrator) Affect() *affect.State {
	return o.deps.Affect
}

func (o *Orchestrator) LastTopic() string {
	return o.lastTopic
}

// busy 全局忙判定：流水线在跑、合成在途、录音在途，任一为真即拒绝新回合。
// 注意 Presenting 不算忙：上一回合的文字还在逐字揭示时允许开启新回合。
func (o *Orchestrator) busy() bool {
	if o.state == StateRecording || o.state == StateInferring || o.state == StateAwaitingSynthesis {
		return true
	}
	if o.ttsInFlight || o.deps.Inference.DialogueBusy() {
		return true
	}
	if o.deps.Recognizer != nil && o.deps.Recognizer.IsProcessing() {
		return true
	}
	return false
}

// Submit 接收一次用户输入。空文本触发录音子流程，非空文本开启回合。
// 忙时是 no-op，返回 false。
func (o *Orchestrator) Submit(text string) bool {
	if o.busy() {
		o.logger.Printf("[Orchestrator] submit rejected: pipeline busy (state %s)", o.state)
		return false
	}

	if strings.TrimSpace(text) == "" {
		return o.startListening()
	}
	o.beginTurn(text)
	return true
}

func (o *Orchestrator) startListening() bool {
	if o.deps.Recognizer == nil {
		o.logger.Printf("[Orchestrator] empty submit ignored: recognition disabled")
		return false
	}
	o.deps.Ambience.PauseForListening()
	if !o.deps.Recognizer.StartListening(0) {
		o.deps.Ambience.ResumeAfterListening()
		return false
	}
	o.deps.Input.SetDisabled(true)
	o.state = StateRecording
	o.logger.Printf("[Orchestrator] listening started")
	return true
}

// beginTurn 开启一个回合：计数、风险扫描、环境音同步、检索、组 Prompt、
// 发起推理。
func (o *Orchestrator) beginTurn(text string) {
	o.deps.Input.SetDisabled(true)

	aff := o.deps.Affect
	aff.IncrementTurn()
	aff.ScanRisk(text)
	o.deps.Ambience.UpdateSanity(aff.Sanity())

	// 上一回合的摘要若已就绪，在这里落成新话题。
	if raw, ok := o.deps.Inference.PollSummary(); ok {
		if topic := persona.SanitizeSummary(raw); topic != "" {
			o.lastTopic = topic
			o.logger.Printf("[Orchestrator] topic updated: %s", topic)
			o.appendEvent(&model.TurnEvent{Type: "topic_update", Text: topic})
		}
	}

	turnID := uuid.NewString()
	o.pending = nil

	var retrievalBlock string
	if o.deps.Retriever != nil {
		hits := o.deps.Retriever.Search(context.Background(), text, 0)
		retrievalBlock = rag.FormatForPrompt(hits)
	}

	req := o.deps.Persona.DialogueRequest(model.TurnRequest{
		UserText: text,
		Context: model.TurnContext{
			SanityLabel:     aff.SanityLabel(),
			LikabilityLabel: aff.LikabilityLabel(),
			LastEmotion:     o.lastEmotion,
			LastTopic:       o.lastTopic,
		},
	}, retrievalBlock)

	o.appendEvent(&model.TurnEvent{
		Type: "user_message", TurnID: turnID,
		EventID: turnID + ":user", Text: text,
	})

	// 被 Reset 抛弃的回合可能已经把回复排进了队列。先清空再发新请求，
	// 否则下一次轮询会把旧回复当成本回合的结果。
	for {
		if _, ok := o.deps.Inference.PollDialogue(); !ok {
			break
		}
		o.logger.Printf("[Orchestrator] stale dialogue payload dropped")
	}

	o.deps.Inference.RequestDialogue(req)
	o.pending = &pendingTurn{turnID: turnID, userText: text}
	o.state = StateInferring
	o.logger.Printf("[Orchestrator] turn %d started (%s)", aff.Turn(), turnID)
}

// Tick 由回合循环每帧调用一次，推进状态机。
func (o *Orchestrator) Tick() {
	o.drainSynthOutcome()
	switch o.state {
	case StateRecording:
		o.tickRecording()
	case StateInferring:
		o.tickInferring()
	case StatePresenting:
		if o.deps.Reveal.IsFinished() {
			o.state = StateIdle
		}
	}
}

// drainSynthOutcome 每帧无条件排空合成 worker 的结果，不管当前状态。
// 代数不符的结果来自 Reset 之前开启的回合，直接丢弃；否则在
// AwaitingSynthesis 收尾回合。合成自身的失败表现为 ok=false，回合照常
// 以纯文本收尾；没有超时，挂死的后端会停在 AwaitingSynthesis。
func (o *Orchestrator) drainSynthOutcome() {
	select {
	case outcome := <-o.ttsCh:
		o.ttsInFlight = false
		if outcome.gen != o.gen || o.state != StateAwaitingSynthesis {
			o.logger.Printf("[Orchestrator] stale synthesis outcome discarded")
			return
		}
		o.commitAndPresent(outcome.handle, outcome.ok)
	default:
	}
}

func (o *Orchestrator) tickRecording() {
	text, ok := o.deps.Recognizer.CheckResult()
	if !ok {
		return
	}
	o.deps.Ambience.ResumeAfterListening()
	if strings.TrimSpace(text) == "" {
		o.logger.Printf("[Orchestrator] recognition empty, staying idle")
		o.deps.Input.SetDisabled(false)
		o.state = StateIdle
		return
	}
	o.logger.Printf("[Orchestrator] recognized: %q", text)
	o.beginTurn(text)
}

func (o *Orchestrator) tickInferring() {
	raw, ok := o.deps.Inference.PollDialogue()
	if !ok {
		return
	}

	result, err := llm.Parse(raw)
	if err != nil {
		// 解析失败是回合的终点：原文照登、解锁输入，不提交情感、不发摘要。
		o.logger.Printf("[Orchestrator] unstructured model output, showing verbatim: %v", err)
		o.appendEvent(&model.TurnEvent{Type: "assistant_text", Text: raw})
		o.deps.Reveal.Reveal(raw, nil)
		o.deps.Input.SetDisabled(false)
		o.pending = nil
		o.state = StatePresenting
		return
	}

	pending := o.pending
	if pending == nil {
		pending = &pendingTurn{turnID: uuid.NewString()}
	}
	pending.result = result
	o.pending = pending

	// 摘要是 fire-and-forget，与合成并行，失败对用户不可见。
	o.deps.Inference.RequestSummary(
		o.deps.Persona.SummaryRequest(pending.userText, result.Dialogue, o.lastTopic))

	if o.deps.Synth != nil && o.deps.Synth.Enabled() && strings.TrimSpace(result.Dialogue) != "" {
		o.ttsInFlight = true
		o.state = StateAwaitingSynthesis
		go func(gen int, text, emotion string) {
			handle, ok := o.deps.Synth.Synthesize(text, emotion)
			o.ttsCh <- ttsOutcome{gen: gen, handle: handle, ok: ok}
		}(o.gen, result.Dialogue, result.NewEmotion)
		return
	}
	o.commitAndPresent("", false)
}

// commitAndPresent 一个回合的终点：恰好一次的情感提交、环境音同步、
// 文本揭示、输入解锁。
func (o *Orchestrator) commitAndPresent(audioHandle string, hasAudio bool) {
	pending := o.pending
	if pending == nil || pending.committed {
		return
	}
	pending.committed = true

	result := pending.result
	aff := o.deps.Affect

	delta := aff.UpdateLikability(o.lastEmotion, result.NewEmotion)
	o.deps.Ambience.UpdateSanity(aff.Sanity())
	if result.NewEmotion != "" {
		o.lastEmotion = result.NewEmotion
	}

	o.appendEvent(&model.TurnEvent{
		Type: "affect_update", TurnID: pending.turnID,
		EventID:         pending.turnID + ":affect",
		Emotion:         result.NewEmotion,
		LikabilityDelta: delta,
		Likability:      aff.Likability(),
		Sanity:          aff.Sanity(),
	})
	o.appendEvent(&model.TurnEvent{
		Type: "assistant_text", TurnID: pending.turnID,
		EventID: pending.turnID + ":assistant", Text: result.FullText(),
	})

	var onDialogueStart func()
	if hasAudio && o.deps.Player != nil {
		handle := audioHandle
		onDialogueStart = func() { o.deps.Player.Play(handle) }
	}
	o.deps.Reveal.Reveal(result.FullText(), onDialogueStart)
	o.deps.Input.SetDisabled(false)

	o.pending = nil
	o.state = StatePresenting
	o.logger.Printf("[Orchestrator] turn committed: emotion=%s delta=%+d likability=%d sanity=%d",
		result.NewEmotion, delta, aff.Likability(), aff.Sanity())
}

// Reset 恢复初始状态（情感数值、话题、情绪）。在途 worker 无法取消：
// 合成 worker 靠代数递增作废（结果送达时在 drainSynthOutcome 被丢弃），
// 推理 worker 的残留回复在这里和下一次 beginTurn 的清空中被丢弃。
func (o *Orchestrator) Reset() {
	o.gen++
	o.ttsInFlight = false
	select {
	case <-o.ttsCh:
	default:
	}
	for {
		if _, ok := o.deps.Inference.PollDialogue(); !ok {
			break
		}
	}
	for {
		if _, ok := o.deps.Inference.PollSummary(); !ok {
			break
		}
	}

	o.deps.Affect.Reset()
	o.lastEmotion = "평온"
	o.lastTopic = ""
	o.pending = nil
	o.state = StateIdle
	o.deps.Ambience.UpdateSanity(o.deps.Affect.Sanity())
	o.deps.Input.SetDisabled(false)
	o.logger.Printf("[Orchestrator] session reset")
}

// appendEvent 写回合日志。写失败只记日志，不中断回合。
func (o *Orchestrator) appendEvent(evt *model.TurnEvent) {
	if o.deps.Timeline == nil {
		return
	}
	evt.ServerTS = o.now()
	if _, err := o.deps.Timeline.Append(context.Background(), o.deps.SessionID, evt); err != nil {
		o.logger.Printf("[Orchestrator] timeline append failed: %v", err)
	}
}
