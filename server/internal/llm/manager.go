package llm

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"yuhwa-talk/server/internal/config"
)

// Manager 推理任务调度器。对话与摘要各持一条 FIFO 结果队列和各自独立的
// 在途标记：同类请求在途时再次提交是 no-op，主循环用非阻塞 Poll 取结果。
// 忙标记在派发 worker 之前同步置位，并在 worker 的所有终止路径
// （成功、失败、重试耗尽）上清除，主循环查询忙态永不阻塞。
type Manager struct {
	dialogueBackend Backend
	summaryBackend  Backend

	dialogueModel string
	summaryModel  string

	dialogueTimeout time.Duration
	summaryTimeout  time.Duration

	dialogueCh chan string
	summaryCh  chan string

	mu           sync.Mutex
	dialogueBusy bool
	summaryBusy  bool

	logger *log.Logger
}

// NewManager 按模型名挑选对话后端：名字含 "gemini" 走云端，其余走本地。
// 摘要固定走本地后端。
func NewManager(cfg config.LLMConfig, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	local := NewOllamaBackend(cfg.Ollama, logger)

	var dialogue Backend = local
	if strings.Contains(strings.ToLower(cfg.DialogueModel), "gemini") {
		dialogue = NewGeminiBackend(cfg.Gemini, logger)
	}

	dialogueTimeout := cfg.Ollama.DialogueTimeout
	if dialogueTimeout <= 0 {
		dialogueTimeout = 120 * time.Second
	}
	summaryTimeout := cfg.Ollama.SummaryTimeout
	if summaryTimeout <= 0 {
		summaryTimeout = 30 * time.Second
	}

	return &Manager{
		dialogueBackend: dialogue,
		summaryBackend:  local,
		dialogueModel:   cfg.DialogueModel,
		summaryModel:    cfg.SummaryModel,
		dialogueTimeout: dialogueTimeout,
		summaryTimeout:  summaryTimeout,
		dialogueCh:      make(chan string, 4),
		summaryCh:       make(chan string, 4),
		logger:          logger,
	}
}

// RequestDialogue 发起一次对话生成。已有对话在途时直接返回 false。
// worker 的任何失败都会转换成队列里的错误台词，绝不会让队列空等。
func (m *Manager) RequestDialogue(req Request) bool {
	m.mu.Lock()
	if m.dialogueBusy {
		m.mu.Unlock()
		m.logger.Printf("[LLM] dialogue request ignored: previous one still in flight")
		return false
	}
	m.dialogueBusy = true
	m.mu.Unlock()

	if req.Model == "" {
		req.Model = m.dialogueModel
	}

	go func() {
		defer m.clearDialogueBusy()

		ctx, cancel := context.WithTimeout(context.Background(), m.dialogueTimeout)
		defer cancel()

		text, err := m.dialogueBackend.Generate(ctx, req)
		if err != nil {
			m.logger.Printf("[LLM] dialogue generation failed: %v", err)
			text = errorPayload(err)
		}
		m.dialogueCh <- text
	}()
	return true
}

// RequestSummary 发起一次话题摘要。独立于对话的单飞标记；固定走本地后端；
// 失败即丢弃，不向队列写任何东西（摘要失败对用户不可见）。
func (m *Manager) RequestSummary(req Request) bool {
	m.mu.Lock()
	if m.summaryBusy {
		m.mu.Unlock()
		m.logger.Printf("[LLM] summary request ignored: previous one still in flight")
		return false
	}
	m.summaryBusy = true
	m.mu.Unlock()

	if req.Model == "" {
		req.Model = m.summaryModel
	}

	go func() {
		defer m.clearSummaryBusy()

		ctx, cancel := context.WithTimeout(context.Background(), m.summaryTimeout)
		defer cancel()

		text, err := m.summaryBackend.Generate(ctx, req)
		if err != nil {
			m.logger.Printf("[LLM] summary dropped: %v", err)
			return
		}
		m.summaryCh <- text
	}()
	return true
}

// PollDialogue 非阻塞取一条对话结果。
func (m *Manager) PollDialogue() (string, bool) {
	select {
	case text := <-m.dialogueCh:
		return text, true
	default:
		return "", false
	}
}

// PollSummary 非阻塞取一条摘要结果。
func (m *Manager) PollSummary() (string, bool) {
	select {
	case text := <-m.summaryCh:
		return text, true
	default:
		return "", false
	}
}

func (m *Manager) DialogueBusy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dialogueBusy
}

func (m *Manager) SummaryBusy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summaryBusy
}

func (m *Manager) clearDialogueBusy() {
	m.mu.Lock()
	m.dialogueBusy = false
	m.mu.Unlock()
}

func (m *Manager) clearSummaryBusy() {
	m.mu.Lock()
	m.summaryBusy = false
	m.mu.Unlock()
}
