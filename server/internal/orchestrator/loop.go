package orchestrator

import (
	"context"
	"log"
	"time"

	"yuhwa-talk/server/internal/model"
)

// Loop 回合循环：固定步进轮询编排器，外部命令（提交、作弊、重置）
// 一律经由命令通道进入同一 goroutine 执行，保证编排器与情感数值
// 始终只有一个写者。
type Loop struct {
	orc      *Orchestrator
	cmds     chan func(*Orchestrator)
	interval time.Duration
	logger   *log.Logger
}

func NewLoop(orc *Orchestrator, interval time.Duration, logger *log.Logger) *Loop {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Loop{
		orc:      orc,
		cmds:     make(chan func(*Orchestrator), 16),
		interval: interval,
		logger:   logger,
	}
}

// Run 阻塞运行直到 ctx 取消。每个步进先排空命令，再 Tick 一次。
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Printf("[Loop] turn loop started (interval %s)", l.interval)
	for {
		select {
		case <-ctx.Done():
			l.logger.Printf("[Loop] turn loop stopped")
			return
		case cmd := <-l.cmds:
			cmd(l.orc)
		case <-ticker.C:
			l.drainCommands()
			l.orc.Tick()
		}
	}
}

func (l *Loop) drainCommands() {
	for {
		select {
		case cmd := <-l.cmds:
			cmd(l.orc)
		default:
			return
		}
	}
}

// Do 把一个命令排进回合循环。循环已满时丢弃并记日志（绝不阻塞网关）。
func (l *Loop) Do(fn func(*Orchestrator)) {
	select {
	case l.cmds <- fn:
	default:
		l.logger.Printf("[Loop] command dropped: queue full")
	}
}

// do 同步执行一个命令并等待回执，供需要返回值的查询类命令使用。
// 与 Do 不同，这里用阻塞投递，保证回执一定会来。
func (l *Loop) do(fn func(*Orchestrator)) {
	done := make(chan struct{})
	l.cmds <- func(o *Orchestrator) {
		fn(o)
		close(done)
	}
	<-done
}

// Submit 提交一次用户输入（异步）。
func (l *Loop) Submit(text string) {
	l.Do(func(o *Orchestrator) { o.Submit(text) })
}

// Skip 跳过当前文本揭示（异步）。
func (l *Loop) Skip() {
	l.Do(func(o *Orchestrator) { o.deps.Reveal.Skip() })
}

// Reset 重置会话（同步）。
func (l *Loop) Reset() {
	l.do(func(o *Orchestrator) { o.Reset() })
}

// Status 读取当前情感快照（同步）。
func (l *Loop) Status() model.StatusSummary {
	var status model.StatusSummary
	l.do(func(o *Orchestrator) { status = o.deps.Affect.Status() })
	return status
}

// SetSanity 调试用：强制设定精神值并同步环境音。
func (l *Loop) SetSanity(value int) model.StatusSummary {
	var status model.StatusSummary
	l.do(func(o *Orchestrator) {
		o.deps.Affect.SetSanity(value)
		o.deps.Ambience.UpdateSanity(o.deps.Affect.Sanity())
		status = o.deps.Affect.Status()
	})
	return status
}

// SetLikability 调试用：强制设定好感度。
func (l *Loop) SetLikability(value int) model.StatusSummary {
	var status model.StatusSummary
	l.do(func(o *Orchestrator) {
		o.deps.Affect.SetLikability(value)
		status = o.deps.Affect.Status()
	})
	return status
}
