package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TurnLoop 网关向回合循环投递命令的契约（orchestrator.Loop 实现）。
type TurnLoop interface {
	Submit(text string)
	Skip()
	Reset()
}

// PlaybackTracker 播放结束上报的去处（tts.Player 实现）。
type PlaybackTracker interface {
	MarkFinished(handle string)
}

// Gateway 渲染端网关。
// 职责：
// 1. 维护唯一的客户端 WebSocket 连接（新连接顶掉旧连接）
// 2. 入站消息路由到回合循环（submit/skip/reset/playback_finished）
// 3. 出站事件（揭示、输入闸门、环境音、音频）带单调 seq 推给客户端
// 同时以 Revealer 实现编排器的 RevealSink，以 SetDisabled 实现 InputGate。
type Gateway struct {
	loop     TurnLoop
	playback PlaybackTracker
	revealer *Revealer

	connLock sync.Mutex
	conn     *websocket.Conn

	seqLock sync.Mutex
	seq     int64

	logger *log.Logger
}

func New(loop TurnLoop, playback PlaybackTracker, revealCPS float64, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.Default()
	}
	g := &Gateway{
		loop:     loop,
		playback: playback,
		logger:   logger,
	}
	g.revealer = NewRevealer(revealCPS, g.Send, nil)
	return g
}

// Revealer 返回文本揭示端，供编排器装配。
func (g *Gateway) Revealer() *Revealer {
	return g.revealer
}

// SetDisabled 实现输入闸门：状态推给客户端，由渲染端锁住输入框。
func (g *Gateway) SetDisabled(disabled bool) {
	g.Send(&ServerMessage{
		Type:     EventTypeInputGate,
		Metadata: map[string]any{"disabled": disabled},
	})
}

// NotifyAmbience 环境音导演的通知回调（sound.Director.SetNotify 挂接）。
func (g *Gateway) NotifyAmbience(track string, paused bool) {
	g.Send(&ServerMessage{
		Type:     EventTypeAmbience,
		Text:     track,
		Metadata: map[string]any{"paused": paused},
	})
}

// NotifyAudio 播放器的通知回调（tts.Player.SetNotify 挂接）。
func (g *Gateway) NotifyAudio(handle string, playing bool) {
	g.Send(&ServerMessage{
		Type:     EventTypeAudio,
		Text:     handle,
		Metadata: map[string]any{"playing": playing},
	})
}

// Attach 接管一条已升级的 WebSocket 连接并阻塞读取，直到连接关闭。
// 已有连接时旧连接被关闭顶替。
func (g *Gateway) Attach(conn *websocket.Conn) {
	g.connLock.Lock()
	if g.conn != nil {
		g.logger.Printf("[Gateway] replacing existing client connection")
		g.conn.Close()
	}
	g.conn = conn
	g.connLock.Unlock()

	g.logger.Printf("[Gateway] client connected: %s", conn.RemoteAddr())
	g.readLoop(conn)
}

func (g *Gateway) readLoop(conn *websocket.Conn) {
	defer func() {
		g.connLock.Lock()
		if g.conn == conn {
			g.conn = nil
		}
		g.connLock.Unlock()
		conn.Close()
		g.logger.Printf("[Gateway] client disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := g.handleMessage(data); err != nil {
			g.logger.Printf("[Gateway] bad client message: %v", err)
			g.Send(&ServerMessage{Type: EventTypeError, Error: err.Error()})
		}
	}
}

func (g *Gateway) handleMessage(data []byte) error {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	switch msg.Type {
	case EventTypeSubmit:
		g.loop.Submit(msg.Text)
	case EventTypeSkip:
		g.loop.Skip()
	case EventTypeReset:
		g.loop.Reset()
	case EventTypePlaybackFinished:
		if g.playback != nil {
			g.playback.MarkFinished(msg.Handle)
		}
	default:
		g.logger.Printf("[Gateway] unknown message type %q ignored", msg.Type)
	}
	return nil
}

// Send 推送一条出站消息。无连接时静默丢弃（渲染端重连后以 REST 对齐状态）。
func (g *Gateway) Send(msg *ServerMessage) {
	g.seqLock.Lock()
	g.seq++
	msg.Seq = g.seq
	g.seqLock.Unlock()
	msg.ServerTS = time.Now()

	g.connLock.Lock()
	defer g.connLock.Unlock()
	if g.conn == nil {
		return
	}
	if err := g.conn.WriteJSON(msg); err != nil {
		g.logger.Printf("[Gateway] write failed: %v", err)
		g.conn.Close()
		g.conn = nil
	}
}
