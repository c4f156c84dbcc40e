package gateway

import "time"

// EventType 网关消息类型。
type EventType string

const (
	// 客户端 -> 服务端
	EventTypeSubmit           EventType = "submit"            // 文本提交；空文本触发录音
	EventTypeSkip             EventType = "skip"              // 跳过当前文本揭示
	EventTypePlaybackFinished EventType = "playback_finished" // 渲染端上报音频播放结束
	EventTypeReset            EventType = "reset"             // 重置会话

	// 服务端 -> 客户端
	EventTypeReveal     EventType = "reveal"      // 开始揭示一段文本
	EventTypeRevealSkip EventType = "reveal_skip" // 立即展示全文
	EventTypeInputGate  EventType = "input_gate"  // 输入闸门开关
	EventTypeAmbience   EventType = "ambience"    // 环境音轨道切换/暂停
	EventTypeAudio      EventType = "audio"       // 台词音频开始/停止
	EventTypeError      EventType = "error"       // 协议错误
)

// ClientMessage 客户端发送给网关的消息（WebSocket 文本帧）。
type ClientMessage struct {
	Type     EventType `json:"type"`
	Text     string    `json:"text,omitempty"`
	Handle   string    `json:"handle,omitempty"`    // playback_finished 用
	ClientTS time.Time `json:"client_ts,omitempty"` // 客户端时间戳
}

// ServerMessage 网关发送给客户端的消息。
type ServerMessage struct {
	Type     EventType      `json:"type"`
	Seq      int64          `json:"seq,omitempty"`
	Text     string         `json:"text,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	ServerTS time.Time      `json:"server_ts"`
	Error    string         `json:"error,omitempty"`
}
