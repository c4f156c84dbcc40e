package model

import "time"

// EmotionCategory 表示情绪标签所属的大类。
// 好感度变化只看类别之间的迁移，不看具体标签。
type EmotionCategory int

const (
	CategoryUnknown EmotionCategory = iota
	CategoryPositive
	CategoryNeutral
	CategoryNegative
)

func (c EmotionCategory) String() string {
	switch c {
	case CategoryPositive:
		return "positive"
	case CategoryNeutral:
		return "neutral"
	case CategoryNegative:
		return "negative"
	default:
		return "unknown"
	}
}

// TurnContext 是一次回合注入 Prompt 的上下文快照。
// 全部为值语义，进入后台流水线后不再变化。
type TurnContext struct {
	SanityLabel     string `json:"sanity_label"`
	LikabilityLabel string `json:"likability_label"`
	LastEmotion     string `json:"last_emotion"`
	LastTopic       string `json:"last_topic"`
}

// TurnRequest 是一次回合流水线的不可变输入。
type TurnRequest struct {
	UserText string      `json:"user_text"`
	Context  TurnContext `json:"context"`
}

// DialogueResult 是从模型原始输出中解析出的结构化回复。
// Raw 保留原文，解析失败时上层直接展示 Raw（降级路径）。
type DialogueResult struct {
	Dialogue   string `json:"dialogue"`
	ActionPre  string `json:"action_pre,omitempty"`
	ActionPost string `json:"action_post,omitempty"`
	NewEmotion string `json:"new_emotion"`

	Raw string `json:"-"`
}

// FullText 按「(行动)\n台词\n(行动)」的约定拼接展示文本。
func (r DialogueResult) FullText() string {
	out := ""
	if r.ActionPre != "" {
		out += "(" + r.ActionPre + ")\n"
	}
	out += r.Dialogue
	if r.ActionPost != "" {
		out += "\n(" + r.ActionPost + ")"
	}
	return out
}

// RetrievalHit 是一次知识检索命中，按相似度降序产生，不做持久化。
type RetrievalHit struct {
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StatusSummary 是当前情感数值的快照，供 API 与回合日志使用。
type StatusSummary struct {
	Likability      int    `json:"likability"`
	LikabilityLabel string `json:"likability_label"`
	Sanity          int    `json:"sanity"`
	SanityLabel     string `json:"sanity_label"`
	Turn            int    `json:"turn_count"`
}

// TurnEvent 是回合日志中的一条事实事件。
// Seq 是存储层分配的单调序号；EventID 用于重试幂等。
type TurnEvent struct {
	Seq       int64  `json:"seq,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	TurnID    string `json:"turn_id,omitempty"`

	// Type 表示事件类型（user_message/assistant_text/affect_update/topic_update/...）。
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// Emotion 与数值字段只在 affect_update 事件上出现。
	Emotion         string `json:"emotion,omitempty"`
	LikabilityDelta int    `json:"likability_delta,omitempty"`
	Likability      int    `json:"likability,omitempty"`
	Sanity          int    `json:"sanity,omitempty"`

	ServerTS time.Time `json:"server_ts,omitempty"`
}
