package timeline

import (
	"context"

	"yuhwa-talk/server/internal/model"
)

// Store 回合日志存储。
type Store interface {
	// Append 以 append-first 的契约写入回合事件，返回本次写入的 seq。
	// 约定：同一 session 的 seq 单调递增；相同 EventID 的请求幂等返回同一 seq。
	Append(ctx context.Context, sessionID string, evt *model.TurnEvent) (int64, error)
	// List 返回该 session 的全量事件（按 seq 顺序），用于回放与验收。
	List(ctx context.Context, sessionID string) ([]model.TurnEvent, error)
}
