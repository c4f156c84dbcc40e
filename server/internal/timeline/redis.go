package timeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"yuhwa-talk/server/internal/model"
)

// RedisStore 基于 Redis 的回合日志实现，重启后可回放历史回合。
// 键布局：{prefix}:{session}:seq 计数器、{prefix}:{session}:events JSON 列表、
// {prefix}:{session}:ids EventID->seq 哈希（幂等去重）。
// 写入方是单一的回合循环，不做跨键事务。
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "yuhwa:timeline"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) seqKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:seq", s.prefix, sessionID)
}

func (s *RedisStore) eventsKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:events", s.prefix, sessionID)
}

func (s *RedisStore) idsKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:ids", s.prefix, sessionID)
}

func (s *RedisStore) Append(ctx context.Context, sessionID string, evt *model.TurnEvent) (int64, error) {
	if evt.EventID != "" {
		seq, err := s.client.HGet(ctx, s.idsKey(sessionID), evt.EventID).Int64()
		if err == nil {
			return seq, nil
		}
		if err != redis.Nil {
			return 0, fmt.Errorf("check event id: %w", err)
		}
	}

	seq, err := s.client.Incr(ctx, s.seqKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}

	eventCopy := *evt
	eventCopy.Seq = seq
	eventCopy.SessionID = sessionID
	payload, err := json.Marshal(eventCopy)
	if err != nil {
		return 0, fmt.Errorf("marshal event: %w", err)
	}

	if err := s.client.RPush(ctx, s.eventsKey(sessionID), payload).Err(); err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	if evt.EventID != "" {
		if err := s.client.HSet(ctx, s.idsKey(sessionID), evt.EventID, seq).Err(); err != nil {
			return 0, fmt.Errorf("record event id: %w", err)
		}
	}
	return seq, nil
}

func (s *RedisStore) List(ctx context.Context, sessionID string) ([]model.TurnEvent, error) {
	items, err := s.client.LRange(ctx, s.eventsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	events := make([]model.TurnEvent, 0, len(items))
	for _, item := range items {
		var evt model.TurnEvent
		if err := json.Unmarshal([]byte(item), &evt); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, evt)
	}
	return events, nil
}
