package rag

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	_ "modernc.org/sqlite"
)

// Chunk 知识库里的一条文本块及其预计算向量。
type Chunk struct {
	ID        int64
	Text      string
	Metadata  map[string]any
	Embedding []float32
}

// Store 基于 SQLite 的文本块存储。向量按 float32 小端字节序存成 BLOB，
// 元数据存 JSON。索引构建期写入，运行期只读。
type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open chunk db: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			text      TEXT NOT NULL,
			metadata  TEXT NOT NULL DEFAULT '{}',
			embedding BLOB NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init chunk schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Add 写入一条文本块，返回分配的 ID。
func (s *Store) Add(ctx context.Context, text string, metadata map[string]any, embedding []float32) (int64, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("marshal metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chunks (text, metadata, embedding) VALUES (?, ?, ?)`,
		text, string(meta), encodeVector(embedding))
	if err != nil {
		return 0, fmt.Errorf("insert chunk: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("chunk id: %w", err)
	}
	return id, nil
}

// All 按 ID 升序取出全部文本块。库的规模是「一个角色的设定集」量级，
// 全量加载后在内存里算相似度即可。
func (s *Store) All(ctx context.Context) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, metadata, embedding FROM chunks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var (
			c    Chunk
			meta string
			blob []byte
		)
		if err := rows.Scan(&c.ID, &c.Text, &meta, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode chunk metadata: %w", err)
		}
		c.Embedding = decodeVector(blob)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
