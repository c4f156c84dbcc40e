package rag

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"yuhwa-talk/server/internal/config"
	"yuhwa-talk/server/internal/model"
)

// Retriever 知识检索器。Search 同步执行（调用方负责放到流水线线程上），
// 永远不向调用方抛错：索引缺失、嵌入服务不可用、库为空，统统返回空结果。
type Retriever struct {
	store    *Store
	embedder Embedder
	topK     int
	logger   *log.Logger
}

// NewRetriever 打开索引库。打不开不算错误：返回一个永远给空结果的检索器。
func NewRetriever(cfg config.RAGConfig, logger *log.Logger) *Retriever {
	if logger == nil {
		logger = log.Default()
	}
	r := &Retriever{topK: cfg.TopK, logger: logger}
	if r.topK <= 0 {
		r.topK = 3
	}
	if !cfg.Enabled {
		logger.Printf("[RAG] retrieval disabled by config")
		return r
	}

	store, err := OpenStore(cfg.DBPath)
	if err != nil {
		logger.Printf("[RAG] index unavailable (%v), retrieval disabled", err)
		return r
	}
	r.store = store
	r.embedder = NewOllamaEmbedder(cfg.EmbeddingURL, cfg.EmbeddingModel)

	if n, err := store.Count(context.Background()); err == nil {
		logger.Printf("[RAG] index loaded: %d chunks", n)
	}
	return r
}

// newRetrieverWith 测试与索引构建用的直接装配入口。
func newRetrieverWith(store *Store, embedder Embedder, topK int, logger *log.Logger) *Retriever {
	if logger == nil {
		logger = log.Default()
	}
	if topK <= 0 {
		topK = 3
	}
	return &Retriever{store: store, embedder: embedder, topK: topK, logger: logger}
}

func (r *Retriever) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}

// Search 返回至多 k 条命中，按相似度降序；相似度相同的保持索引顺序。
// k<=0 时用配置的 TopK。
func (r *Retriever) Search(ctx context.Context, query string, k int) []model.RetrievalHit {
	if r.store == nil || r.embedder == nil {
		return nil
	}
	if k <= 0 {
		k = r.topK
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Printf("[RAG] query embedding failed: %v", err)
		return nil
	}

	chunks, err := r.store.All(ctx)
	if err != nil {
		r.logger.Printf("[RAG] chunk load failed: %v", err)
		return nil
	}

	hits := make([]model.RetrievalHit, 0, len(chunks))
	for _, c := range chunks {
		hits = append(hits, model.RetrievalHit{
			Text:     c.Text,
			Score:    cosine(queryVec, c.Embedding),
			Metadata: c.Metadata,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// FormatForPrompt 把命中拼成注入 Prompt 的参考资料块。无命中时返回空串。
func FormatForPrompt(hits []model.RetrievalHit) string {
	if len(hits) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("[참고 자료]\n")
	for i, h := range hits {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.TrimSpace(h.Text))
	}
	return sb.String()
}

// cosine 余弦相似度。维度不匹配或零向量时返回 0。
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
