package affect

import (
	"encoding/json"
	"log"
	"os"
)

// KeywordConfig 风险关键词配置（SAN 扣减规则）。
type KeywordConfig struct {
	Keywords            []string `json:"keywords"`
	SimilarityThreshold int      `json:"similarity_threshold"`
	DecreaseAmount      int      `json:"decrease_amount"`
}

// defaultKeywords 配置文件缺失时的兜底关键词。
var defaultKeywords = []string{"죽음", "살인", "피", "고통", "괴롭히다", "아이", "선악과"}

// DefaultKeywordConfig 返回内置缺省配置。
func DefaultKeywordConfig() KeywordConfig {
	return KeywordConfig{
		Keywords:            append([]string(nil), defaultKeywords...),
		SimilarityThreshold: 80,
		DecreaseAmount:      5,
	}
}

// LoadKeywordConfig 从 JSON 文件加载关键词配置。
// 文件缺失 → 内置缺省；JSON 损坏 → 空关键词表（扫描器永远不触发）。
// 两种失败都只记日志，不向上抛错。
func LoadKeywordConfig(path string, logger *log.Logger) KeywordConfig {
	if logger == nil {
		logger = log.Default()
	}

	cfg := DefaultKeywordConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Printf("[Affect] keyword config missing (%s), using built-in defaults", path)
		return cfg
	}

	var loaded KeywordConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		logger.Printf("[Affect] keyword config parse error: %v, scanner disabled", err)
		cfg.Keywords = nil
		return cfg
	}

	if loaded.SimilarityThreshold == 0 {
		loaded.SimilarityThreshold = cfg.SimilarityThreshold
	}
	if loaded.DecreaseAmount == 0 {
		loaded.DecreaseAmount = cfg.DecreaseAmount
	}

	logger.Printf("[Affect] keyword config loaded: %d keywords (threshold %d%%, decrease %d)",
		len(loaded.Keywords), loaded.SimilarityThreshold, loaded.DecreaseAmount)
	return loaded
}
