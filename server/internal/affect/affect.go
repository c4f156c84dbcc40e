package affect

import (
	"log"
	"strings"

	"yuhwa-talk/server/internal/model"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
)

// 情绪标签的类别划分。好感度迁移表只认类别，不认具体标签。
var (
	positiveEmotions = []string{"기쁨", "흥미", "만족", "친밀감", "안도", "흥분"}
	neutralEmotions  = []string{"평온", "당혹"}
	negativeEmotions = []string{"경계", "불안", "슬픔", "짜증", "분노", "공포", "혐오"}
)

// Categorize 返回情绪标签所属类别；未登记的标签归为 Unknown。
func Categorize(emotion string) model.EmotionCategory {
	for _, e := range positiveEmotions {
		if e == emotion {
			return model.CategoryPositive
		}
	}
	for _, e := range neutralEmotions {
		if e == emotion {
			return model.CategoryNeutral
		}
	}
	for _, e := range negativeEmotions {
		if e == emotion {
			return model.CategoryNegative
		}
	}
	return model.CategoryUnknown
}

type categoryPair struct {
	prev, next model.EmotionCategory
}

// likabilityDeltas 是 3x3 类别迁移表。表外组合一律视为 0。
var likabilityDeltas = map[categoryPair]int{
	{model.CategoryNegative, model.CategoryPositive}: 15,
	{model.CategoryPositive, model.CategoryNegative}: -15,
	{model.CategoryNeutral, model.CategoryPositive}:  8,
	{model.CategoryNeutral, model.CategoryNegative}:  -8,
	{model.CategoryPositive, model.CategoryNeutral}:  2,
	{model.CategoryNegative, model.CategoryNeutral}:  -2,
	{model.CategoryPositive, model.CategoryPositive}: 5,
	{model.CategoryNegative, model.CategoryNegative}: -5,
	{model.CategoryNeutral, model.CategoryNeutral}:   0,
}

const (
	defaultLikability = 50
	defaultSanity     = 100
)

// State 管理好感度、精神值（SAN）与回合数。
//
// 所有权约定：State 只能被编排器的回合循环读写（含作弊路径），
// 后台 worker 一律不得直接触碰，对外只暴露值快照（Status）。
type State struct {
	likability int
	sanity     int
	turn       int

	keywords KeywordConfig
	logger   *log.Logger
}

// NewState 创建情感状态（好感度 50 / SAN 100 / 回合 0）。
func NewState(keywords KeywordConfig, logger *log.Logger) *State {
	if logger == nil {
		logger = log.Default()
	}
	return &State{
		likability: defaultLikability,
		sanity:     defaultSanity,
		keywords:   keywords,
		logger:     logger,
	}
}

// UpdateLikability 按「上一情绪 → 新情绪」的类别迁移更新好感度。
// 返回本次变动量，便于记录与测试。情绪相同必定为 0。
func (s *State) UpdateLikability(prev, next string) int {
	if prev == next {
		return 0
	}

	delta := likabilityDeltas[categoryPair{Categorize(prev), Categorize(next)}]

	old := s.likability
	s.likability = clamp(s.likability + delta)
	s.logger.Printf("[Affect] likability %q -> %q: %d -> %d (delta %+d)",
		prev, next, old, s.likability, delta)
	return delta
}

// ScanRisk 对输入做风险关键词模糊扫描。
// 任何关键词的 partial-ratio 相似度达到阈值即扣除 SAN 并返回 true；
// 空白输入永远不触发。
func (s *State) ScanRisk(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	lower := strings.ToLower(text)
	triggered := false
	for _, kw := range s.keywords.Keywords {
		score := fuzzy.PartialRatio(kw, lower)
		if score >= s.keywords.SimilarityThreshold {
			s.logger.Printf("[Affect] risk keyword detected: %q (similarity %d%%)", kw, score)
			triggered = true
		}
	}

	if triggered {
		old := s.sanity
		s.sanity = clamp(s.sanity - s.keywords.DecreaseAmount)
		s.logger.Printf("[Affect] sanity %d -> %d (-%d)", old, s.sanity, s.keywords.DecreaseAmount)
	}
	return triggered
}

// IncrementTurn 回合数 +1（每次被接受的用户输入调用一次）。
func (s *State) IncrementTurn() {
	s.turn++
	s.logger.Printf("[Affect] ==== TURN %d START ==== likability=%d(%s) sanity=%d(%s)",
		s.turn, s.likability, s.LikabilityLabel(), s.sanity, s.SanityLabel())
}

// SanityLabel 把 SAN 数值折算为状态标签。
func (s *State) SanityLabel() string {
	switch {
	case s.sanity >= 75:
		return "안정"
	case s.sanity >= 50:
		return "균열"
	case s.sanity >= 25:
		return "착란"
	default:
		return "붕괴"
	}
}

// LikabilityLabel 把好感度数值折算为态度标签。
func (s *State) LikabilityLabel() string {
	switch {
	case s.likability < 10:
		return "혐오"
	case s.likability < 30:
		return "불쾌"
	case s.likability < 50:
		return "무관심"
	case s.likability < 70:
		return "호기심"
	case s.likability < 90:
		return "애착"
	default:
		return "탐닉"
	}
}

func (s *State) Likability() int { return s.likability }
func (s *State) Sanity() int     { return s.sanity }
func (s *State) Turn() int       { return s.turn }

// Status 返回当前数值快照。
func (s *State) Status() model.StatusSummary {
	return model.StatusSummary{
		Likability:      s.likability,
		LikabilityLabel: s.LikabilityLabel(),
		Sanity:          s.sanity,
		SanityLabel:     s.SanityLabel(),
		Turn:            s.turn,
	}
}

// SetSanity 直接设置 SAN（作弊/测试路径），带边界钳制。
func (s *State) SetSanity(v int) {
	old := s.sanity
	s.sanity = clamp(v)
	s.logger.Printf("[Affect] [cheat] sanity forced: %d -> %d", old, s.sanity)
}

// SetLikability 直接设置好感度（作弊/测试路径），带边界钳制。
func (s *State) SetLikability(v int) {
	old := s.likability
	s.likability = clamp(v)
	s.logger.Printf("[Affect] [cheat] likability forced: %d -> %d", old, s.likability)
}

// Reset 恢复初始数值。
func (s *State) Reset() {
	s.likability = defaultLikability
	s.sanity = defaultSanity
	s.turn = 0
	s.logger.Printf("[Affect] reset (likability %d, sanity %d, turn 0)", defaultLikability, defaultSanity)
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
