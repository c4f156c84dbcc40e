package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置。
// 原则：不做任何全局单例，Load 之后按值/指针显式传给需要的组件。
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	TTS     TTSConfig     `yaml:"tts"`
	STT     STTConfig     `yaml:"stt"`
	RAG     RAGConfig     `yaml:"rag"`
	Sound   SoundConfig   `yaml:"sound"`
	Persona PersonaConfig `yaml:"persona"`
	Session SessionConfig `yaml:"session"`
	Affect  AffectConfig  `yaml:"affect"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// RevealCPS 文本揭示速度（字符/秒），<=0 时取 20。
	RevealCPS float64 `yaml:"reveal_cps"`
	// TickInterval 回合循环步进间隔，<=0 时取 50ms。
	TickInterval time.Duration `yaml:"tick_interval"`
}

// LLMConfig 对话/摘要模型配置。
// DialogueModel 含 "gemini" 时走云端，否则走本地 Ollama；摘要永远走本地。
type LLMConfig struct {
	DialogueModel string       `yaml:"dialogue_model"`
	SummaryModel  string       `yaml:"summary_model"`
	Gemini        GeminiConfig `yaml:"gemini"`
	Ollama        OllamaConfig `yaml:"ollama"`
}

type GeminiConfig struct {
	APIKey          string  `yaml:"api_key"`
	BaseURL         string  `yaml:"base_url"`
	Temperature     float64 `yaml:"temperature"`
	TopP            float64 `yaml:"top_p"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
}

type OllamaConfig struct {
	BaseURL         string        `yaml:"base_url"`
	DialogueTimeout time.Duration `yaml:"dialogue_timeout"`
	SummaryTimeout  time.Duration `yaml:"summary_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
}

// VoiceProfile 一条参考音色配置（GPT-SoVITS 的 ref_audio + prompt）。
type VoiceProfile struct {
	Path string `yaml:"path"`
	Text string `yaml:"text"`
	Lang string `yaml:"lang"`
}

// TTSConfig 语音合成配置。
// EmotionMaps 的 key 是内部情绪键（neutral/annoyed/angry/san），
// LabelMap 负责把领域情绪标签（평온/분노/...）映射到内部键。
type TTSConfig struct {
	Enabled        bool                    `yaml:"enabled"`
	Engine         string                  `yaml:"engine"`
	APIURL         string                  `yaml:"api_url"`
	TextLang       string                  `yaml:"text_lang"`
	OutputPath     string                  `yaml:"output_path"`
	DefaultEmotion string                  `yaml:"default_emotion"`
	EmotionMaps    map[string]VoiceProfile `yaml:"emotion_maps"`
	LabelMap       map[string]string       `yaml:"label_map"`
	Synthesis      SynthesisParams         `yaml:"synthesis_params"`
}

type SynthesisParams struct {
	SpeedFactor float64       `yaml:"speed_factor"`
	Temperature float64       `yaml:"temperature"`
	TopP        float64       `yaml:"top_p"`
	Timeout     time.Duration `yaml:"timeout"`
}

type STTConfig struct {
	Enabled       bool          `yaml:"enabled"`
	APIURL        string        `yaml:"api_url"`
	Language      string        `yaml:"language"`
	RecordSeconds int           `yaml:"record_seconds"`
	Timeout       time.Duration `yaml:"timeout"`
	// RecordingPath 渲染端落盘的录音文件路径（FixtureRecorder 的输入源）。
	RecordingPath string `yaml:"recording_path"`
}

type RAGConfig struct {
	Enabled        bool   `yaml:"enabled"`
	DBPath         string `yaml:"db_path"`
	EmbeddingURL   string `yaml:"embedding_url"`
	EmbeddingModel string `yaml:"embedding_model"`
	TopK           int    `yaml:"top_k"`
}

// SoundConfig 环境音配置：按精神值分段切换的 BGM 轨道名 -> 资源路径。
type SoundConfig struct {
	Enabled bool              `yaml:"enabled"`
	Tracks  map[string]string `yaml:"tracks"`
}

type PersonaConfig struct {
	Name       string `yaml:"name"`
	PromptsDir string `yaml:"prompts_dir"`
}

// SessionConfig 回合日志的存储配置。RedisAddr 为空时使用内存存储。
type SessionConfig struct {
	ID          string `yaml:"id"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// AffectConfig 情感系统配置（风险关键词文件路径）。
type AffectConfig struct {
	KeywordsPath string `yaml:"keywords_path"`
}

// Load 从文件加载配置，并用环境变量覆盖敏感信息。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// 敏感信息与本地地址允许环境变量覆盖
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.LLM.Gemini.APIKey = key
	}
	if base := os.Getenv("OLLAMA_BASE_URL"); base != "" {
		cfg.LLM.Ollama.BaseURL = base
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Session.RedisAddr = addr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// defaults 返回与原型行为一致的缺省配置。
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			RevealCPS:    20,
			TickInterval: 50 * time.Millisecond,
		},
		LLM: LLMConfig{
			DialogueModel: "gemini-3-pro-preview",
			SummaryModel:  "deepseek-v3.1:671b-cloud",
			Gemini: GeminiConfig{
				BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
				Temperature:     0.7,
				TopP:            0.95,
				MaxOutputTokens: 8192,
			},
			Ollama: OllamaConfig{
				BaseURL:         "http://localhost:11434",
				DialogueTimeout: 120 * time.Second,
				SummaryTimeout:  30 * time.Second,
				MaxRetries:      3,
				RetryBackoff:    2 * time.Second,
			},
		},
		TTS: TTSConfig{
			Engine:         "gpt-sovits",
			APIURL:         "http://127.0.0.1:9880/tts",
			TextLang:       "ko",
			OutputPath:     "assets/audio/outputs/tts_output.wav",
			DefaultEmotion: "neutral",
			Synthesis: SynthesisParams{
				SpeedFactor: 1.0,
				Temperature: 1.0,
				TopP:        1.0,
				Timeout:     120 * time.Second,
			},
		},
		STT: STTConfig{
			APIURL:        "http://127.0.0.1:8081/inference",
			Language:      "ko",
			RecordSeconds: 5,
			Timeout:       60 * time.Second,
			RecordingPath: "assets/audio/inputs/mic_input.wav",
		},
		RAG: RAGConfig{
			DBPath:         "assets/database/yuhwa.db",
			EmbeddingURL:   "http://localhost:11434",
			EmbeddingModel: "kure-v1",
			TopK:           3,
		},
		Persona: PersonaConfig{
			Name:       "유화",
			PromptsDir: "server/configs/prompts",
		},
		Session: SessionConfig{
			ID:          "local",
			RedisPrefix: "yuhwa",
		},
		Affect: AffectConfig{
			KeywordsPath: "server/configs/san_keywords.json",
		},
	}
}

// Validate 验证必需配置。
func (c *Config) Validate() error {
	if c.LLM.DialogueModel == "" {
		return fmt.Errorf("llm.dialogue_model is required")
	}
	if c.LLM.SummaryModel == "" {
		return fmt.Errorf("llm.summary_model is required")
	}
	if c.TTS.Enabled && c.TTS.APIURL == "" {
		return fmt.Errorf("tts.api_url is required when tts is enabled")
	}
	if c.STT.Enabled && c.STT.APIURL == "" {
		return fmt.Errorf("stt.api_url is required when stt is enabled")
	}
	return nil
}
