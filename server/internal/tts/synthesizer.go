package tts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"yuhwa-talk/server/internal/config"
)

// Synthesizer 调用 GPT-SoVITS 风格的 HTTP 合成服务。
// Synthesize 是阻塞调用，由编排器的 worker goroutine 执行；
// 任何失败（禁用、空文本、网络错误、服务端报错）都只返回「无结果」，
// 错误停留在日志里，绝不越过组件边界。
type Synthesizer struct {
	cfg     config.TTSConfig
	enabled bool
	client  *http.Client
	logger  *log.Logger
}

func NewSynthesizer(cfg config.TTSConfig, logger *log.Logger) *Synthesizer {
	if logger == nil {
		logger = log.Default()
	}
	s := &Synthesizer{
		cfg:     cfg,
		enabled: cfg.Enabled,
		client:  &http.Client{Timeout: cfg.Synthesis.Timeout},
		logger:  logger,
	}
	if s.enabled && cfg.APIURL == "" {
		s.logger.Printf("[TTS] no api_url configured, synthesis disabled")
		s.enabled = false
	}
	return s
}

func (s *Synthesizer) Enabled() bool {
	return s.enabled
}

// profileFor 两段式音色查找：领域情绪标签 -> 内部情绪键 -> 参考音色。
// 任一段查不到都落回默认键。
func (s *Synthesizer) profileFor(emotion string) (string, config.VoiceProfile) {
	key, ok := s.cfg.LabelMap[emotion]
	if !ok {
		key = s.cfg.DefaultEmotion
	}
	profile, ok := s.cfg.EmotionMaps[key]
	if !ok {
		key = s.cfg.DefaultEmotion
		profile = s.cfg.EmotionMaps[key]
	}
	return key, profile
}

type synthesisRequest struct {
	Text            string  `json:"text"`
	TextLang        string  `json:"text_lang"`
	RefAudioPath    string  `json:"ref_audio_path"`
	PromptText      string  `json:"prompt_text"`
	PromptLang      string  `json:"prompt_lang"`
	TextSplitMethod string  `json:"text_split_method"`
	SpeedFactor     float64 `json:"speed_factor"`
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"top_p"`
	BatchSize       int     `json:"batch_size"`
	Seed            int     `json:"seed"`
}

// synthesisEnvelope 服务端的 JSON 状态信封（非 wav 直出时使用）。
type synthesisEnvelope struct {
	Status    string `json:"status"`
	AudioPath string `json:"audio_path"`
	Message   string `json:"message"`
}

// Synthesize 合成一句台词，返回写好的音频文件路径。
// 第二个返回值为 false 表示本回合没有音频（调用方直接走纯文本路径）。
func (s *Synthesizer) Synthesize(text, emotion string) (string, bool) {
	if !s.enabled {
		return "", false
	}
	if strings.TrimSpace(text) == "" {
		return "", false
	}

	key, profile := s.profileFor(emotion)
	if profile.Path == "" {
		s.logger.Printf("[TTS] no voice profile for emotion %q (key %q), skipping synthesis", emotion, key)
		return "", false
	}

	payload := synthesisRequest{
		Text:            text,
		TextLang:        s.cfg.TextLang,
		RefAudioPath:    profile.Path,
		PromptText:      profile.Text,
		PromptLang:      profile.Lang,
		TextSplitMethod: "cut5",
		SpeedFactor:     s.cfg.Synthesis.SpeedFactor,
		Temperature:     s.cfg.Synthesis.Temperature,
		TopP:            s.cfg.Synthesis.TopP,
		BatchSize:       1,
		Seed:            -1,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Printf("[TTS] marshal request: %v", err)
		return "", false
	}

	resp, err := s.client.Post(s.cfg.APIURL, "application/json", bytes.NewReader(body))
	if err != nil {
		s.logger.Printf("[TTS] synthesis call failed: %v", err)
		return "", false
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		s.logger.Printf("[TTS] read synthesis response: %v", err)
		return "", false
	}

	// wav 直出：整段响应就是音频字节。
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "audio/") {
		if resp.StatusCode != http.StatusOK {
			s.logger.Printf("[TTS] synthesis http status %d", resp.StatusCode)
			return "", false
		}
		path, err := s.writeAudio(data)
		if err != nil {
			s.logger.Printf("[TTS] write audio: %v", err)
			return "", false
		}
		s.logger.Printf("[TTS] synthesized %d bytes (emotion %s) -> %s", len(data), key, path)
		return path, true
	}

	// JSON 状态信封。
	var envelope synthesisEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Printf("[TTS] unexpected synthesis response (status %d): %v", resp.StatusCode, err)
		return "", false
	}
	if envelope.Status != "success" || envelope.AudioPath == "" {
		s.logger.Printf("[TTS] synthesis rejected: status=%q message=%q", envelope.Status, envelope.Message)
		return "", false
	}
	s.logger.Printf("[TTS] synthesized (emotion %s) -> %s", key, envelope.AudioPath)
	return envelope.AudioPath, true
}

func (s *Synthesizer) writeAudio(data []byte) (string, error) {
	path := s.cfg.OutputPath
	if path == "" {
		path = filepath.Join(os.TempDir(), "yuhwa_response.wav")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write wav: %w", err)
	}
	return path, nil
}
