package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"yuhwa-talk/server/internal/config"
)

// Request 一次文本生成请求。Prompt 已由 persona 层拼装完毕，
// 后端只负责把它送到远端模型并取回原始文本。
type Request struct {
	Model   string
	Prompt  string
	System  string
	Options Options
}

// Options 采样参数。NumPredict 为 0 时不下发（交给模型默认值）。
type Options struct {
	Temperature float64
	TopP        float64
	Stop        []string
	NumPredict  int
}

// Backend 文本生成后端。云端与本地后端契约相同：
// 返回模型原始输出文本；重试/降级策略由各实现自己承担。
type Backend interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ---------------------------------------------------------------------------
// 云端后端（Gemini generateContent REST）

// GeminiBackend 云端对话后端。单次请求不重试；任何失败都被转换成
// 结构化的兜底台词（空响应 -> 沉默、异常 -> 苦痛），永远不向上层返回错误，
// 保证对话队列里总能等到一条可展示的内容。
type GeminiBackend struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *log.Logger
}

func NewGeminiBackend(cfg config.GeminiConfig, logger *log.Logger) *GeminiBackend {
	if logger == nil {
		logger = log.Default()
	}
	return &GeminiBackend{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{},
		logger:  logger,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64  `json:"temperature"`
	TopP            float64  `json:"topP"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"system_instruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// silentFallback 安全过滤或空响应时的沉默兜底台词。
const silentFallback = `{"dialogue": "...", "action_pre": "생각에 잠겨 있다.", "new_emotion": "무표정"}`

// errorPayload 把失败包装成苦痛情绪的结构化台词，让错误本身成为演出的一部分。
func errorPayload(err error) string {
	body, _ := json.Marshal(map[string]string{
		"dialogue":    fmt.Sprintf("(오류: %v)", err),
		"new_emotion": "고통",
	})
	return string(body)
}

func (g *GeminiBackend) Generate(ctx context.Context, req Request) (string, error) {
	text, err := g.generate(ctx, req)
	if err != nil {
		g.logger.Printf("[LLM] gemini request failed: %v", err)
		return errorPayload(err), nil
	}
	if strings.TrimSpace(text) == "" {
		g.logger.Printf("[LLM] gemini returned empty content, using silent fallback")
		return silentFallback, nil
	}
	return text, nil
}

func (g *GeminiBackend) generate(ctx context.Context, req Request) (string, error) {
	payload := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:   req.Options.Temperature,
			TopP:          req.Options.TopP,
			StopSequences: req.Options.Stop,
		},
	}
	if req.Options.NumPredict > 0 {
		payload.GenerationConfig.MaxOutputTokens = req.Options.NumPredict
	}
	if req.System != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, req.Model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call gemini: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read gemini response: %w", err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("gemini api error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini http status %d", resp.StatusCode)
	}
	if len(parsed.Candidates) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// ---------------------------------------------------------------------------
// 本地后端（Ollama /api/generate）

// OllamaBackend 本地对话/摘要后端。503（模型排队中）与连接失败都按固定
// 间隔重试；重试耗尽后返回错误，由调用方决定是入队错误台词还是丢弃。
type OllamaBackend struct {
	baseURL      string
	maxRetries   int
	retryBackoff time.Duration
	client       *http.Client
	logger       *log.Logger
}

func NewOllamaBackend(cfg config.OllamaConfig, logger *log.Logger) *OllamaBackend {
	if logger == nil {
		logger = log.Default()
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &OllamaBackend{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries:   retries,
		retryBackoff: backoff,
		client:       &http.Client{},
		logger:       logger,
	}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Options ollamaOptions `json:"options"`
	Stream  bool          `json:"stream"`
}

type ollamaOptions struct {
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p"`
	Stop        []string `json:"stop,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func (o *OllamaBackend) Generate(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= o.maxRetries; attempt++ {
		text, retryable, err := o.generateOnce(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
		o.logger.Printf("[LLM] ollama attempt %d/%d failed: %v", attempt, o.maxRetries, err)
		if attempt < o.maxRetries {
			select {
			case <-time.After(o.retryBackoff):
			case <-ctx.Done():
				return "", fmt.Errorf("ollama retry interrupted: %w", ctx.Err())
			}
		}
	}
	return "", fmt.Errorf("ollama exhausted %d attempts: %w", o.maxRetries, lastErr)
}

// generateOnce 单次调用。retryable 表示失败是否值得按固定间隔再试
// （503 过载与连接失败可重试，其余视为确定性失败）。
func (o *OllamaBackend) generateOnce(ctx context.Context, req Request) (text string, retryable bool, err error) {
	payload := ollamaRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		System: req.System,
		Options: ollamaOptions{
			Temperature: req.Options.Temperature,
			TopP:        req.Options.TopP,
			Stop:        req.Options.Stop,
			NumPredict:  req.Options.NumPredict,
		},
		Stream: false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", false, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", true, fmt.Errorf("call ollama: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("read ollama response: %w", err)
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		return "", true, fmt.Errorf("ollama busy (503)")
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("ollama http status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", false, fmt.Errorf("decode ollama response: %w", err)
	}
	if parsed.Error != "" {
		return "", false, fmt.Errorf("ollama error: %s", parsed.Error)
	}
	return parsed.Response, false, nil
}
