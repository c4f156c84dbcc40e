package stt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"yuhwa-talk/server/internal/config"
)

// Recognizer 语音识别器。StartListening 单飞：已有识别在途时是 no-op。
// worker 线程依次：录音 -> 转写（失败得空串）-> 删除临时文件 ->
// 存结果 -> 最后一步清掉 processing 标记。
// CheckResult 读后即清：同一条结果只会被取走一次。
type Recognizer struct {
	cfg      config.STTConfig
	recorder Recorder
	client   *http.Client
	logger   *log.Logger

	mu         sync.Mutex
	processing bool
	result     *string
}

func NewRecognizer(cfg config.STTConfig, recorder Recorder, logger *log.Logger) *Recognizer {
	if logger == nil {
		logger = log.Default()
	}
	return &Recognizer{
		cfg:      cfg,
		recorder: recorder,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

// StartListening 开始一次录音+转写。durationSeconds<=0 时用配置默认值。
// 返回 false 表示上一次识别还在途（本次被忽略）。
func (r *Recognizer) StartListening(durationSeconds int) bool {
	r.mu.Lock()
	if r.processing {
		r.mu.Unlock()
		r.logger.Printf("[STT] listening request ignored: recognition in flight")
		return false
	}
	r.processing = true
	r.result = nil
	r.mu.Unlock()

	if durationSeconds <= 0 {
		durationSeconds = r.cfg.RecordSeconds
	}

	go func() {
		text := r.recordAndTranscribe(durationSeconds)

		r.mu.Lock()
		r.result = &text
		r.processing = false
		r.mu.Unlock()
	}()
	return true
}

// recordAndTranscribe worker 主体。任何失败都归结为空串结果，
// 绝不向外抛错。
func (r *Recognizer) recordAndTranscribe(durationSeconds int) string {
	path, err := r.recorder.Record(durationSeconds)
	if err != nil {
		r.logger.Printf("[STT] recording failed: %v", err)
		return ""
	}
	defer os.Remove(path)

	text, err := r.transcribe(path)
	if err != nil {
		r.logger.Printf("[STT] transcription failed: %v", err)
		return ""
	}
	r.logger.Printf("[STT] transcribed: %q", text)
	return text
}

// CheckResult 非阻塞查询。识别在途或结果已被取走时返回 absent；
// 结果可能是空串（录音失败或没识别出内容），仍算一次有效返回。
func (r *Recognizer) CheckResult() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.processing || r.result == nil {
		return "", false
	}
	text := *r.result
	r.result = nil
	return text, true
}

func (r *Recognizer) IsProcessing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processing
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// transcribe 把 wav 以 multipart 表单发给 whisper-server 风格的接口。
func (r *Recognizer) transcribe(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open recording: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("build form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("copy recording: %w", err)
	}
	if r.cfg.Language != "" {
		writer.WriteField("language", r.cfg.Language)
	}
	writer.WriteField("response_format", "json")
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finish form: %w", err)
	}

	resp, err := r.client.Post(r.cfg.APIURL, writer.FormDataContentType(), &buf)
	if err != nil {
		return "", fmt.Errorf("call transcriber: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read transcriber response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcriber http status %d", resp.StatusCode)
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode transcriber response: %w", err)
	}
	return parsed.Text, nil
}
