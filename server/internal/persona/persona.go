package persona

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"yuhwa-talk/server/internal/config"
	"yuhwa-talk/server/internal/llm"
	"yuhwa-talk/server/internal/model"
)

// Builder 负责把回合上下文组装成推理请求。
// 模板从 prompts 目录加载（system.md / dialogue.md），占位符用
// {user_text} 这种花括号形式替换。模板缺失不致命：退回内置模板并记日志。
type Builder struct {
	name         string
	systemPrompt string
	dialogueTmpl string

	dialogueModel string
	summaryModel  string
	temperature   float64
	topP          float64

	logger *log.Logger
}

// 内置兜底模板。正式人设由 configs/prompts 下的文件定义。
const fallbackSystem = `너는 '유화'라는 이름의 소녀다. 관리자와 단둘이 낡은 서재에서 지낸다.
반드시 {"dialogue": "...", "action_pre": "...", "action_post": "...", "new_emotion": "..."} 형식의 JSON 객체 하나로만 응답하라.`

const fallbackDialogue = `### [State]
정신: {san_label} / 호감: {likability_label}
직전 감정: {last_emotion}
직전 주제: {last_topic}

{retrieval}### [Input]
관리자: "{user_text}"

### [Output]
(JSON 객체만 출력)`

func NewBuilder(personaCfg config.PersonaConfig, llmCfg config.LLMConfig, logger *log.Logger) *Builder {
	if logger == nil {
		logger = log.Default()
	}
	b := &Builder{
		name:          personaCfg.Name,
		systemPrompt:  fallbackSystem,
		dialogueTmpl:  fallbackDialogue,
		dialogueModel: llmCfg.DialogueModel,
		summaryModel:  llmCfg.SummaryModel,
		temperature:   llmCfg.Gemini.Temperature,
		topP:          llmCfg.Gemini.TopP,
		logger:        logger,
	}
	if b.name == "" {
		b.name = "유화"
	}

	if personaCfg.PromptsDir != "" {
		b.loadTemplate(filepath.Join(personaCfg.PromptsDir, "system.md"), &b.systemPrompt)
		b.loadTemplate(filepath.Join(personaCfg.PromptsDir, "dialogue.md"), &b.dialogueTmpl)
	}
	return b
}

func (b *Builder) loadTemplate(path string, dst *string) {
	content, err := os.ReadFile(path)
	if err != nil {
		b.logger.Printf("[Persona] template %s unavailable (%v), using built-in", path, err)
		return
	}
	*dst = string(content)
}

// DialogueRequest 组装一次对话生成请求。retrieval 为已格式化的参考资料块，
// 可为空串。
func (b *Builder) DialogueRequest(req model.TurnRequest, retrieval string) llm.Request {
	if retrieval != "" && !strings.HasSuffix(retrieval, "\n") {
		retrieval += "\n"
	}
	replacer := strings.NewReplacer(
		"{name}", b.name,
		"{user_text}", req.UserText,
		"{san_label}", req.Context.SanityLabel,
		"{likability_label}", req.Context.LikabilityLabel,
		"{last_emotion}", req.Context.LastEmotion,
		"{last_topic}", req.Context.LastTopic,
		"{retrieval}", retrieval,
	)
	return llm.Request{
		Model:  b.dialogueModel,
		Prompt: replacer.Replace(b.dialogueTmpl),
		System: replacer.Replace(b.systemPrompt),
		Options: llm.Options{
			Temperature: b.temperature,
			TopP:        b.topP,
		},
	}
}

// SummaryRequest 组装话题摘要请求：一句话概括当前核心话题，
// 名词形结尾、40 token 上限、遇换行或 ### 即停。
func (b *Builder) SummaryRequest(userText, aiText, prevTopic string) llm.Request {
	prompt := fmt.Sprintf(`### [Task]
상황 기록관으로서, 아래 대화를 바탕으로 현재 핵심 주제를 한 문장으로 요약하십시오.
(주어는 '%s' 또는 '관리자'로 시작, 20자 이내 명사형 종결)

### [Previous Topic]
%s

### [Conversation]
관리자: "%s"
%s: "%s"

### [Output]
(요약문만 출력)`, b.name, prevTopic, userText, b.name, aiText)

	return llm.Request{
		Model:  b.summaryModel,
		Prompt: prompt,
		Options: llm.Options{
			NumPredict: 40,
			Stop:       []string{"\n", "###"},
		},
	}
}

// SanitizeSummary 清洗摘要输出：去引号、只留第一行、裁空白。
// 清洗后为空串表示摘要不可用。
func SanitizeSummary(text string) string {
	text = strings.ReplaceAll(text, `"`, "")
	text = strings.ReplaceAll(text, "'", "")
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
