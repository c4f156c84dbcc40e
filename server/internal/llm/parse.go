package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"yuhwa-talk/server/internal/model"
)

// Parse 从模型原始输出中提取第一个花括号包裹的 JSON 对象并解析成
// DialogueResult。模型经常在对象前后夹带解释文字或 markdown 围栏，
// 所以不能整体反序列化，只能定位首个配对完整的对象。
// 找不到可解析对象时返回错误，调用方降级为原文展示。
func Parse(raw string) (model.DialogueResult, error) {
	obj, ok := firstObject(raw)
	if !ok {
		return model.DialogueResult{Raw: raw}, fmt.Errorf("no json object in model output")
	}

	var result model.DialogueResult
	if err := json.Unmarshal([]byte(obj), &result); err != nil {
		return model.DialogueResult{Raw: raw}, fmt.Errorf("decode dialogue object: %w", err)
	}
	if strings.TrimSpace(result.Dialogue) == "" {
		return model.DialogueResult{Raw: raw}, fmt.Errorf("dialogue object missing dialogue field")
	}
	result.Raw = raw
	return result, nil
}

// firstObject 扫描出首个括号配对完整的 {...} 片段。
// 字符串字面量内部的花括号与转义引号不参与配对计数。
func firstObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}
