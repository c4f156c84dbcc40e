package stt

import (
	"fmt"
	"io"
	"os"
)

// Recorder 录制一段定长音频并返回临时 wav 文件路径（16kHz 单声道约定）。
// 返回的文件归 Recognizer 所有，转写完成后会被删除。
// 真实麦克风设备不在本服务范围内：渲染端自行采音后可以用
// FixtureRecorder 的方式把 wav 交进来，测试用内联 stub。
type Recorder interface {
	Record(durationSeconds int) (string, error)
}

// FixtureRecorder 把一个既有 wav 复制成临时文件交给识别器。
// 渲染端上传的录音落盘后即可作为 Source 使用。
type FixtureRecorder struct {
	Source string
}

func (r FixtureRecorder) Record(durationSeconds int) (string, error) {
	src, err := os.Open(r.Source)
	if err != nil {
		return "", fmt.Errorf("open source audio: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "yuhwa_stt_*.wav")
	if err != nil {
		return "", fmt.Errorf("create temp audio: %w", err)
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, src); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("copy audio: %w", err)
	}
	return tmp.Name(), nil
}
