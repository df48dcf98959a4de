package tts

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/fyerfyer/epub-audiobook/internal/models"
)

// MockEngine 测试用合成引擎
// 不依赖外部进程，按文本长度生成一段正弦波WAV，
// 时长与词数成正比，便于校验拼接逻辑
type MockEngine struct {
	config *Config

	// FailTimes 前N次调用强制失败，用于重试路径测试
	FailTimes int
	calls     int
}

func init() {
	RegisterEngine("mock", NewMockEngine)
}

// NewMockEngine 创建测试合成引擎
func NewMockEngine(opts ...Option) (Engine, error) {
	return &MockEngine{config: NewConfig(opts...)}, nil
}

// Name 返回引擎名称
func (e *MockEngine) Name() string {
	return "mock"
}

// OutputFormat 测试引擎输出WAV
func (e *MockEngine) OutputFormat() string {
	return "wav"
}

// Calls 返回累计调用次数
func (e *MockEngine) Calls() int {
	return e.calls
}

// Synthesize 生成一段正弦波WAV文件
func (e *MockEngine) Synthesize(ctx context.Context, req SynthRequest) error {
	e.calls++
	if e.calls <= e.FailTimes {
		return models.NewEngineError(e.Name(), 0, fmt.Errorf("simulated failure %d", e.calls))
	}

	if err := ctx.Err(); err != nil {
		return models.NewEngineError(e.Name(), 0, err)
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return models.NewEngineError(e.Name(), 0, fmt.Errorf("empty text"))
	}

	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	sampleRate := e.config.SampleRate
	if sampleRate <= 0 {
		sampleRate = 22050
	}

	// 每个词10毫秒，至少100毫秒
	words := len(strings.Fields(text))
	numSamples := sampleRate * (100 + words*10) / 1000

	out, err := os.Create(req.OutputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	enc := wav.NewEncoder(out, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, numSamples),
	}
	for i := range buf.Data {
		buf.Data[i] = int(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}

	if err := enc.Write(buf); err != nil {
		out.Close()
		return models.NewEngineError(e.Name(), 0, err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return models.NewEngineError(e.Name(), 0, err)
	}
	return out.Close()
}
