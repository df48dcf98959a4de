package tts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/fyerfyer/epub-audiobook/internal/models"
)

// edgeVoices 内置语音短名到Edge语音标识的映射
var edgeVoices = map[string]string{
	"henri":   "fr-FR-HenriNeural",
	"denise":  "fr-FR-DeniseNeural",
	"eloise":  "fr-FR-EloiseNeural",
	"guy":     "en-US-GuyNeural",
	"aria":    "en-US-AriaNeural",
	"default": "fr-FR-HenriNeural",
}

// EdgeEngine 基于edge-tts命令行的云端合成引擎
// 输出为MP3文件，需要网络连接
type EdgeEngine struct {
	cmd    []string
	config *Config
}

func init() {
	RegisterEngine("edge", NewEdgeEngine)
}

// NewEdgeEngine 创建Edge合成引擎
func NewEdgeEngine(opts ...Option) (Engine, error) {
	cfg := NewConfig(opts...)
	if cfg.Command == "" {
		cfg.Command = "edge-tts"
	}

	args, err := shellwords.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse engine command %q: %w", cfg.Command, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command is empty")
	}

	return &EdgeEngine{cmd: args, config: cfg}, nil
}

// Name 返回引擎名称
func (e *EdgeEngine) Name() string {
	return "edge"
}

// OutputFormat Edge原生输出MP3
func (e *EdgeEngine) OutputFormat() string {
	return "mp3"
}

// Synthesize 调用edge-tts进程合成一段文本
func (e *EdgeEngine) Synthesize(ctx context.Context, req SynthRequest) error {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return models.NewEngineError(e.Name(), 0, fmt.Errorf("empty text"))
	}

	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	args := e.buildArgs(req, text)
	cmd := exec.CommandContext(ctx, e.cmd[0], args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		return models.NewEngineError(e.Name(), 0, err)
	}

	return nil
}

// buildArgs 组装edge-tts的命令行参数
func (e *EdgeEngine) buildArgs(req SynthRequest, text string) []string {
	args := append([]string{}, e.cmd[1:]...)
	args = append(args,
		"--voice", e.voiceID(req.Voice),
		"--text", text,
		"--write-media", req.OutputPath,
	)

	speed := req.Speed
	if speed <= 0 {
		speed = e.config.Speed
	}
	if speed > 0 && speed != 1.0 {
		// edge-tts用百分比表示语速偏移，+50%即1.5倍速
		percent := int((speed - 1.0) * 100)
		args = append(args, "--rate", fmt.Sprintf("%+d%%", percent))
	}

	return args
}

// voiceID 把语音短名解析为Edge语音标识
func (e *EdgeEngine) voiceID(voice string) string {
	if voice == "" {
		voice = e.config.Voice
	}
	if id, ok := edgeVoices[voice]; ok {
		return id
	}
	if strings.Contains(voice, "-") {
		return voice
	}
	return edgeVoices["default"]
}
