package tts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/fyerfyer/epub-audiobook/internal/models"
)

// piperVoices 内置语音短名到模型文件的映射
// 短名之外的语音标识按模型路径处理
var piperVoices = map[string]string{
	"upmc":   "upmc/medium/fr_FR-upmc-medium.onnx",
	"siwis":  "siwis/medium/fr_FR-siwis-medium.onnx",
	"tom":    "tom/medium/fr_FR-tom-medium.onnx",
	"gilles": "gilles/low/fr_FR-gilles-low.onnx",
	"mls":    "mls/medium/fr_FR-mls-medium.onnx",
}

// PiperEngine 基于Piper命令行的本地合成引擎
// 文本通过标准输入喂给piper进程，输出为WAV文件
type PiperEngine struct {
	cmd    []string
	config *Config
}

func init() {
	RegisterEngine("piper", NewPiperEngine)
}

// NewPiperEngine 创建Piper合成引擎
func NewPiperEngine(opts ...Option) (Engine, error) {
	cfg := NewConfig(opts...)
	if cfg.Command == "" {
		cfg.Command = "piper"
	}

	args, err := shellwords.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse engine command %q: %w", cfg.Command, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command is empty")
	}

	return &PiperEngine{cmd: args, config: cfg}, nil
}

// Name 返回引擎名称
func (e *PiperEngine) Name() string {
	return "piper"
}

// OutputFormat Piper原生输出WAV
func (e *PiperEngine) OutputFormat() string {
	return "wav"
}

// Synthesize 调用piper进程合成一段文本
func (e *PiperEngine) Synthesize(ctx context.Context, req SynthRequest) error {
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

	args := e.buildArgs(req)
	cmd := exec.CommandContext(ctx, e.cmd[0], args...)
	cmd.Stdin = strings.NewReader(text)

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

// buildArgs 组装piper的命令行参数
func (e *PiperEngine) buildArgs(req SynthRequest) []string {
	args := append([]string{}, e.cmd[1:]...)
	args = append(args,
		"--model", e.modelPath(req.Voice),
		"--output_file", req.OutputPath,
	)

	speed := req.Speed
	if speed <= 0 {
		speed = e.config.Speed
	}
	if speed > 0 && speed != 1.0 {
		// piper用length-scale控制语速，与倍率互为倒数
		args = append(args, "--length-scale", strconv.FormatFloat(1.0/speed, 'f', -1, 64))
	}

	return args
}

// modelPath 把语音标识解析为模型文件路径
func (e *PiperEngine) modelPath(voice string) string {
	if voice == "" {
		voice = e.config.Voice
	}
	if rel, ok := piperVoices[voice]; ok {
		return filepath.Join(e.config.ModelDir, rel)
	}
	return voice
}
