package tts

import (
	"context"
	"fmt"
	"time"
)

// Engine 语音合成引擎接口
// 负责将一段文本合成为音频文件
type Engine interface {
	// Synthesize 合成一段文本，结果写入req.OutputPath
	Synthesize(ctx context.Context, req SynthRequest) error

	// Name 返回引擎名称
	Name() string

	// OutputFormat 返回引擎原生输出的音频格式（wav或mp3）
	OutputFormat() string
}

// SynthRequest 单次合成请求的参数
type SynthRequest struct {
	Text       string  // 要合成的文本块
	Voice      string  // 语音标识（短名或模型路径）
	Speed      float64 // 语速倍率（1.0为正常语速）
	OutputPath string  // 输出文件路径
}

// Config 合成引擎配置
type Config struct {
	Command    string        // 引擎可执行命令（可含附加参数）
	ModelDir   string        // 语音模型所在目录
	Voice      string        // 默认语音标识
	Speed      float64       // 默认语速倍率
	SampleRate int           // 采样率
	Timeout    time.Duration // 单次合成超时时间
}

// Option 引擎配置选项函数类型
type Option func(*Config)

// WithCommand 设置引擎可执行命令
func WithCommand(command string) Option {
	return func(c *Config) {
		c.Command = command
	}
}

// WithModelDir 设置语音模型目录
func WithModelDir(dir string) Option {
	return func(c *Config) {
		c.ModelDir = dir
	}
}

// WithVoice 设置默认语音
func WithVoice(voice string) Option {
	return func(c *Config) {
		c.Voice = voice
	}
}

// WithSpeed 设置默认语速倍率
func WithSpeed(speed float64) Option {
	return func(c *Config) {
		c.Speed = speed
	}
}

// WithSampleRate 设置采样率
func WithSampleRate(rate int) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

// WithTimeout 设置单次合成超时时间
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// DefaultConfig 返回默认引擎配置
func DefaultConfig() *Config {
	return &Config{
		ModelDir:   "models",
		Voice:      "upmc",
		Speed:      1.0,
		SampleRate: 22050,
		Timeout:    5 * time.Minute,
	}
}

// NewConfig 创建一个新的配置并应用选项
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Factory 合成引擎工厂函数类型
type Factory func(opts ...Option) (Engine, error)

// 全局注册的合成引擎工厂函数
var engineFactories = make(map[string]Factory)

// RegisterEngine 注册合成引擎工厂函数
func RegisterEngine(name string, factory Factory) {
	engineFactories[name] = factory
}

// NewEngine 根据名称创建合成引擎
func NewEngine(name string, opts ...Option) (Engine, error) {
	factory, exists := engineFactories[name]
	if !exists {
		return nil, fmt.Errorf("tts engine not registered: %s", name)
	}
	return factory(opts...)
}
