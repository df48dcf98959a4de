package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// mp3Quality libmp3lame的VBR质量等级，2约等于190kbps
const mp3Quality = "2"

// HasFFmpeg 检查ffmpeg是否可用
// 不可用时MP3输出会被禁用，仅保留WAV
func HasFFmpeg() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// ConvertToMP3 用ffmpeg把WAV文件转码为MP3
func ConvertToMP3(ctx context.Context, wavPath, mp3Path string) error {
	return runFFmpeg(ctx,
		"-y",
		"-i", wavPath,
		"-codec:a", "libmp3lame",
		"-qscale:a", mp3Quality,
		mp3Path,
	)
}

// ConvertToWAV 用ffmpeg把任意音频文件解码为WAV
// 用于把MP3原生输出的引擎结果统一成可拼接的格式
func ConvertToWAV(ctx context.Context, inPath, wavPath string) error {
	return runFFmpeg(ctx, "-y", "-i", inPath, wavPath)
}

func runFFmpeg(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 200 {
			detail = detail[len(detail)-200:]
		}
		return fmt.Errorf("ffmpeg conversion failed: %w: %s", err, detail)
	}
	return nil
}
