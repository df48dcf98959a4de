package audio

import (
	"fmt"
	"os"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Format WAV文件的PCM格式参数
type Format struct {
	SampleRate int // 采样率
	Channels   int // 声道数
	BitDepth   int // 位深
}

// pcmBufferSize 流式拷贝的样本缓冲大小
const pcmBufferSize = 8192

// Probe 读取WAV文件的格式参数
func Probe(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return Format{}, fmt.Errorf("failed to open wav file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Format{}, fmt.Errorf("invalid wav file: %s", path)
	}

	return Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}, nil
}

// ConcatWAV 把多个WAV文件按顺序拼接为一个
// 文件之间插入指定时长的静音；所有输入必须与第一个文件格式一致。
// 输出直接写到outPath，调用方负责临时目录和原子改名
func ConcatWAV(inputs []string, outPath string, silence time.Duration) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no input files to concatenate")
	}

	format, err := Probe(inputs[0])
	if err != nil {
		return err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	enc := wav.NewEncoder(out, format.SampleRate, format.BitDepth, format.Channels, 1)

	for i, in := range inputs {
		if i > 0 && silence > 0 {
			if err := writeSilence(enc, format, silence); err != nil {
				out.Close()
				return err
			}
		}
		if err := appendWAV(enc, in, format); err != nil {
			out.Close()
			return err
		}
	}

	if err := enc.Close(); err != nil {
		out.Close()
		return fmt.Errorf("failed to finalize wav encoder: %w", err)
	}
	return out.Close()
}

// appendWAV 把一个输入文件的全部PCM数据写入编码器
func appendWAV(enc *wav.Encoder, path string, format Format) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open wav file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return fmt.Errorf("invalid wav file: %s", path)
	}
	if int(dec.SampleRate) != format.SampleRate || int(dec.NumChans) != format.Channels {
		return fmt.Errorf("wav format mismatch in %s: got %dHz/%dch, want %dHz/%dch",
			path, dec.SampleRate, dec.NumChans, format.SampleRate, format.Channels)
	}

	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		SourceBitDepth: format.BitDepth,
		Data:           make([]int, pcmBufferSize*format.Channels),
	}

	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return fmt.Errorf("failed to read pcm data from %s: %w", path, err)
		}
		if n == 0 {
			return nil
		}

		chunk := buf
		if n < len(buf.Data) {
			chunk = &gaudio.IntBuffer{
				Format:         buf.Format,
				SourceBitDepth: buf.SourceBitDepth,
				Data:           buf.Data[:n],
			}
		}
		if err := enc.Write(chunk); err != nil {
			return fmt.Errorf("failed to write pcm data: %w", err)
		}
	}
}

// writeSilence 写入指定时长的静音样本
func writeSilence(enc *wav.Encoder, format Format, d time.Duration) error {
	numSamples := int(float64(format.SampleRate)*d.Seconds()) * format.Channels
	if numSamples == 0 {
		return nil
	}

	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		SourceBitDepth: format.BitDepth,
		Data:           make([]int, numSamples),
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write silence: %w", err)
	}
	return nil
}
