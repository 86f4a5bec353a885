package transcribe

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os/exec"
	"strconv"
)

// FFmpegDecoder shells out to ffmpeg to decode any input container into
// mono float32 PCM at the configured sample rate.
type FFmpegDecoder struct {
	binary     string
	sampleRate int
}

func NewFFmpegDecoder(sampleRate int) *FFmpegDecoder {
	return &FFmpegDecoder{binary: "ffmpeg", sampleRate: sampleRate}
}

func (d *FFmpegDecoder) Decode(ctx context.Context, path string) ([]float32, error) {
	cmd := exec.CommandContext(ctx, d.binary,
		"-v", "error",
		"-i", path,
		"-f", "f32le",
		"-ac", "1",
		"-ar", strconv.Itoa(d.sampleRate),
		"pipe:1",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("decoding %s: %s", path, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return decodeF32LE(stdout.Bytes()), nil
}

func decodeF32LE(data []byte) []float32 {
	samples := make([]float32, len(data)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}
