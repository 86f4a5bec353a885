// Package transcribe turns audio files into text by feeding fixed-size
// overlapping chunks to a speech-to-text engine and stitching the outputs.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Engine is the speech-to-text boundary. Samples are 16kHz mono PCM.
type Engine interface {
	Transcribe(ctx context.Context, samples []float32, language string) (string, error)
}

// Decoder loads an audio file into mono PCM samples at the configured rate.
type Decoder interface {
	Decode(ctx context.Context, path string) ([]float32, error)
}

// Config controls chunking. Zero values take the defaults the engine was
// tuned for.
type Config struct {
	ChunkSeconds   int
	OverlapSeconds int
	SampleRate     int
	Language       string
}

func (c Config) withDefaults() Config {
	if c.ChunkSeconds == 0 {
		c.ChunkSeconds = 30
	}
	if c.OverlapSeconds == 0 {
		c.OverlapSeconds = 3
	}
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.Language == "" {
		c.Language = "en"
	}
	return c
}

// Transcriber runs the chunked transcription loop.
type Transcriber struct {
	engine  Engine
	decoder Decoder
	cfg     Config
	logger  *slog.Logger
}

// New creates a Transcriber.
func New(engine Engine, decoder Decoder, cfg Config) *Transcriber {
	return &Transcriber{
		engine:  engine,
		decoder: decoder,
		cfg:     cfg.withDefaults(),
		logger:  slog.Default(),
	}
}

// Run transcribes the audio file and returns the stitched text. progress, if
// non-nil, is called with (completed, total) before each chunk and once more
// after the last.
func (t *Transcriber) Run(ctx context.Context, audioPath string, progress func(done, total int)) (string, error) {
	samples, err := t.decoder.Decode(ctx, audioPath)
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", audioPath, err)
	}

	chunks := chunkSamples(samples, t.cfg.ChunkSeconds, t.cfg.OverlapSeconds, t.cfg.SampleRate)
	total := len(chunks)

	var parts []string
	prev := ""
	for i, chunk := range chunks {
		if progress != nil {
			progress(i, total)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := t.engine.Transcribe(ctx, chunk, t.cfg.Language)
		if err != nil {
			return "", fmt.Errorf("transcribing chunk %d/%d: %w", i+1, total, err)
		}
		text = strings.TrimSpace(text)
		if prev != "" {
			text = RemoveOverlap(prev, text, overlapWindowWords, overlapSimilarityThreshold)
		}
		parts = append(parts, text)
		prev = text
	}
	if progress != nil {
		progress(total, total)
	}

	return strings.Join(parts, " "), nil
}

// chunkSamples splits audio into overlapping windows. The final chunk is
// zero-padded to the full window size so the engine always sees uniform
// input lengths.
func chunkSamples(samples []float32, chunkSeconds, overlapSeconds, sampleRate int) [][]float32 {
	chunkSize := chunkSeconds * sampleRate
	step := chunkSize - overlapSeconds*sampleRate

	var chunks [][]float32
	for i := 0; i < len(samples); i += step {
		end := i + chunkSize
		if end <= len(samples) {
			chunks = append(chunks, samples[i:end])
			continue
		}
		padded := make([]float32, chunkSize)
		copy(padded, samples[i:])
		chunks = append(chunks, padded)
	}
	return chunks
}
