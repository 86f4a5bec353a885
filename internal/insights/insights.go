// Package insights distills a transcript into a structured markdown
// document via a generative summarizer.
package insights

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// RequestConfig enumerates the recognized per-call options.
type RequestConfig struct {
	SystemPrompt string
	Model        string
}

// Summarizer is the generative-model boundary.
type Summarizer interface {
	Summarize(ctx context.Context, text string, cfg RequestConfig) (string, error)
}

// Config controls the extraction loop.
type Config struct {
	Model string
	// ChunkChars is the maximum input size per summarizer call,
	// approximating a 32k-token window at four characters per token.
	ChunkChars int
	// CallDelay is the fixed throttle between summarizer calls.
	CallDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "gemini-2.5-flash"
	}
	if c.ChunkChars == 0 {
		c.ChunkChars = 32000 * 4
	}
	if c.CallDelay == 0 {
		c.CallDelay = 10 * time.Second
	}
	return c
}

// Extractor runs the two-pass extraction: one summarizer call per
// transcript chunk, then a final merging call over the concatenation.
type Extractor struct {
	summarizer Summarizer
	cfg        Config
	logger     *slog.Logger

	// sleep is the inter-call throttle. Tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExtractor creates an Extractor.
func NewExtractor(summarizer Summarizer, cfg Config) *Extractor {
	return &Extractor{
		summarizer: summarizer,
		cfg:        cfg.withDefaults(),
		logger:     slog.Default(),
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Extract produces the final markdown document for a transcript.
func (e *Extractor) Extract(ctx context.Context, transcript string) (string, error) {
	chunks := SplitText(transcript, e.cfg.ChunkChars)
	e.logger.Info("extracting insights", "chunks", len(chunks))

	var segments []string
	for i, chunk := range chunks {
		out, err := e.summarizer.Summarize(ctx, chunk, RequestConfig{
			SystemPrompt: segmentPrompt,
			Model:        e.cfg.Model,
		})
		if err != nil {
			return "", fmt.Errorf("summarizing segment %d/%d: %w", i+1, len(chunks), err)
		}
		segments = append(segments, out)

		if err := e.sleep(ctx, e.cfg.CallDelay); err != nil {
			return "", err
		}
	}

	final, err := e.summarizer.Summarize(ctx, strings.Join(segments, "\n\n"), RequestConfig{
		SystemPrompt: finalSummaryPrompt,
		Model:        e.cfg.Model,
	})
	if err != nil {
		return "", fmt.Errorf("merging segment insights: %w", err)
	}
	return final, nil
}

// SplitText cuts text into pieces of at most maxChars, preferring paragraph
// breaks, then line breaks, then spaces, before falling back to a hard cut.
func SplitText(text string, maxChars int) []string {
	var chunks []string
	for len(text) > maxChars {
		cut := findCut(text, maxChars)
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func findCut(text string, maxChars int) int {
	window := text[:maxChars]
	for _, sep := range []string{"\n\n", "\n", " "} {
		if idx := strings.LastIndex(window, sep); idx > 0 {
			return idx + len(sep)
		}
	}
	return maxChars
}
