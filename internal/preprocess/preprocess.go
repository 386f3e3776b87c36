// Package preprocess bounds the size of fetched web content before it
// is injected into a model prompt. Long content goes through a
// two-stage pipeline: split into chunks, condense each chunk
// concurrently, then synthesize the condensed chunks into one bounded
// article. The pipeline is explicitly lossy.
package preprocess

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// Condenser is the external summarization collaborator. Both calls are
// black boxes from this package's point of view.
type Condenser interface {
	// Condense rewrites one chunk into a shorter form.
	Condense(ctx context.Context, text string) (string, error)

	// Synthesize integrates condensed sections, given in order, into
	// one article.
	Synthesize(ctx context.Context, sections []string) (string, error)
}

// Config configures the preprocessor.
type Config struct {
	// SingleChunkThreshold is the character count below which content
	// passes through untouched, and the maximum chunk size above it.
	SingleChunkThreshold int

	// MaxSynthesisChars bounds the synthesized output length.
	MaxSynthesisChars int

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger
}

// Validate applies defaults.
func (c *Config) Validate() error {
	if c.SingleChunkThreshold == 0 {
		c.SingleChunkThreshold = 10_000
	}
	if c.MaxSynthesisChars == 0 {
		c.MaxSynthesisChars = 2_000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Preprocessor condenses oversized content.
type Preprocessor struct {
	condenser Condenser
	config    Config
	logger    *slog.Logger
}

// New creates a Preprocessor.
func New(condenser Condenser, config Config) *Preprocessor {
	_ = config.Validate()
	return &Preprocessor{
		condenser: condenser,
		config:    config,
		logger:    config.Logger.With("component", "preprocess"),
	}
}

// Process returns text unchanged when it fits in a single chunk.
// Otherwise it condenses every chunk concurrently, reassembles the
// results strictly by ordinal, and synthesizes them into an article of
// at most MaxSynthesisChars characters. A failed chunk condensation
// falls back to the raw chunk text so nothing is dropped silently;
// only a failed synthesis surfaces as an error.
func (p *Preprocessor) Process(ctx context.Context, text string) (string, error) {
	if utf8.RuneCountInString(text) <= p.config.SingleChunkThreshold {
		return text, nil
	}

	chunks := splitChunks(text, p.config.SingleChunkThreshold)
	p.logger.Info("condensing content", "chars", utf8.RuneCountInString(text), "chunks", len(chunks))

	// Fan out one condensation per chunk. Failures degrade that chunk
	// to its raw text; they never cancel sibling condensations.
	sections := make([]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			condensed, err := p.condenser.Condense(gctx, chunk)
			if err != nil {
				p.logger.Warn("chunk condensation failed, keeping raw text", "ordinal", i, "error", err)
				sections[i] = truncateRunes(chunk, p.config.SingleChunkThreshold)
				return nil
			}
			sections[i] = condensed
			return nil
		})
	}
	_ = g.Wait()

	article, err := p.condenser.Synthesize(ctx, sections)
	if err != nil {
		return "", fmt.Errorf("synthesize article: %w", err)
	}

	article = truncateRunes(article, p.config.MaxSynthesisChars)
	p.logger.Info("content condensed",
		"input_chars", utf8.RuneCountInString(text),
		"output_chars", utf8.RuneCountInString(article))
	return article, nil
}
