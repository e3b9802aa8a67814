package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashita-ai/hashi/internal/model"
)

// ChunkFunc delivers one chunk to the transport. Errors are logged by the
// pipeline and never propagate to the producer.
type ChunkFunc func(ctx context.Context, chunk model.StreamChunk) error

// Pipeline composes a Normalizer, a Chunker, and a Signaler behind a
// "feed text, get callbacks" surface. Safe for concurrent use.
type Pipeline struct {
	normalizer *Normalizer
	signaler   Signaler
	onChunk    ChunkFunc
	logger     *slog.Logger

	mu      sync.Mutex
	chunker *Chunker
	seq     int
}

// NewPipeline creates a pipeline. A nil signaler disables typing pulses.
func NewPipeline(cfg ChunkerConfig, signaler Signaler, onChunk ChunkFunc, logger *slog.Logger) *Pipeline {
	if signaler == nil {
		signaler = NoopSignaler{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		normalizer: NewNormalizer(),
		signaler:   signaler,
		onChunk:    onChunk,
		logger:     logger,
		chunker:    NewChunker(cfg),
	}
}

// ProcessText normalizes raw output and delivers any chunks it completes.
func (p *Pipeline) ProcessText(ctx context.Context, raw string) {
	text := p.normalizer.Normalize(raw)
	if text == "" {
		return
	}
	p.signaler.SignalTextDelta(ctx, text)

	p.mu.Lock()
	chunks := p.chunker.AddText(text)
	out := make([]model.StreamChunk, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, p.nextChunk(c, false))
	}
	p.mu.Unlock()

	for _, c := range out {
		p.deliver(ctx, c)
	}
}

// Flush drains the chunker and stops typing. Remaining text is delivered as
// a final chunk with IsComplete set. With force, a final chunk is delivered
// even when nothing remains so edit-in-place transports can finalize.
func (p *Pipeline) Flush(ctx context.Context, force bool) {
	p.mu.Lock()
	text, ok := p.chunker.Flush()
	var final *model.StreamChunk
	if ok || force {
		c := p.nextChunk(text, true)
		final = &c
	}
	p.mu.Unlock()

	if final != nil {
		p.deliver(ctx, *final)
	}
	p.signaler.StopTyping(ctx)
}

// Progress adapts the pipeline to the plain string callback adapters use.
func (p *Pipeline) Progress(ctx context.Context) func(string) {
	return func(s string) { p.ProcessText(ctx, s) }
}

func (p *Pipeline) nextChunk(text string, complete bool) model.StreamChunk {
	p.seq++
	return model.StreamChunk{Seq: p.seq, Text: text, Timestamp: time.Now().UTC(), IsComplete: complete}
}

func (p *Pipeline) deliver(ctx context.Context, c model.StreamChunk) {
	if p.onChunk == nil {
		return
	}
	if err := p.onChunk(ctx, c); err != nil {
		p.logger.Warn("stream: chunk delivery failed", "seq", c.Seq, "error", err)
	}
}
