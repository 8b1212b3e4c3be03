package fanout

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skypro1111/meeting-scribe/internal/transcription"
)

// DraftSink shows the live draft transcript.
type DraftSink interface {
	RenderDraft(ctx context.Context, text string) error
	ClearDraft(ctx context.Context) error
}

// DraftConsumer renders the most recent partial transcript after a quiet
// period. Every new partial, and every Clear, supersedes the pending render.
type DraftConsumer struct {
	sink     DraftSink
	debounce time.Duration
	logger   *slog.Logger

	// renderMu serializes sink calls; mu guards the fields below.
	renderMu   sync.Mutex
	mu         sync.Mutex
	generation uint64
	pending    string
	timer      *time.Timer
	stopped    bool
}

// NewDraftConsumer creates a consumer that renders to sink.
func NewDraftConsumer(sink DraftSink, debounce time.Duration, logger *slog.Logger) *DraftConsumer {
	return &DraftConsumer{
		sink:     sink,
		debounce: debounce,
		logger:   logger.With(slog.String("consumer", "draft")),
	}
}

// Run consumes updates until the channel closes or ctx is done. Committed
// updates are ignored. A render still pending on exit is discarded, and
// Run waits for a render in progress before returning.
func (d *DraftConsumer) Run(ctx context.Context, updates <-chan transcription.Update) {
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Committed {
				continue
			}
			text := strings.TrimSpace(u.Text)
			if text == "" {
				continue
			}
			d.schedule(ctx, text)
		}
	}
}

func (d *DraftConsumer) schedule(ctx context.Context, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.generation++
	gen := d.generation
	d.pending = text
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounce, func() { d.render(ctx, gen) })
}

func (d *DraftConsumer) render(ctx context.Context, gen uint64) {
	d.renderMu.Lock()
	defer d.renderMu.Unlock()

	d.mu.Lock()
	if d.stopped || gen != d.generation {
		d.mu.Unlock()
		return
	}
	text := d.pending
	d.mu.Unlock()

	if err := d.sink.RenderDraft(ctx, text); err != nil {
		d.logger.Warn("Failed to render draft", slog.String("error", err.Error()))
	}
}

// Clear cancels any pending render and removes the shown draft. It waits
// for a render already in progress to finish first.
func (d *DraftConsumer) Clear(ctx context.Context) {
	d.renderMu.Lock()
	defer d.renderMu.Unlock()

	d.mu.Lock()
	d.generation++
	d.pending = ""
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if err := d.sink.ClearDraft(ctx); err != nil {
		d.logger.Warn("Failed to clear draft", slog.String("error", err.Error()))
	}
}

// stop discards the pending render and returns only after a render that
// already started has finished, so nothing reaches the sink afterwards.
func (d *DraftConsumer) stop() {
	d.mu.Lock()
	d.stopped = true
	d.generation++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.renderMu.Lock()
	d.renderMu.Unlock()
}
