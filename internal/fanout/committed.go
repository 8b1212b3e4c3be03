package fanout

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/skypro1111/meeting-scribe/internal/transcription"
)

// CommittedSink appends finalized transcript text, in order.
type CommittedSink interface {
	AppendCommitted(ctx context.Context, texts []string) error
}

// DraftClearer removes the live draft before committed text is shown.
type DraftClearer interface {
	Clear(ctx context.Context)
}

// CommittedConsumer batches committed updates and appends each batch to
// its sink after clearing the live draft.
type CommittedConsumer struct {
	sink     CommittedSink
	clearer  DraftClearer
	maxBatch int
	window   time.Duration
	logger   *slog.Logger
}

// NewCommittedConsumer creates a consumer that flushes after maxBatch items
// or window time since the first item of a batch, whichever comes first.
func NewCommittedConsumer(sink CommittedSink, clearer DraftClearer, maxBatch int, window time.Duration, logger *slog.Logger) *CommittedConsumer {
	if maxBatch <= 0 {
		maxBatch = 1
	}
	return &CommittedConsumer{
		sink:     sink,
		clearer:  clearer,
		maxBatch: maxBatch,
		window:   window,
		logger:   logger.With(slog.String("consumer", "committed")),
	}
}

// Run consumes updates until the channel closes, flushing the partial batch
// on close, or until ctx is done.
func (c *CommittedConsumer) Run(ctx context.Context, updates <-chan transcription.Update) {
	var (
		batch  []string
		timer  *time.Timer
		expiry <-chan time.Time
	)

	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, expiry = nil, nil
		}
		if len(batch) == 0 {
			return
		}
		if c.clearer != nil {
			c.clearer.Clear(ctx)
		}
		if err := c.sink.AppendCommitted(ctx, batch); err != nil {
			c.logger.Warn("Failed to append committed transcript",
				slog.Int("segments", len(batch)),
				slog.String("error", err.Error()))
		}
		batch = nil
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-expiry:
			timer, expiry = nil, nil
			flush()
		case u, ok := <-updates:
			if !ok {
				flush()
				return
			}
			if !u.Committed {
				continue
			}
			text := strings.TrimSpace(u.Text)
			if text == "" {
				continue
			}
			batch = append(batch, text)
			if len(batch) == 1 {
				timer = time.NewTimer(c.window)
				expiry = timer.C
			}
			if len(batch) >= c.maxBatch {
				flush()
			}
		}
	}
}
