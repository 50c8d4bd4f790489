package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PageGenerator is the part of NoteService the warmer drives.
type PageGenerator interface {
	Total(ctx context.Context) (int, error)
	Page(ctx context.Context, page, size int) ([]string, error)
}

// Warmer walks the dataset page by page in the background so that pages are
// already cached when somebody asks for them.  A failing page is logged and
// skipped; it will be generated on demand instead.
type Warmer struct {
	Notes    PageGenerator
	PageSize int
	MaxPages int
	Interval time.Duration
	Logger   zerolog.Logger

	done chan struct{}
}

// NewWarmer constructs a Warmer.  maxPages <= 0 walks every page.
func NewWarmer(notes PageGenerator, pageSize, maxPages int, interval time.Duration, logger zerolog.Logger) *Warmer {
	return &Warmer{
		Notes:    notes,
		PageSize: pageSize,
		MaxPages: maxPages,
		Interval: interval,
		Logger:   logger,
	}
}

// Pages returns how many pages a walk over total conversations covers.
func (w *Warmer) Pages(total int) int {
	if total <= 0 || w.PageSize <= 0 {
		return 0
	}
	pages := (total + w.PageSize - 1) / w.PageSize
	if w.MaxPages > 0 && pages > w.MaxPages {
		pages = w.MaxPages
	}
	return pages
}

// Run warms pages in order and returns the number of pages that succeeded.
// It stops early when ctx is cancelled.
func (w *Warmer) Run(ctx context.Context) (int, error) {
	total, err := w.Notes.Total(ctx)
	if err != nil {
		return 0, err
	}
	pages := w.Pages(total)
	w.Logger.Info().Int("pages", pages).Int("size", w.PageSize).Int("total", total).Msg("warming soap notes")

	warmed := 0
	for page := 1; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			return warmed, err
		}
		start := time.Now()
		notes, err := w.Notes.Page(ctx, page, w.PageSize)
		if err != nil {
			if ctx.Err() != nil {
				return warmed, ctx.Err()
			}
			w.Logger.Error().Err(err).Int("page", page).Msg("failed to warm page")
		} else {
			warmed++
			w.Logger.Info().Int("page", page).Int("notes", len(notes)).Dur("took", time.Since(start)).Msg("warmed page")
		}

		if w.Interval > 0 && page < pages {
			select {
			case <-ctx.Done():
				return warmed, ctx.Err()
			case <-time.After(w.Interval):
			}
		}
	}
	w.Logger.Info().Int("warmed", warmed).Int("pages", pages).Msg("warm-up finished")
	return warmed, nil
}

// Start runs the warmer on a single background goroutine.
func (w *Warmer) Start(ctx context.Context) {
	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		if _, err := w.Run(ctx); err != nil && ctx.Err() == nil {
			w.Logger.Error().Err(err).Msg("warm-up aborted")
		}
	}()
}

// Wait blocks until a started warmer has returned.
func (w *Warmer) Wait() {
	if w.done != nil {
		<-w.done
	}
}
