package core

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"patient-summary-agent/internal/cache"
	"patient-summary-agent/internal/llm"
	"patient-summary-agent/pkg"
)

// Source pages through the recorded conversations.
type Source interface {
	Total(ctx context.Context) (int, error)
	Page(ctx context.Context, page, size int) ([]string, [][]string, error)
}

// PageStore is a durable second tier behind the page cache.
type PageStore interface {
	GetPage(ctx context.Context, page, size int) ([]string, bool, error)
	SavePage(ctx context.Context, page, size int, notes []string) error
}

// PageNotifier announces freshly generated pages.
type PageNotifier interface {
	Notify(ctx context.Context, ev pkg.PageEvent) error
}

// NoteService converts pages of conversations into SOAP notes.  Generated
// pages are cached by (page, size); concurrent requests for the same page
// share one generation.
type NoteService struct {
	Source    Source
	Cache     cache.PageCache
	Store     PageStore
	Notifier  PageNotifier
	LLM       llm.Client
	BatchSize int
	Truncator *llm.Truncator
	Logger    zerolog.Logger

	flight singleflight.Group

	mu    sync.Mutex
	total int
	known bool
}

// NewNoteService constructs a NoteService with only the required
// dependencies; Store, Notifier and Truncator can be set afterwards.
func NewNoteService(src Source, c cache.PageCache, client llm.Client, batchSize int, logger zerolog.Logger) *NoteService {
	return &NoteService{
		Source:    src,
		Cache:     c,
		LLM:       client,
		BatchSize: batchSize,
		Logger:    logger,
	}
}

// Total returns the number of conversations.  The first successful count is
// remembered for the lifetime of the service.
func (s *NoteService) Total(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.known {
		return s.total, nil
	}
	n, err := s.Source.Total(ctx)
	if err != nil {
		return 0, fmt.Errorf("count conversations: %w", err)
	}
	s.total, s.known = n, true
	return n, nil
}

// CachedPages reports how many pages the cache currently holds.
func (s *NoteService) CachedPages(ctx context.Context) (int, error) {
	return s.Cache.Len(ctx)
}

// Page returns the SOAP notes for one page of conversations, generating them
// on a cache miss.
func (s *NoteService) Page(ctx context.Context, page, size int) ([]string, error) {
	key := cache.Key{Page: page, Size: size}
	if notes, ok := s.cached(ctx, key); ok {
		s.Logger.Debug().Int("page", page).Int("size", size).Msg("returning cached notes")
		return notes, nil
	}

	// the shared generation outlives any single caller; each caller still
	// stops waiting when its own ctx ends
	shared := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(key.String(), func() (any, error) {
		return s.generate(shared, key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]string)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *NoteService) cached(ctx context.Context, key cache.Key) ([]string, bool) {
	notes, ok, err := s.Cache.Get(ctx, key)
	if err != nil {
		s.Logger.Warn().Err(err).Stringer("key", key).Msg("page cache read failed")
		return nil, false
	}
	return notes, ok
}

func (s *NoteService) generate(ctx context.Context, key cache.Key) ([]string, error) {
	log := s.Logger.With().Int("page", key.Page).Int("size", key.Size).Logger()

	// another flight may have filled the cache between the miss and now
	if notes, ok := s.cached(ctx, key); ok {
		return notes, nil
	}

	if s.Store != nil {
		notes, ok, err := s.Store.GetPage(ctx, key.Page, key.Size)
		if err != nil {
			log.Warn().Err(err).Msg("note store read failed")
		} else if ok {
			s.fill(ctx, key, notes)
			log.Info().Int("notes", len(notes)).Msg("loaded notes from store")
			return notes, nil
		}
	}

	_, rows, err := s.Source.Page(ctx, key.Page, key.Size)
	if err != nil {
		return nil, fmt.Errorf("read page %d: %w", key.Page, err)
	}

	prompts, err := s.prompts(rows)
	if err != nil {
		return nil, err
	}
	if len(prompts) == 0 {
		return []string{}, nil
	}
	log.Info().Int("prompts", len(prompts)).Msg("generating soap notes")

	start := time.Now()
	outputs, err := llm.GenerateBatch(ctx, s.LLM, prompts, s.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("generate page %d: %w", key.Page, err)
	}
	notes := make([]string, len(outputs))
	for i, out := range outputs {
		notes[i] = CleanSOAPNote(out)
	}
	log.Info().Int("notes", len(notes)).Dur("took", time.Since(start)).Msg("generated soap notes")

	s.fill(ctx, key, notes)
	if s.Store != nil {
		if err := s.Store.SavePage(ctx, key.Page, key.Size, notes); err != nil {
			log.Warn().Err(err).Msg("failed to persist notes")
		}
	}
	if s.Notifier != nil {
		ev := pkg.PageEvent{Page: key.Page, Size: key.Size, Notes: len(notes)}
		if err := s.Notifier.Notify(ctx, ev); err != nil {
			log.Warn().Err(err).Msg("failed to publish page event")
		}
	}
	return notes, nil
}

// prompts turns every non-empty cell of every row into one SOAP prompt.
func (s *NoteService) prompts(rows [][]string) ([]string, error) {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		for _, cell := range row {
			conversation := strings.TrimSpace(cell)
			if conversation == "" {
				continue
			}
			conversation, err := s.Truncator.Truncate(conversation)
			if err != nil {
				return nil, err
			}
			prompt, err := BuildSOAPPrompt(conversation)
			if err != nil {
				return nil, fmt.Errorf("render soap prompt: %w", err)
			}
			out = append(out, prompt)
		}
	}
	return out, nil
}

func (s *NoteService) fill(ctx context.Context, key cache.Key, notes []string) {
	if err := s.Cache.Set(ctx, key, notes); err != nil {
		s.Logger.Warn().Err(err).Stringer("key", key).Msg("page cache write failed")
	}
}
