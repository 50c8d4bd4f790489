package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"patient-summary-agent/internal/llm"
	"patient-summary-agent/pkg"
)

// AdviceRecorder persists generated advice.  It is optional.
type AdviceRecorder interface {
	RecordAdvice(ctx context.Context, requestID string, carePlans int, advice string) error
}

// AdviceService turns a care plan summary into short plain-English advice.
type AdviceService struct {
	LLM      llm.Client
	Recorder AdviceRecorder
	Logger   zerolog.Logger
}

// NewAdviceService constructs an AdviceService.  recorder may be nil.
func NewAdviceService(client llm.Client, recorder AdviceRecorder, logger zerolog.Logger) *AdviceService {
	return &AdviceService{LLM: client, Recorder: recorder, Logger: logger}
}

// Advise builds the prompt for summary, asks the model and cleans the answer.
// requestID only tags the log lines and the audit row.
func (s *AdviceService) Advise(ctx context.Context, requestID string, summary *pkg.PatientSummary) (string, error) {
	prompt := BuildAdvicePrompt(summary)
	plans := 0
	if summary != nil {
		plans = len(summary.InpatientCarePlansRecord)
	}
	log := s.Logger.With().Str("request_id", requestID).Int("care_plans", plans).Logger()
	log.Debug().Str("prompt", prompt).Msg("advice prompt")

	start := time.Now()
	raw, err := s.LLM.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate advice: %w", err)
	}
	advice := CleanAdvice(raw)
	log.Info().Dur("took", time.Since(start)).Int("prompt_chars", len(prompt)).Msg("advice generated")

	if s.Recorder != nil {
		if err := s.Recorder.RecordAdvice(ctx, requestID, plans, advice); err != nil {
			log.Warn().Err(err).Msg("failed to record advice")
		}
	}
	return advice, nil
}
