// Package usecase holds the application services between the HTTP
// surface and the ports.
package usecase

import (
	"fmt"
	"time"

	"log/slog"

	"github.com/quizforge/quizforge/internal/domain"
)

// JobTrigger is the slice of the job manager the supply path needs.
type JobTrigger interface {
	Enqueue(owner string, targetCount int, ageRange *domain.AgeRange, topic string, autoTriggered bool) (string, error)
	HasActiveFor(owner string) bool
}

// SupplyService implements the read path: filter, atomic assignment, and
// the advisory auto-trigger on low supply.
type SupplyService struct {
	Recipients    domain.RecipientRepository
	Questions     domain.QuestionRepository
	Jobs          JobTrigger
	MinAutoTarget int
}

// NewSupplyService constructs a SupplyService.
func NewSupplyService(recipients domain.RecipientRepository, questions domain.QuestionRepository, jobs JobTrigger, minAutoTarget int) SupplyService {
	if minAutoTarget <= 0 {
		minAutoTarget = 5
	}
	return SupplyService{Recipients: recipients, Questions: questions, Jobs: jobs, MinAutoTarget: minAutoTarget}
}

// FetchQuestions returns up to limit unassigned questions for the
// recipient, records the assignments atomically, and — when supply falls
// short — enqueues a replenishment job without delaying the response.
func (s SupplyService) FetchQuestions(ctx domain.Context, identifier string, limit int, age *int, topic string) ([]domain.Question, error) {
	if identifier == "" {
		return nil, fmt.Errorf("fetch questions: %w: recipient required", domain.ErrInvalidArgument)
	}
	if limit <= 0 {
		return []domain.Question{}, nil
	}

	rec, err := s.Recipients.GetOrCreate(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("fetch questions: %w", err)
	}

	selected, err := s.Questions.SelectAndAssign(ctx, rec.ID, age, topic, limit, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("fetch questions: %w", err)
	}

	if len(selected) < limit && !s.Jobs.HasActiveFor(identifier) {
		target := limit - len(selected)
		if target < s.MinAutoTarget {
			target = s.MinAutoTarget
		}
		var band *domain.AgeRange
		if age != nil {
			band = &domain.AgeRange{Min: *age, Max: *age}
		}
		// Advisory only. A failed trigger never fails the read.
		if _, err := s.Jobs.Enqueue(identifier, target, band, topic, true); err != nil {
			slog.Warn("auto-trigger failed",
				slog.String("recipient", identifier),
				slog.Any("error", err))
		} else {
			slog.Info("auto-triggered generation job",
				slog.String("recipient", identifier),
				slog.Int("target_count", target),
				slog.Int("supplied", len(selected)),
				slog.Int("requested", limit))
		}
	}
	if selected == nil {
		selected = []domain.Question{}
	}
	return selected, nil
}
