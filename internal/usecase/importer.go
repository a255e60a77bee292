package usecase

import (
	"fmt"

	"github.com/quizforge/quizforge/internal/domain"
	"github.com/quizforge/quizforge/pkg/textx"
)

// ImportService ingests externally authored question batches.
type ImportService struct {
	Questions domain.QuestionRepository
}

// NewImportService constructs an ImportService.
func NewImportService(questions domain.QuestionRepository) ImportService {
	return ImportService{Questions: questions}
}

// Import sanitizes and stores a batch. Elements are independent:
// duplicates and invalid entries are counted as skipped, never fatal.
// Returns (imported, skipped, total questions in store).
func (s ImportService) Import(ctx domain.Context, qs []domain.Question) (int, int, int64, error) {
	for i := range qs {
		qs[i].Prompt = textx.SanitizeText(qs[i].Prompt)
		qs[i].Answer = textx.SanitizeText(qs[i].Answer)
		qs[i].Topic = textx.SanitizeText(qs[i].Topic)
		for j := range qs[i].Options {
			qs[i].Options[j] = textx.SanitizeText(qs[i].Options[j])
		}
	}
	imported, skipped, err := s.Questions.ImportBatch(ctx, qs)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("import questions: %w", err)
	}
	total, err := s.Questions.Total(ctx)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("import questions: %w", err)
	}
	return imported, skipped, total, nil
}
