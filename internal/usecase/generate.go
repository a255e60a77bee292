package usecase

import (
	"fmt"

	"github.com/quizforge/quizforge/internal/domain"
)

// JobControl extends JobTrigger with the polling side.
type JobControl interface {
	JobTrigger
	Status(jobID, requester string) (*domain.GenerationJob, error)
}

// GenerateService admits manual generation requests.
type GenerateService struct {
	Jobs JobControl
}

// NewGenerateService constructs a GenerateService.
func NewGenerateService(jobs JobControl) GenerateService { return GenerateService{Jobs: jobs} }

// Submit validates and enqueues a manual job for owner.
func (s GenerateService) Submit(owner string, targetCount int, ageRange *domain.AgeRange, topic string) (string, error) {
	if targetCount <= 0 {
		return "", fmt.Errorf("submit job: %w: target_count must be positive", domain.ErrInvalidArgument)
	}
	if ageRange != nil && ageRange.Min > ageRange.Max {
		return "", fmt.Errorf("submit job: %w: age_range min exceeds max", domain.ErrInvalidArgument)
	}
	jobID, err := s.Jobs.Enqueue(owner, targetCount, ageRange, topic, false)
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	return jobID, nil
}

// Status polls a job on behalf of requester; only the owner may look.
func (s GenerateService) Status(jobID, requester string) (*domain.GenerationJob, error) {
	return s.Jobs.Status(jobID, requester)
}
