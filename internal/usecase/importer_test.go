package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizforge/quizforge/internal/domain"
)

func TestImport_SanitizesAndCounts(t *testing.T) {
	t.Parallel()
	store := &fakeQuestions{}
	svc := NewImportService(store)

	qs := []domain.Question{
		{
			Prompt:  "  What is 2+2?\x00  ",
			Options: []string{"3", "4", "5", "6"},
			Answer:  "4",
			Topic:   "Science",
			MinAge:  6, MaxAge: 10,
		},
		{
			Prompt:  "Broken question",
			Options: []string{"only", "three", "options"},
			Answer:  "only",
		},
	}
	imported, skipped, total, err := svc.Import(context.Background(), qs)
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "What is 2+2?", qs[0].Prompt, "control bytes and padding stripped")
}

func TestImport_EmptyBatch(t *testing.T) {
	t.Parallel()
	svc := NewImportService(&fakeQuestions{})
	imported, skipped, total, err := svc.Import(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, imported)
	assert.Zero(t, skipped)
	assert.Zero(t, total)
}

func TestGenerateSubmit_Validation(t *testing.T) {
	t.Parallel()
	svc := NewGenerateService(&fakeJobs{})

	_, err := svc.Submit("a@example.com", 0, nil, "")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.Submit("a@example.com", 5, &domain.AgeRange{Min: 12, Max: 8}, "")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	jobID, err := svc.Submit("a@example.com", 5, &domain.AgeRange{Min: 8, Max: 12}, "History")
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)
}
