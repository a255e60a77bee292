package stub_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizforge/quizforge/internal/adapter/ai/stub"
)

func TestGenerate_DeterministicByNonce(t *testing.T) {
	t.Parallel()
	c := stub.New()
	ctx := context.Background()

	a, err := c.Generate(ctx, "Space", 8, 12, 42)
	require.NoError(t, err)
	b, err := c.Generate(ctx, "Space", 8, 12, 42)
	require.NoError(t, err)
	assert.Equal(t, a.Hash(), b.Hash())

	other, err := c.Generate(ctx, "Space", 8, 12, 43)
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash(), other.Hash())
}

func TestGenerate_AlwaysValid(t *testing.T) {
	t.Parallel()
	c := stub.New()
	for nonce := 0; nonce < 8; nonce++ {
		q, err := c.Generate(context.Background(), "History", 6, 10, nonce)
		require.NoError(t, err)
		require.NoError(t, q.Validate())
		assert.Equal(t, "History", q.Topic)
		assert.Equal(t, 6, q.MinAge)
		assert.Equal(t, 10, q.MaxAge)
	}
}
