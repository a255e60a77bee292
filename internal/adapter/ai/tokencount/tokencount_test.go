package tokencount

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCount_PositiveAndStable(t *testing.T) {
	t.Parallel()
	c := NewCounter()
	text := "Which planet in our solar system is known as the Red Planet?"
	first := c.Count(text, "gpt-4o-mini")
	assert.Positive(t, first)
	assert.Equal(t, first, c.Count(text, "gpt-4o-mini"))
}

func TestCount_UnknownModelFallsBack(t *testing.T) {
	t.Parallel()
	c := NewCounter()
	assert.Positive(t, c.Count("hello world", "some-provider/some-unknown-model"))
}

func TestNormalizeModelName(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"gpt-4o-mini":             "gpt-4o",
		"openai/gpt-4-turbo":      "gpt-4",
		"GPT-3.5-Turbo-0125":      "gpt-3.5-turbo",
		"mistralai/mistral-small": "mistral-small",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeModelName(in), in)
	}
}
