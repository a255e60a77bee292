// Package stub provides a fast, deterministic question generator for
// local runs and tests. No network, no API key.
package stub

import (
	"fmt"

	"github.com/quizforge/quizforge/internal/domain"
)

type canned struct {
	prompt  string
	options []string
	answer  string
}

// One entry per banked question. The answer must be one of the options.
var bank = []canned{
	{
		prompt:  "Do you know what we call a group of stars that forms an imaginary picture in the sky?",
		options: []string{"A Star Party", "A Star Picnic", "A Star Cluster", "A Constellation"},
		answer:  "A Constellation",
	},
	{
		prompt:  "Outer space is full of surprises. Can you guess what color the Sun is, from outer space?",
		options: []string{"Red", "Yellow", "Blue", "It's not there!"},
		answer:  "Blue",
	},
	{
		prompt:  "Which planet in our solar system is known as the 'Red Planet'?",
		options: []string{"Jupiter", "Pluto", "Mars", "Venus"},
		answer:  "Mars",
	},
	{
		prompt:  "If you were on the moon, which of these things would be true?",
		options: []string{
			"You could eat as much ice cream as you want without feeling full",
			"Your favorite teddy bear would start to talk",
			"You would weigh less than you do on Earth",
			"Your sneakers could turn into rocket boots",
		},
		answer: "You would weigh less than you do on Earth",
	},
}

// Client cycles through a small bank of questions, stamping each with
// the caller's nonce so distinct nonces yield distinct content hashes.
type Client struct{}

// New constructs a stub Client.
func New() *Client { return &Client{} }

// Generate returns a banked question keyed by nonce. The same nonce
// always produces the same question.
func (c *Client) Generate(_ domain.Context, topic string, minAge, maxAge int, nonce int) (domain.Question, error) {
	if nonce < 0 {
		nonce = -nonce
	}
	base := bank[nonce%len(bank)]
	opts := make([]string, len(base.options))
	copy(opts, base.options)
	return domain.Question{
		Prompt:  fmt.Sprintf("%s (variant %d)", base.prompt, nonce),
		Options: opts,
		Answer:  base.answer,
		Topic:   topic,
		MinAge:  minAge,
		MaxAge:  maxAge,
	}, nil
}
