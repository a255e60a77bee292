// Package ai implements the question generator against an
// OpenAI-compatible chat completions API.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"log/slog"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/quizforge/quizforge/internal/adapter/ai/tokencount"
	"github.com/quizforge/quizforge/internal/adapter/observability"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/domain"
)

const systemPrompt = "You generate trivia questions in JSON format."

// Client calls a chat completions endpoint and turns each reply into a
// validated domain.Question.
type Client struct {
	cfg     config.Config
	hc      *http.Client
	counter *tokencount.Counter
}

// New constructs a Client with the configured per-call timeout and an
// instrumented transport.
func New(cfg config.Config) *Client {
	return &Client{
		cfg: cfg,
		hc: &http.Client{
			Timeout:   cfg.GeneratorTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		counter: tokencount.NewCounter(),
	}
}

// userPrompt builds the generation prompt. The nonce varies the wording
// between otherwise identical requests so the model does not repeat
// itself within a batch.
func (c *Client) userPrompt(topic string, minAge, maxAge, nonce int) string {
	return fmt.Sprintf(
		"You are a trivia question generator. "+
			"Create a fun, multiple-choice question for players aged %d to %d. "+
			"Topic: %s. Each question must be unique and not a repeat of a previous question. "+
			"Inject creativity and age-appropriate fun. Format your output as a JSON object with these keys: "+
			"'question' (string), 'options' (list of 4 strings), and 'answer' (string). "+
			"Use this random context ID to vary the question: %d.",
		minAge, maxAge, topic, nonce)
}

// Generate requests one question for the topic and age band.
func (c *Client) Generate(ctx domain.Context, topic string, minAge, maxAge int, nonce int) (domain.Question, error) {
	prompt := c.userPrompt(topic, minAge, maxAge, nonce)

	promptTokens := c.counter.Count(systemPrompt+prompt, c.cfg.GeneratorModel)
	observability.GeneratorPromptTokens.Observe(float64(promptTokens))
	if c.cfg.GeneratorMaxPromptTokens > 0 && promptTokens > c.cfg.GeneratorMaxPromptTokens {
		observability.GeneratorRequestsTotal.WithLabelValues("validation").Inc()
		return domain.Question{}, fmt.Errorf("%w: prompt is %d tokens, budget %d",
			domain.ErrGenValidation, promptTokens, c.cfg.GeneratorMaxPromptTokens)
	}

	content, err := c.chat(ctx, prompt)
	if err != nil {
		return domain.Question{}, err
	}

	var out struct {
		Question string   `json:"question"`
		Options  []string `json:"options"`
		Answer   string   `json:"answer"`
	}
	if err := json.Unmarshal([]byte(cleanJSONResponse(content)), &out); err != nil {
		observability.GeneratorRequestsTotal.WithLabelValues("parse").Inc()
		return domain.Question{}, fmt.Errorf("%w: decode reply: %v", domain.ErrGenParse, err)
	}

	q := domain.Question{
		Prompt:  out.Question,
		Options: out.Options,
		Answer:  out.Answer,
		Topic:   topic,
		MinAge:  minAge,
		MaxAge:  maxAge,
	}
	if err := q.Validate(); err != nil {
		observability.GeneratorRequestsTotal.WithLabelValues("validation").Inc()
		return domain.Question{}, fmt.Errorf("%w: %v", domain.ErrGenValidation, err)
	}
	observability.GeneratorRequestsTotal.WithLabelValues("ok").Inc()
	return q, nil
}

// chat posts one chat-completions request with retry on transient
// failures and returns the first choice's message content.
func (c *Client) chat(ctx domain.Context, prompt string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"model":           c.cfg.GeneratorModel,
		"temperature":     0.8,
		"response_format": map[string]string{"type": "json_object"},
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
	})

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	op := func() error {
		start := time.Now()
		// Recreate the request each attempt to avoid reusing a consumed body.
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.GeneratorBaseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.GeneratorAPIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.hc.Do(req)
		observability.GeneratorRequestDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			slog.Warn("generator rate limited", slog.Int("status", resp.StatusCode))
			return fmt.Errorf("rate limited: %d", resp.StatusCode)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			snippet := string(raw)
			if len(snippet) > 512 {
				snippet = snippet[:512]
			}
			slog.Warn("generator 4xx", slog.Int("status", resp.StatusCode), slog.String("body", snippet))
			return backoff.Permanent(fmt.Errorf("chat status %d", resp.StatusCode))
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			slog.Error("generator non-2xx", slog.Int("status", resp.StatusCode))
			return fmt.Errorf("chat status %d", resp.StatusCode)
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: decode response: %v", domain.ErrGenParse, err))
		}
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = 5 * time.Second
	expo.MaxElapsedTime = c.cfg.GeneratorTimeout
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		if errors.Is(err, domain.ErrGenParse) {
			observability.GeneratorRequestsTotal.WithLabelValues("parse").Inc()
			return "", err
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			observability.GeneratorRequestsTotal.WithLabelValues("timeout").Inc()
			return "", fmt.Errorf("%w: %v", domain.ErrGenTimeout, err)
		}
		observability.GeneratorRequestsTotal.WithLabelValues("transport").Inc()
		return "", fmt.Errorf("%w: %v", domain.ErrGenTransport, err)
	}
	if len(out.Choices) == 0 {
		observability.GeneratorRequestsTotal.WithLabelValues("parse").Inc()
		return "", fmt.Errorf("%w: empty choices", domain.ErrGenParse)
	}
	return out.Choices[0].Message.Content, nil
}
