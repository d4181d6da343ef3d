package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Completer is the reasoning service boundary: a prompt in, reply text out.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Usage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

const systemPrompt = `You are a product analyst reviewing clustered customer feedback.
Follow the instructions in the user message exactly and reply with a single JSON object and nothing else.`

// StatusError is a non-2xx reply from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Permanent reports whether retrying cannot help. Timeouts and rate limits
// are retried, other client errors are not.
func (e *StatusError) Permanent() bool {
	if e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

type Options struct {
	Provider           string // "anthropic" or "openai"
	Model              string
	APIKey             string
	BaseURL            string
	HTTPClient         *http.Client
	MaxRetry           time.Duration
	RequestsPerSecond  float64
	MaxConcurrentCalls int
	Log                *logrus.Entry
}

// New builds the configured provider wrapped in retry, rate and
// concurrency limits.
func New(opts Options) (*Guarded, error) {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithFields(logrus.Fields{"component": "llm", "provider": opts.Provider, "model": opts.Model})

	var provider Completer
	switch opts.Provider {
	case "anthropic":
		provider = NewAnthropicClient(opts.APIKey, opts.Model, opts.BaseURL, opts.HTTPClient, log)
	case "openai":
		provider = NewOpenAIClient(opts.APIKey, opts.Model, opts.BaseURL, opts.HTTPClient, log)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}

	return NewGuarded(provider, GuardOptions{
		MaxElapsed:         opts.MaxRetry,
		RequestsPerSecond:  opts.RequestsPerSecond,
		MaxConcurrentCalls: opts.MaxConcurrentCalls,
		Log:                log,
	}), nil
}
