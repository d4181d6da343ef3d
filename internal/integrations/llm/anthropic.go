package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"
)

type AnthropicClient struct {
	client anthropic.Client
	model  string
	log    *logrus.Entry
}

// NewAnthropicClient disables the SDK's own retries; Guarded owns retry policy.
func NewAnthropicClient(apiKey, model, baseURL string, httpClient *http.Client, log *logrus.Entry) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  model,
		log:    log,
	}
}

func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &StatusError{Provider: "anthropic", StatusCode: apiErr.StatusCode, Message: apiErr.Error(), Err: err}
		}
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	usage := Usage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			c.log.WithFields(logrus.Fields{
				"response_size": len(block.Text),
				"tokens_in":     usage.InputTokens,
				"tokens_out":    usage.OutputTokens,
				"cache_create":  usage.CacheCreationInputTokens,
				"cache_read":    usage.CacheReadInputTokens,
			}).Debug("llm anthropic response")
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in Anthropic response")
}
