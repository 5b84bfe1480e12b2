// Package llm wraps the chat-completion capability shared by the summary
// backend and the evaluation assessor.
package llm

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"call-review-go/internal/config"
	"call-review-go/internal/errs"
	"call-review-go/internal/logger"
)

// Client sends one system+user exchange and returns the raw reply.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, system, user string) (string, error)

func (f ClientFunc) Complete(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

type OpenAI struct {
	cli         *openai.Client
	model       string
	temperature float32
	maxTokens   int
	log         *logrus.Entry
}

// NewOpenAI builds a client for any OpenAI compatible gateway.
func NewOpenAI(p config.LLMProvider, log *logrus.Entry) *OpenAI {
	cc := openai.DefaultConfig(p.APIKey)
	if p.BaseURL != "" {
		cc.BaseURL = p.BaseURL
	}
	return &OpenAI{
		cli:         openai.NewClientWithConfig(cc),
		model:       p.Model,
		temperature: p.Temperature,
		maxTokens:   p.MaxTokens,
		log:         logger.Component(log, "llm"),
	}
}

func (o *OpenAI) Complete(ctx context.Context, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:      o.maxTokens,
		Temperature:    o.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}
	resp, err := o.cli.CreateChatCompletion(ctx, req)
	if err != nil {
		o.log.WithError(err).Warn("chat completion failed")
		return "", Classify("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", &errs.CapabilityFailure{Capability: "llm", Err: errors.New("no choices in response")}
	}
	o.log.WithFields(logrus.Fields{
		"model":             resp.Model,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	}).Debug("chat completion")
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Classify maps go-openai and transport errors onto the error taxonomy:
// timeouts, 429 and 5xx are transient, everything else is a capability
// failure.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Transient(op, err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if errs.RetryableStatus(apiErr.HTTPStatusCode) {
			return errs.Transient(op, err)
		}
		return &errs.CapabilityFailure{Capability: op, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 0 || errs.RetryableStatus(reqErr.HTTPStatusCode) {
			return errs.Transient(op, err)
		}
		return &errs.CapabilityFailure{Capability: op, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &errs.CapabilityFailure{Capability: op, Err: err}
	}
	// network level failures without a status
	return errs.Transient(op, err)
}
