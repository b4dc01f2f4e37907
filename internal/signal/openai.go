package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/models"
)

const systemPrompt = `You are an intraday index options desk analyst for Indian markets.
Given an underlying and the current IST time, return your directional view as JSON:
{"score": <number in [-1, 1], negative is bearish>, "confidence": <number in [0, 1]>, "reason": "<one sentence>"}
Return only the JSON object.`

// chatCompleter is the part of the OpenAI client the source uses.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI asks a chat model for a directional view.
type OpenAI struct {
	client chatCompleter
	model  string
	now    func() time.Time
}

// NewOpenAI creates an OpenAI-backed signal source.
func NewOpenAI(apiKey, model string) *OpenAI {
	return &OpenAI{
		client: openai.NewClient(apiKey),
		model:  model,
		now:    time.Now,
	}
}

type llmView struct {
	Score      *float64 `json:"score"`
	Confidence *float64 `json:"confidence"`
	Reason     string   `json:"reason"`
}

// Signal implements Source.
func (o *OpenAI) Signal(ctx context.Context, underlying string) (models.Signal, error) {
	now := o.now()
	prompt := fmt.Sprintf("Underlying: %s\nTime: %s", underlying, now.Format(time.RFC3339))

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	})
	if err != nil {
		return models.Signal{}, errors.Wrapf(errors.ErrSignalUnavailable, "openai completion failed: %v", err)
	}
	if len(resp.Choices) == 0 {
		return models.Signal{}, errors.Wrap(errors.ErrSignalUnavailable, "no response from openai")
	}

	view, err := parseView(resp.Choices[0].Message.Content)
	if err != nil {
		return models.Signal{}, err
	}

	return normalize(models.Signal{
		Underlying: underlying,
		Score:      *view.Score,
		Confidence: *view.Confidence,
		Source:     "openai:" + o.model,
		Reason:     view.Reason,
		Timestamp:  now,
	})
}

// parseView extracts the JSON object from a model reply, tolerating code
// fences around it.
func parseView(content string) (llmView, error) {
	var view llmView

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return view, errors.Wrapf(errors.ErrSignalUnavailable, "no JSON object in reply %q", content)
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &view); err != nil {
		return view, errors.Wrapf(errors.ErrSignalUnavailable, "bad JSON in reply: %v", err)
	}
	if view.Score == nil || view.Confidence == nil {
		return view, errors.Wrap(errors.ErrSignalUnavailable, "reply is missing score or confidence")
	}
	return view, nil
}
