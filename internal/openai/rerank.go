package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultRerankModel is the chat model used to score query/passage pairs.
const DefaultRerankModel = openai.GPT4oMini

const rerankSystemPrompt = `You are a relevance judge. Given a query and a numbered list of passages, score how well each passage answers the query on a scale from 0.0 (irrelevant) to 10.0 (directly answers it). Respond with a JSON object of the form {"scores": [..]} containing exactly one number per passage, in passage order. Respond with JSON only.`

// ChatAPI defines the provider call for chat completions
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Reranker scores query/passage pairs with a chat model acting as a
// cross-encoder. Callers treat any error as a signal to skip reranking,
// not to fail the search.
type Reranker struct {
	api   ChatAPI
	model string
}

// NewReranker creates a reranker backed by the OpenAI chat API.
func NewReranker(apiKey, model string) *Reranker {
	if model == "" {
		model = DefaultRerankModel
	}
	return &Reranker{
		api:   openai.NewClient(apiKey),
		model: model,
	}
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// ScorePassages returns one relevance score per passage, in input order.
func (r *Reranker) ScorePassages(ctx context.Context, query string, passages []string) ([]float64, error) {
	if query == "" {
		return nil, errors.New("query cannot be empty")
	}
	if len(passages) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nPassages:\n", query)
	for i, p := range passages {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, p)
	}

	resp, err := r.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: rerankSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: sb.String()},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("rerank completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("rerank completion returned no choices")
	}

	var parsed rerankResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse rerank scores: %w", err)
	}
	if len(parsed.Scores) != len(passages) {
		return nil, fmt.Errorf("rerank returned %d scores for %d passages", len(parsed.Scores), len(passages))
	}

	return parsed.Scores, nil
}
