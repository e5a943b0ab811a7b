package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOCRModel is the vision-capable chat model used for OCR.
const DefaultOCRModel = openai.GPT4oMini

const ocrPrompt = "Transcribe all text visible in this image. Preserve line breaks. Respond with the transcribed text only; if there is no text, respond with an empty string."

// OCR recognizes text in images through a vision-capable chat model. It
// satisfies the extractor's OCR backend interface.
type OCR struct {
	api   ChatAPI
	model string
}

// NewOCR creates an OCR backend using the OpenAI vision API.
func NewOCR(apiKey, model string) *OCR {
	if model == "" {
		model = DefaultOCRModel
	}
	return &OCR{
		api:   openai.NewClient(apiKey),
		model: model,
	}
}

// RecognizeText transcribes the text visible in the image.
func (o *OCR) RecognizeText(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", errors.New("image cannot be empty")
	}

	mime := http.DetectContentType(image)
	dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(image))

	resp, err := o.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: ocrPrompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("ocr completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("ocr completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}
