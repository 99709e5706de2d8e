// Package aiclient wraps the Gemini API behind the categorizer's
// AIClient interface.
package aiclient

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// DefaultModelName is the default Gemini model used for categorization
// and receipt parsing.
const DefaultModelName = "gemini-2.5-flash"

// Client sends prompts to Gemini. Authentication comes from the
// environment (GEMINI_API_KEY or application default credentials).
type Client struct {
	genai *genai.Client
	model string
}

// New creates a Gemini client. An empty model selects the default.
func New(ctx context.Context, model string) (*Client, error) {
	if model == "" {
		model = DefaultModelName
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("aiclient.New: create genai client: %w", err)
	}
	return &Client{genai: client, model: model}, nil
}

// Generate sends a system instruction and user prompt to the model and
// returns the text response.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		},
	}

	resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("Generate: generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("Generate: empty response from model")
	}
	return text, nil
}
