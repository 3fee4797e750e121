// Package gemini provides a client for the Google Gemini API
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/interfaces"
)

const (
	DefaultModel = "gemini-3-flash-preview"

	// DefaultSystemInstruction frames every prompt as fund commentary
	DefaultSystemInstruction = "You are a concise analyst of Chinese mutual funds and ETFs. " +
		"Answer in the language of the question. Do not give personalised investment advice."
)

// Client implements the GeminiClient interface
type Client struct {
	client            *genai.Client
	model             string
	systemInstruction string
	logger            *common.Logger
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithModel sets the model to use
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithSystemInstruction replaces the default system instruction; empty disables it
func WithSystemInstruction(instruction string) ClientOption {
	return func(c *Client) {
		c.systemInstruction = instruction
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new Gemini client
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c := &Client{
		client:            genaiClient,
		model:             DefaultModel,
		systemInstruction: DefaultSystemInstruction,
		logger:            common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// GenerateContent generates AI content from a prompt
func (c *Client) GenerateContent(ctx context.Context, prompt string) (string, error) {
	c.logger.Debug().Str("model", c.model).Int("prompt_len", len(prompt)).Msg("Generating content")

	var config *genai.GenerateContentConfig
	if c.systemInstruction != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(c.systemInstruction, genai.RoleUser),
		}
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	return extractTextFromResponse(result)
}

// extractTextFromResponse extracts text from a generate content response
func extractTextFromResponse(result *genai.GenerateContentResponse) (string, error) {
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content generated")
	}

	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}

	return sb.String(), nil
}

// Ensure Client implements GeminiClient
var _ interfaces.GeminiClient = (*Client)(nil)
