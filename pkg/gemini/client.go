package gemini

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/menta2k/vision-studio/pkg/client"
)

// DefaultModel is used when no model name is configured
const DefaultModel = "gemini-2.0-flash"

// Client wraps the Gen AI SDK for the Gemini API
type Client struct {
	models *genai.Models
}

// NewClient creates a Gemini client. An empty apiKey falls back to the
// GOOGLE_API_KEY / GEMINI_API_KEY environment variables read by the SDK.
// baseURL overrides the public endpoint when set.
func NewClient(ctx context.Context, apiKey, baseURL string, httpClient *http.Client) (*Client, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Client{models: c.Models}, nil
}

func (c *Client) Name() string { return "gemini" }

// Query sends prompt and image with the system instruction, temperature and
// safety settings carried by req
func (c *Client) Query(ctx context.Context, req client.Request) (string, error) {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	if len(req.Image) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Image, req.MIMEType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := c.models.GenerateContent(ctx, model, contents, generateConfig(req))
	if err != nil {
		return "", fmt.Errorf("gemini generate error: %w", err)
	}

	text := resp.Text()
	if text == "" {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("gemini blocked the prompt: %s", resp.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("empty response from gemini")
	}
	return text, nil
}

func generateConfig(req client.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Safety == client.SafetyBlockOnlyHighDangerous {
		cfg.SafetySettings = []*genai.SafetySetting{
			{
				Category:  genai.HarmCategoryDangerousContent,
				Threshold: genai.HarmBlockThresholdBlockOnlyHigh,
			},
		}
	}
	return cfg
}
