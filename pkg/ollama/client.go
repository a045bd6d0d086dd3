package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/vision-studio/pkg/client"
)

// Client wraps the Ollama API client
type Client struct {
	client *api.Client
}

// NewClient creates a new Ollama client
func NewClient(ollamaURL string, httpClient *http.Client) (*Client, error) {
	// Parse the provided URL
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: scheme and host required", ollamaURL)
	}

	// Create base URL from the provided URL (removing path like /api/chat)
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	// Create client with the specified URL, ignoring environment
	return &Client{client: api.NewClient(baseURL, httpClient)}, nil
}

func (c *Client) Name() string { return "ollama" }

// Query sends the system instruction, prompt and image as one chat turn.
// Ollama has no safety settings, so req.Safety is ignored.
func (c *Client) Query(ctx context.Context, req client.Request) (string, error) {
	messages := make([]api.Message, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, api.Message{
			Role:    "system",
			Content: req.SystemPrompt,
		})
	}
	user := api.Message{
		Role:    "user",
		Content: req.Prompt,
	}
	if len(req.Image) > 0 {
		user.Images = []api.ImageData{api.ImageData(req.Image)}
	}
	messages = append(messages, user)

	streamFalse := false
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   &streamFalse,
		Options: map[string]any{
			"temperature": req.Temperature,
		},
		// No Format field - the reply is expected to carry a fenced block
	}

	var responseContent string
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		responseContent += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat error: %w", err)
	}

	if responseContent == "" {
		return "", fmt.Errorf("empty response from ollama")
	}
	return responseContent, nil
}
