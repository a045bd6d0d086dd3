// Package openai talks to OpenAI-compatible chat completion servers, which
// covers the OpenAI API as well as local llama.cpp, vLLM and LM Studio
// servers.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/menta2k/vision-studio/pkg/client"
)

// DefaultURL points at a local llama.cpp server
const DefaultURL = "http://localhost:8080/v1"

type Client struct {
	client openai.Client
}

// NewClient creates a client for serverURL. Retries are disabled: a failed
// request is reported to the user rather than repeated.
func NewClient(serverURL, apiKey string, httpClient *http.Client) (*Client, error) {
	if serverURL == "" {
		serverURL = DefaultURL
	}
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		return nil, fmt.Errorf("invalid URL %q: http or https required", serverURL)
	}
	if apiKey == "" {
		// local servers accept any key, but the SDK insists on one
		apiKey = "no-key"
	}

	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimSuffix(serverURL, "/") + "/"),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	return &Client{client: openai.NewClient(opts...)}, nil
}

func (c *Client) Name() string { return "openai" }

// Query sends the system instruction as a system message and the prompt plus
// an inline data URL image as the user message. Safety settings have no
// equivalent here and are ignored.
func (c *Client) Query(ctx context.Context, req client.Request) (string, error) {
	content := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(req.Prompt),
	}
	if len(req.Image) > 0 {
		content = append(content, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: DataURL(req.MIMEType, req.Image),
		}))
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(content))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	msg := resp.Choices[0].Message
	if msg.Content == "" {
		if msg.Refusal != "" {
			return "", fmt.Errorf("model refused: %s", msg.Refusal)
		}
		return "", fmt.Errorf("empty response from server")
	}
	return msg.Content, nil
}

// DataURL encodes data as a base64 data URL
func DataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
