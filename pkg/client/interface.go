package client

import (
	"context"
)

// SafetyPolicy describes how aggressively a backend should filter content.
// Backends without a safety API ignore it.
type SafetyPolicy int

const (
	SafetyDefault SafetyPolicy = iota
	// SafetyBlockOnlyHighDangerous blocks only high-severity dangerous content
	SafetyBlockOnlyHighDangerous
)

// Request is one image + prompt round trip to a vision model
type Request struct {
	Model        string
	SystemPrompt string
	Prompt       string
	Image        []byte
	MIMEType     string
	Temperature  float64
	Safety       SafetyPolicy
}

// VisionClient sends a Request and returns the model's raw text reply
type VisionClient interface {
	Query(ctx context.Context, req Request) (string, error)
	Name() string
}
