// Package llm defines the provider-agnostic chat surface the decision
// engine talks to. Providers live under providers/.
package llm

import (
	"context"
	"time"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ImageB64 attaches a base64 PNG for vision-capable models.
	ImageB64 string `json:"image_b64,omitempty"`
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type Result struct {
	Text     string
	Usage    Usage
	Duration time.Duration
}

type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
	ForceJSON   bool
}

type Client interface {
	Chat(ctx context.Context, req Request) (Result, error)
}
