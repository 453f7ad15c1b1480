// Package answer adapts the external reasoning provider. The engine receives
// a prompt plus context and returns a proposed answer; retry and circuit
// breaking live in the resilience layer, not here.
package answer

import (
	"context"

	"github.com/certflow/certflow/errors"
)

// Typed provider failures. The resilience layer routes these through the
// answer-engine circuit independently of browser-action retries.
var (
	ErrRateLimited     = errors.New("answer: rate limited")
	ErrUnavailable     = errors.New("answer: provider unavailable")
	ErrInvalidResponse = errors.New("answer: invalid provider response")
)

// Request is one completion request.
type Request struct {
	SystemPrompt string
	UserPrompt   string

	// Model overrides the client default when non-empty. The vision model is
	// selected this way for OCR requests.
	Model string

	// Attachments carries multimodal parts (base64 image data URIs).
	Attachments []ContentPart

	// TaskID attributes usage accounting to a course task. Optional.
	TaskID string
}

// Usage reports token consumption for one request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Answer is the provider's response.
type Answer struct {
	Content string
	Model   string
	Usage   Usage
}

// Engine is the answer-generation contract. Complete honors ctx cancellation
// and deadline; failures are typed (rate limited, unavailable, invalid
// response) so the caller never sees a raw transport error.
type Engine interface {
	Complete(ctx context.Context, req Request) (*Answer, error)
}
