package workersai

import (
	"fmt"

	apierrors "github.com/zhengjr9/chat-relay/internal/errors"
)

// StreamEvent is one SSE data frame from the ai/run streaming endpoint.
type StreamEvent struct {
	Response string `json:"response"`
	// Usage is only present on the last frame of some models.
	Usage *Usage `json:"usage,omitempty"`
}

// Usage carries token counts reported by the model.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// APIError is returned when ai/run answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("workers ai %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return apierrors.ErrUpstream }
