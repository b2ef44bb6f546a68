package chat

import (
	"context"
	"iter"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MaxTokens is the output cap sent with every backend invocation.
const MaxTokens = 1024

// Message is a single turn in a conversation. Order is conversation order.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the body of POST /api/chat.
type Request struct {
	Messages []Message `json:"messages"`
}

// Input is what the backend receives for one invocation.
type Input struct {
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream"`
}

// GatewayOptions routes an invocation through an AI gateway.
type GatewayOptions struct {
	ID        string
	SkipCache bool
	// CacheTTL is in seconds; zero leaves the gateway default.
	CacheTTL int
}

// RunOptions carries per-invocation routing settings. The zero value sends
// the request straight to the backend.
type RunOptions struct {
	Gateway *GatewayOptions
}

// Stream is a lazy, single-pass sequence of opaque output chunks. A chunk is
// only valid until the next iteration step. A non-nil error ends the stream.
type Stream = iter.Seq2[[]byte, error]

// Backend runs a model in streaming mode. An error return means the stream
// never started.
type Backend interface {
	Run(ctx context.Context, model string, in Input, opts RunOptions) (Stream, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, model string, in Input, opts RunOptions) (Stream, error)

// Run calls f.
func (f BackendFunc) Run(ctx context.Context, model string, in Input, opts RunOptions) (Stream, error) {
	return f(ctx, model, in, opts)
}
