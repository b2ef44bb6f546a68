package a2a

import (
	"fmt"
	"iter"
	"strings"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"github.com/zhengjr9/chat-relay/internal/chat"
	"github.com/zhengjr9/chat-relay/internal/workersai"
)

// AgentConfig holds the configuration for the Workers AI backed A2A agent.
type AgentConfig struct {
	// Name is the agent name exposed via A2A AgentCard.
	Name string
	// Description is exposed via A2A AgentCard.
	Description string
	// Backend runs the model. Its stream must carry Workers AI SSE frames.
	Backend chat.Backend
	// Model is the backend model identifier.
	Model string
	// Persona is sent as the system message of every invocation.
	Persona string
	// RunOptions is passed to every backend invocation.
	RunOptions chat.RunOptions
}

// New returns an agent.Agent whose Run logic streams one persona chat turn
// from the backend and converts the text deltas into session.Events that the
// ADK runner understands.
func New(cfg AgentConfig) (agent.Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("a2a agent: Name must not be empty")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("a2a agent: Backend must not be nil")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("a2a agent: Model must not be empty")
	}
	if cfg.Persona == "" {
		cfg.Persona = chat.DefaultPersona
	}

	return agent.New(agent.Config{
		Name:        cfg.Name,
		Description: cfg.Description,
		Run:         runFunc(cfg),
	})
}

// runFunc returns the Run closure that drives one agent invocation.
func runFunc(cfg AgentConfig) func(agent.InvocationContext) iter.Seq2[*session.Event, error] {
	return func(ctx agent.InvocationContext) iter.Seq2[*session.Event, error] {
		return func(yield func(*session.Event, error) bool) {
			query := extractQuery(ctx.UserContent())
			if query == "" {
				ev := session.NewEvent(ctx.InvocationID())
				ev.Author = cfg.Name
				ev.LLMResponse = model.LLMResponse{
					Content: textContent("(empty input)"),
				}
				yield(ev, nil)
				return
			}

			in := buildInput(cfg.Persona, query)
			stream, err := cfg.Backend.Run(ctx, cfg.Model, in, cfg.RunOptions)
			if err != nil {
				yield(nil, fmt.Errorf("workers ai streaming request failed: %w", err))
				return
			}

			var fullText strings.Builder
			for delta, err := range workersai.Text(stream) {
				if err != nil {
					yield(nil, fmt.Errorf("workers ai stream error: %w", err))
					return
				}
				fullText.WriteString(delta)

				// Emit a partial event so streaming A2A clients see tokens as they arrive.
				partialEv := session.NewEvent(ctx.InvocationID())
				partialEv.Author = cfg.Name
				partialEv.Branch = ctx.Branch()
				partialEv.LLMResponse = model.LLMResponse{
					Content: textContent(delta),
					Partial: true,
				}
				if !yield(partialEv, nil) {
					return
				}
			}

			// Emit the final (non-partial) event with the complete answer so that
			// IsFinalResponse() returns true and the runner closes the invocation.
			finalEv := session.NewEvent(ctx.InvocationID())
			finalEv.Author = cfg.Name
			finalEv.Branch = ctx.Branch()
			finalEv.LLMResponse = model.LLMResponse{
				Content: textContent(fullText.String()),
				Partial: false,
			}
			yield(finalEv, nil)
		}
	}
}

// buildInput wraps one user turn with the persona.
func buildInput(persona, query string) chat.Input {
	return chat.Input{
		Messages:  chat.WithPersona([]chat.Message{{Role: chat.RoleUser, Content: query}}, persona),
		MaxTokens: chat.MaxTokens,
		Stream:    true,
	}
}

// extractQuery pulls the plain-text content from the genai.Content that ADK
// puts in the InvocationContext when the caller sends a message.
func extractQuery(content *genai.Content) string {
	if content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// textContent is a small helper that wraps a string into a *genai.Content.
func textContent(text string) *genai.Content {
	return &genai.Content{
		Role:  genai.RoleModel,
		Parts: []*genai.Part{{Text: text}},
	}
}
