// Package chat implements the chat completion streaming proxy: it decodes a
// conversation, enforces the persona system prompt, invokes the inference
// backend in streaming mode and relays the backend's output verbatim.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/zhengjr9/chat-relay/internal/errors"
	"github.com/zhengjr9/chat-relay/internal/httputil"
	"github.com/zhengjr9/chat-relay/internal/metrics"
)

// FailureMessage is the only error text clients ever see.
const FailureMessage = "Failed to process request"

// Terminal outcomes of a chat request, as reported to metrics.
const (
	OutcomeStreamed   = "streamed"
	OutcomeFailed     = "failed"
	OutcomeAborted    = "aborted"
	OutcomeClientGone = "client_gone"
)

// Config is the immutable per-process setup of the proxy.
type Config struct {
	// Model is the backend model identifier.
	Model string
	// Persona is injected as the system message when the client sent none.
	Persona string
	// Timeout bounds the whole request including the stream. Zero disables it.
	Timeout time.Duration
	// MaxBodyBytes caps the request body. Zero disables the cap.
	MaxBodyBytes int64
	// RunOptions is passed to every backend invocation.
	RunOptions RunOptions
}

// Handler serves POST /api/chat.
type Handler struct {
	cfg     Config
	backend Backend
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewHandler constructs a Handler. m and logger may be nil.
func NewHandler(cfg Config, backend Backend, m *metrics.Collector, logger *slog.Logger) (*Handler, error) {
	if backend == nil {
		return nil, errors.New("chat: backend must not be nil")
	}
	if cfg.Model == "" {
		return nil, errors.New("chat: model must not be empty")
	}
	if cfg.Persona == "" {
		cfg.Persona = DefaultPersona
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{cfg: cfg, backend: backend, metrics: m, logger: logger}, nil
}

// ServeHTTP produces exactly one response: a stream, or the uniform JSON error
// when anything fails before the stream is open.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}

	stream, err := h.prepare(ctx, w, r)
	if err != nil {
		h.logger.ErrorContext(ctx, "error processing chat request",
			"error", err,
			"request_id", httputil.RequestID(ctx),
		)
		h.metrics.RecordOutcome(OutcomeFailed, 0)
		apierrors.WriteJSONError(w, http.StatusInternalServerError, FailureMessage)
		return
	}
	h.metrics.RecordSetup(time.Since(start))

	relayStart := time.Now()
	res := relay(ctx, w, stream, h.metrics)
	elapsed := time.Since(relayStart)

	switch {
	case res.streamErr != nil:
		h.logger.ErrorContext(ctx, "chat stream aborted",
			"error", fmt.Errorf("%w: %w", apierrors.ErrStreamAborted, res.streamErr),
			"chunks", res.chunks,
			"bytes", res.bytes,
			"request_id", httputil.RequestID(ctx),
		)
		h.metrics.RecordOutcome(OutcomeAborted, elapsed)
		// The status line is gone already; tearing the connection down is
		// the only way to tell the client the stream is incomplete.
		panic(http.ErrAbortHandler)
	case res.clientErr != nil:
		h.logger.InfoContext(ctx, "chat client went away",
			"error", res.clientErr,
			"chunks", res.chunks,
			"request_id", httputil.RequestID(ctx),
		)
		h.metrics.RecordOutcome(OutcomeClientGone, elapsed)
	default:
		h.metrics.RecordOutcome(OutcomeStreamed, elapsed)
	}
}

// prepare runs parse, extract, inject and invoke. Any error it returns means
// nothing has been written to w.
func (h *Handler) prepare(ctx context.Context, w http.ResponseWriter, r *http.Request) (Stream, error) {
	body := r.Body
	if h.cfg.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	}

	req, err := decodeRequest(body)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	in := Input{
		Messages:  WithPersona(req.Messages, h.cfg.Persona),
		MaxTokens: MaxTokens,
		Stream:    true,
	}

	stream, err := h.backend.Run(ctx, h.cfg.Model, in, h.cfg.RunOptions)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", h.cfg.Model, err)
	}
	if stream == nil {
		return nil, fmt.Errorf("invoke %s: backend returned no stream", h.cfg.Model)
	}
	return stream, nil
}
