package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	apierrors "github.com/zhengjr9/chat-relay/internal/errors"
	"github.com/zhengjr9/chat-relay/internal/httputil"
	"github.com/zhengjr9/chat-relay/internal/metrics"
)

// relayResult describes how a relay ended. At most one of streamErr and
// clientErr is set.
type relayResult struct {
	chunks int
	bytes  int
	// streamErr is set when the backend stream failed or timed out.
	streamErr error
	// clientErr is set when the client went away.
	clientErr error
}

// relay writes the SSE headers, then forwards every chunk of stream to w in
// order, flushing after each one. It never holds more than one chunk.
func relay(ctx context.Context, w http.ResponseWriter, stream Stream, m *metrics.Collector) relayResult {
	rc := http.NewResponseController(w)

	httputil.SetSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	// Headers go out before the first chunk arrives.
	_ = rc.Flush()

	var res relayResult
	early := false
	for chunk, err := range stream {
		if err != nil {
			res.streamErr = err
			early = true
			break
		}
		if ctx.Err() != nil {
			early = true
			break
		}
		if len(chunk) == 0 {
			continue
		}
		n, err := w.Write(chunk)
		res.bytes += n
		if err != nil {
			res.clientErr = err
			early = true
			break
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			res.clientErr = err
			early = true
			break
		}
		res.chunks++
		m.RecordChunk(n)
	}

	if !early {
		return res
	}
	// A cancelled context surfaces as a read error on the upstream body too,
	// so the context decides who failed.
	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.Canceled):
		res.streamErr = nil
		if res.clientErr == nil {
			res.clientErr = ctxErr
		}
	case errors.Is(ctxErr, context.DeadlineExceeded):
		res.clientErr = nil
		res.streamErr = fmt.Errorf("%w: %w", apierrors.ErrUpstreamTimeout, ctxErr)
	}
	return res
}
