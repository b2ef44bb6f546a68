package proxy

import (
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhengjr9/chat-relay/internal/chat"
	apierrors "github.com/zhengjr9/chat-relay/internal/errors"
	"github.com/zhengjr9/chat-relay/internal/httputil"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware reuses the caller's X-Request-ID or assigns a UUID, and
// echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(httputil.WithRequestID(r.Context(), id)))
	})
}

// LoggingMiddleware logs each request with method, path, status, and duration.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			defer func() {
				// Runs on panics too, so aborted streams are still logged.
				logger.InfoContext(r.Context(), "request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", lrw.statusCode,
					"bytes", lrw.bytes,
					"duration", time.Since(start).String(),
					"remote", r.RemoteAddr,
					"request_id", httputil.RequestID(r.Context()),
				)
			}()
			next.ServeHTTP(lrw, r)
		})
	}
}

// RecoveryMiddleware catches panics and returns the uniform 500. An
// http.ErrAbortHandler panic is re-raised so net/http closes the connection,
// and so is any panic after the response has started.
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.ErrorContext(r.Context(), "panic recovered",
					"error", rec,
					"request_id", httputil.RequestID(r.Context()),
					"stack", string(debug.Stack()),
				)
				if rw.wroteHeader {
					panic(http.ErrAbortHandler)
				}
				apierrors.WriteJSONError(w, http.StatusInternalServerError, chat.FailureMessage)
			}()
			next.ServeHTTP(rw, r)
		})
	}
}

// ResolveDotSegments rewrites "." and ".." path segments before routing, the
// way a URL parser resolves them, without issuing a redirect. Empty segments
// and trailing slashes are kept.
func ResolveDotSegments(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := resolveDotSegments(r.URL.Path)
		if p == r.URL.Path {
			next.ServeHTTP(w, r)
			return
		}
		r2 := new(http.Request)
		*r2 = *r
		r2.URL = new(url.URL)
		*r2.URL = *r.URL
		r2.URL.Path = p
		r2.URL.RawPath = ""
		next.ServeHTTP(w, r2)
	})
}

func resolveDotSegments(p string) string {
	if !strings.HasPrefix(p, "/") || !strings.Contains(p, ".") {
		return p
	}
	segs := strings.Split(p[1:], "/")
	out := make([]string, 0, len(segs))
	for i, seg := range segs {
		last := i == len(segs)-1
		switch seg {
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
			if last {
				out = append(out, "")
			}
		case ".":
			if last {
				out = append(out, "")
			}
		default:
			out = append(out, seg)
		}
	}
	return "/" + strings.Join(out, "/")
}

// loggingResponseWriter captures the status code written by the handler.
// Unwrap lets http.ResponseController reach the real writer's Flush.
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	bytes       int
	wroteHeader bool
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	if code >= 200 {
		lrw.wroteHeader = true
	}
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(p []byte) (int, error) {
	lrw.wroteHeader = true
	n, err := lrw.ResponseWriter.Write(p)
	lrw.bytes += n
	return n, err
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}
