package workersai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhengjr9/chat-relay/internal/chat"
	apierrors "github.com/zhengjr9/chat-relay/internal/errors"
)

const testModel = "@cf/meta/llama-3.1-8b-instruct-fp8"

type captured struct {
	path    string
	headers http.Header
	body    map[string]any
}

func newUpstream(t *testing.T, status int, frames ...string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.headers = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got.body)

		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"success":false,"errors":[{"code":7003,"message":"No route for that URI"}]}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, f := range frames {
			_, _ = io.WriteString(w, f)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Options{
		AccountID:      "acc-1",
		APIToken:       "tok-1",
		BaseURL:        baseURL,
		GatewayBaseURL: baseURL + "/gateway",
	})
	require.NoError(t, err)
	return c
}

func collect(t *testing.T, s chat.Stream) string {
	t.Helper()
	var sb strings.Builder
	for chunk, err := range s {
		require.NoError(t, err)
		sb.Write(chunk)
	}
	return sb.String()
}

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient(Options{APIToken: "t"})
	require.Error(t, err)
	_, err = NewClient(Options{AccountID: "a"})
	require.Error(t, err)
	_, err = NewClient(Options{AccountID: "a", APIToken: "t", ProxyURL: "://bad"})
	require.Error(t, err)

	c, err := NewClient(Options{AccountID: "a", APIToken: "t"})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, DefaultGatewayBaseURL, c.gatewayBaseURL)
}

func TestClient_Endpoint(t *testing.T) {
	c, err := NewClient(Options{AccountID: "acc", APIToken: "t", BaseURL: "https://api.example.com/client/v4/"})
	require.NoError(t, err)

	assert.Equal(t,
		"https://api.example.com/client/v4/accounts/acc/ai/run/@cf/meta/llama-3.1-8b-instruct-fp8",
		c.endpoint(testModel, nil))
	assert.Equal(t,
		"https://gateway.ai.cloudflare.com/v1/acc/my-gw/workers-ai/@cf/meta/llama-3.1-8b-instruct-fp8",
		c.endpoint(testModel, &chat.GatewayOptions{ID: "my-gw"}))
	assert.Equal(t,
		"https://api.example.com/client/v4/accounts/acc/ai/run/@cf/meta/llama-3.1-8b-instruct-fp8",
		c.endpoint(testModel, &chat.GatewayOptions{}), "empty gateway id goes direct")
}

func TestClient_Run(t *testing.T) {
	frames := []string{
		"data: {\"response\":\"He\"}\n\n",
		"data: {\"response\":\"llo\"}\n\n",
		"data: [DONE]\n\n",
	}
	srv, got := newUpstream(t, http.StatusOK, frames...)
	c := newTestClient(t, srv.URL)

	in := chat.Input{
		Messages:  []chat.Message{{Role: chat.RoleSystem, Content: "p"}, {Role: chat.RoleUser, Content: "hi"}},
		MaxTokens: chat.MaxTokens,
	}
	stream, err := c.Run(context.Background(), testModel, in, chat.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, strings.Join(frames, ""), collect(t, stream))
	assert.Equal(t, "/accounts/acc-1/ai/run/"+testModel, got.path)
	assert.Equal(t, "Bearer tok-1", got.headers.Get("Authorization"))
	assert.Equal(t, "text/event-stream", got.headers.Get("Accept"))
	assert.Empty(t, got.headers.Get("cf-aig-skip-cache"))

	assert.Equal(t, true, got.body["stream"])
	assert.Equal(t, float64(1024), got.body["max_tokens"])
	msgs := got.body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, map[string]any{"role": "system", "content": "p"}, msgs[0])
	assert.Equal(t, map[string]any{"role": "user", "content": "hi"}, msgs[1])
}

func TestClient_RunThroughGateway(t *testing.T) {
	srv, got := newUpstream(t, http.StatusOK, "data: [DONE]\n\n")
	c := newTestClient(t, srv.URL)

	opts := chat.RunOptions{Gateway: &chat.GatewayOptions{ID: "gw-1", SkipCache: true, CacheTTL: 3600}}
	stream, err := c.Run(context.Background(), testModel, chat.Input{MaxTokens: chat.MaxTokens}, opts)
	require.NoError(t, err)
	collect(t, stream)

	assert.Equal(t, "/gateway/acc-1/gw-1/workers-ai/"+testModel, got.path)
	assert.Equal(t, "true", got.headers.Get("cf-aig-skip-cache"))
	assert.Equal(t, "3600", got.headers.Get("cf-aig-cache-ttl"))
	assert.Equal(t, []any{}, got.body["messages"])
}

func TestClient_RunNon2xx(t *testing.T) {
	srv, _ := newUpstream(t, http.StatusBadRequest)
	c := newTestClient(t, srv.URL)

	_, err := c.Run(context.Background(), testModel, chat.Input{}, chat.RunOptions{})

	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "No route for that URI")
	assert.ErrorIs(t, err, apierrors.ErrUpstream)
}

func TestClient_RunTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Run(ctx, testModel, chat.Input{}, chat.RunOptions{})

	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrUpstreamTimeout)
}

type trackingReader struct {
	io.Reader
	closed bool
}

func (r *trackingReader) Close() error {
	r.closed = true
	return nil
}

func TestChunks_ClosesOnEarlyStop(t *testing.T) {
	r := &trackingReader{Reader: strings.NewReader(strings.Repeat("x", readSize*3))}

	for range Chunks(r) {
		break
	}

	assert.True(t, r.closed)
}

type failingReader struct{ sent bool }

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, "partial"), nil
	}
	return 0, io.ErrUnexpectedEOF
}

func (r *failingReader) Close() error { return nil }

func TestChunks_PropagatesReadError(t *testing.T) {
	var got []string
	var gotErr error
	for chunk, err := range Chunks(&failingReader{}) {
		if err != nil {
			gotErr = err
			break
		}
		got = append(got, string(chunk))
	}

	assert.Equal(t, []string{"partial"}, got)
	assert.ErrorIs(t, gotErr, io.ErrUnexpectedEOF)
}
