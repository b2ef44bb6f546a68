// Package workersai is a client for the Cloudflare Workers AI ai/run
// endpoint in streaming mode, optionally routed through AI Gateway.
package workersai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/zhengjr9/chat-relay/internal/chat"
	apierrors "github.com/zhengjr9/chat-relay/internal/errors"
)

const (
	DefaultBaseURL        = "https://api.cloudflare.com/client/v4"
	DefaultGatewayBaseURL = "https://gateway.ai.cloudflare.com/v1"

	// readSize is the relay chunk size upper bound.
	readSize = 4096
	// maxErrorBody bounds how much of a failed response is kept.
	maxErrorBody = 4096
)

// Options configures a Client.
type Options struct {
	AccountID string
	APIToken  string
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
	// GatewayBaseURL defaults to DefaultGatewayBaseURL.
	GatewayBaseURL string
	// ProxyURL may be empty to use the environment proxy.
	ProxyURL string
}

// Client sends ai/run requests. It implements chat.Backend.
type Client struct {
	accountID      string
	apiToken       string
	baseURL        string
	gatewayBaseURL string
	// httpClient has no timeout; the request context carries the deadline
	// so that long streams are not cut off.
	httpClient *http.Client
}

var _ chat.Backend = (*Client)(nil)

// NewClient constructs a Client.
func NewClient(opts Options) (*Client, error) {
	if opts.AccountID == "" {
		return nil, errors.New("workersai: account id must not be empty")
	}
	if opts.APIToken == "" {
		return nil, errors.New("workersai: api token must not be empty")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	gatewayBaseURL := strings.TrimRight(opts.GatewayBaseURL, "/")
	if gatewayBaseURL == "" {
		gatewayBaseURL = DefaultGatewayBaseURL
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.ProxyURL != "" {
		parsed, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("workersai: parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &Client{
		accountID:      opts.AccountID,
		apiToken:       opts.APIToken,
		baseURL:        baseURL,
		gatewayBaseURL: gatewayBaseURL,
		httpClient:     &http.Client{Transport: transport},
	}, nil
}

// endpoint returns the ai/run URL for model, direct or through the gateway.
// Model ids contain slashes, e.g. "@cf/meta/llama-3.1-8b-instruct-fp8", and
// are appended as path segments.
func (c *Client) endpoint(model string, gw *chat.GatewayOptions) string {
	model = strings.TrimLeft(model, "/")
	if gw != nil && gw.ID != "" {
		return fmt.Sprintf("%s/%s/%s/workers-ai/%s", c.gatewayBaseURL, url.PathEscape(c.accountID), url.PathEscape(gw.ID), model)
	}
	return fmt.Sprintf("%s/accounts/%s/ai/run/%s", c.baseURL, url.PathEscape(c.accountID), model)
}

// Run starts a streaming ai/run request. The returned stream yields the raw
// response body as it arrives and closes it when iteration ends.
func (c *Client) Run(ctx context.Context, model string, in chat.Input, opts chat.RunOptions) (chat.Stream, error) {
	body, err := c.Open(ctx, model, in, opts)
	if err != nil {
		return nil, err
	}
	return Chunks(body), nil
}

// Open starts a streaming ai/run request and returns the response body.
// Callers must close it.
func (c *Client) Open(ctx context.Context, model string, in chat.Input, opts chat.RunOptions) (io.ReadCloser, error) {
	in.Stream = true
	if in.Messages == nil {
		in.Messages = []chat.Message{}
	}
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(model, opts.Gateway), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiToken)
	if gw := opts.Gateway; gw != nil && gw.ID != "" {
		if gw.SkipCache {
			httpReq.Header.Set("cf-aig-skip-cache", "true")
		}
		if gw.CacheTTL > 0 {
			httpReq.Header.Set("cf-aig-cache-ttl", strconv.Itoa(gw.CacheTTL))
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("workers ai request: %w: %w", apierrors.ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("workers ai request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return resp.Body, nil
}

// Chunks turns r into a single-pass chat.Stream of read-sized chunks. r is
// closed when the stream is exhausted, fails, or the consumer stops early.
func Chunks(r io.ReadCloser) chat.Stream {
	return func(yield func([]byte, error) bool) {
		defer r.Close()
		buf := make([]byte, readSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				if !yield(buf[:n], nil) {
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("read stream: %w", err))
				return
			}
		}
	}
}
