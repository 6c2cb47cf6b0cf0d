package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
	maxErrorBodyBytes      = 1 << 16
	headerIdempotencyKey   = "Idempotency-Key"
	contentTypeJSON        = "application/json"
)

var tracer = otel.Tracer("github.com/hanko-field/pos/internal/repositories/rest")

// HTTPClient matches the subset of http.Client used by Client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Token      string
	HTTPClient HTTPClient
	// Timeout bounds the default http.Client. Ignored when HTTPClient is supplied.
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
	OnBreakerChange func(name string, from, to gobreaker.State)
}

// Client issues authenticated JSON requests against the backend. Server-side failures trip a
// circuit breaker shared by every repository built on the client.
type Client struct {
	base    *url.URL
	token   string
	http    HTTPClient
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// NewClient validates the options and constructs a Client.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("rest: base URL is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("rest: parse base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("rest: base URL must be http or https, got %q", parsed.Scheme)
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	failures := opts.BreakerFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	cooldown := opts.BreakerCooldown
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    "pos-backend",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: opts.OnBreakerChange,
	})

	return &Client{
		base:    parsed,
		token:   strings.TrimSpace(opts.Token),
		http:    client,
		breaker: breaker,
	}, nil
}

// BreakerState exposes the breaker state for health reporting.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

type request struct {
	op       string
	method   string
	endpoint string
	query    url.Values
	body     any
	headers  map[string]string
}

// send runs req through the breaker inside a client span. Responses with a status of 429 or 5xx
// are converted to errors so the breaker counts them; other statuses are returned to the caller,
// who owns closing the body.
func (c *Client) send(ctx context.Context, req request) (*http.Response, error) {
	ctx, span := tracer.Start(ctx, req.op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.request.method", req.method),
		attribute.String("url.path", req.endpoint),
	)

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return nil, errorFromResponse(req.op, resp)
		}
		return resp, nil
	})
	if err != nil {
		err = wrapTransportError(req.op, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var repoErr *Error
		if errors.As(err, &repoErr) && repoErr.status > 0 {
			span.SetAttributes(attribute.Int("http.response.status_code", repoErr.status))
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	return resp, nil
}

// sendJSON sends req and decodes a successful response into out. Any status outside expected is
// returned as an *Error.
func (c *Client) sendJSON(ctx context.Context, req request, out any, expected ...int) error {
	resp, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !statusIn(resp.StatusCode, expected) {
		return errorFromResponse(req.op, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", req.op, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, req request) (*http.Request, error) {
	var body io.Reader
	if req.body != nil {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(req.body); err != nil {
			return nil, fmt.Errorf("%s: encode payload: %w", req.op, err)
		}
		body = &buf
	}

	target, err := c.resolve(req.endpoint, req.query)
	if err != nil {
		return nil, fmt.Errorf("%s: resolve endpoint: %w", req.op, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", req.op, err)
	}
	httpReq.Header.Set("Accept", contentTypeJSON)
	if body != nil {
		httpReq.Header.Set("Content-Type", contentTypeJSON)
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	for key, value := range req.headers {
		if value != "" {
			httpReq.Header.Set(key, value)
		}
	}
	return httpReq, nil
}

// resolve joins an escaped endpoint onto the base URL, keeping any base path prefix.
func (c *Client) resolve(endpoint string, query url.Values) (string, error) {
	ref, err := url.Parse(strings.TrimPrefix(endpoint, "/"))
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		ref.RawQuery = query.Encode()
	}
	return c.base.ResolveReference(ref).String(), nil
}

func endpointPath(segments ...string) string {
	escaped := make([]string, 0, len(segments))
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}
	return "/" + strings.Join(escaped, "/")
}

func errorFromResponse(op string, resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	_ = resp.Body.Close()

	type errorPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	var payload errorPayload
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err == nil {
			message := payload.Message
			if message == "" {
				message = payload.Error
			}
			if message != "" {
				return newStatusError(op, resp.StatusCode, payload.Code, message)
			}
		}
		return newStatusError(op, resp.StatusCode, "", string(body))
	}
	return newStatusError(op, resp.StatusCode, "", "")
}

func statusIn(status int, expected []int) bool {
	if len(expected) == 0 {
		return status >= 200 && status < 300
	}
	for _, candidate := range expected {
		if status == candidate {
			return true
		}
	}
	return false
}
