// Package funcexec implements the function-call HTTP contract shared by the
// voxagent client and the voxbridge server.
//
// A call is posted as {"id","name","arguments"} and answered with either
// {"content": "..."} or {"error": "..."}. [Client] is the calling side and
// plugs into [agent.WithFunctionHandler]; [Handler] serves a [Registry] of Go
// functions.
package funcexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/resilience"
	"github.com/MrWong99/voxbridge/pkg/agent"
	"github.com/MrWong99/voxbridge/pkg/wire"
)

// maxBody caps request and response bodies.
const maxBody = 1 << 20

// metricsLabel is the upstream label used for executor outcomes.
const metricsLabel = "funcexec"

// Request is the body posted for one function call.
type Request struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Response is the reply to a [Request]. Exactly one field is set.
type Response struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// FunctionError is returned when the endpoint answered, but the function
// itself failed. It never counts against the circuit breaker.
type FunctionError struct {
	Name    string
	Message string
}

func (e *FunctionError) Error() string {
	return fmt.Sprintf("funcexec: %s: %s", e.Name, e.Message)
}

// Compile-time interface assertion.
var _ agent.FunctionHandler = (*Client)(nil)

// Client posts function calls to a remote executor.
type Client struct {
	endpoint string
	http     *http.Client
	breaker  *resilience.CircuitBreaker
	metrics  *observe.Metrics
	timeout  time.Duration
}

// ClientOption configures a [Client].
type ClientOption func(*clientOptions)

type clientOptions struct {
	http    *http.Client
	breaker resilience.CircuitBreakerConfig
	metrics *observe.Metrics
	timeout time.Duration
}

// WithHTTPClient sets the HTTP client. Default: a client without timeout;
// deadlines come from the call context.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) { o.http = c }
}

// WithBreaker tunes the circuit breaker. Name, IsFailure and OnStateChange
// are managed by the client.
func WithBreaker(cfg resilience.CircuitBreakerConfig) ClientOption {
	return func(o *clientOptions) { o.breaker = cfg }
}

// WithMetrics records outcomes and breaker transitions on m.
func WithMetrics(m *observe.Metrics) ClientOption {
	return func(o *clientOptions) { o.metrics = m }
}

// WithTimeout bounds each call in addition to the caller's context.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.timeout = d }
}

// NewClient returns a [Client] posting to endpoint.
func NewClient(endpoint string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("funcexec: parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("funcexec: endpoint scheme %q must be http or https", u.Scheme)
	}

	o := clientOptions{http: &http.Client{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}

	metrics := o.metrics
	bcfg := o.breaker
	bcfg.Name = "funcexec"
	bcfg.IsFailure = func(err error) bool {
		var fe *FunctionError
		return !errors.As(err, &fe)
	}
	bcfg.OnStateChange = func(name string, _, to resilience.State) {
		metrics.RecordBreakerTransition(context.Background(), name, to.String())
	}

	return &Client{
		endpoint: endpoint,
		http:     o.http,
		breaker:  resilience.NewCircuitBreaker(bcfg),
		metrics:  metrics,
		timeout:  o.timeout,
	}, nil
}

// Breaker exposes the client's circuit breaker for health reporting.
func (c *Client) Breaker() *resilience.CircuitBreaker { return c.breaker }

// HandleFunctionCall implements [agent.FunctionHandler].
func (c *Client) HandleFunctionCall(ctx context.Context, call wire.FunctionCall) (string, error) {
	return c.Execute(ctx, call)
}

// Execute posts call and returns the function's content. A reply carrying
// an error is returned as *[FunctionError].
func (c *Client) Execute(ctx context.Context, call wire.FunctionCall) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	ctx, span := observe.StartSpan(ctx, "funcexec.execute",
		trace.WithSpanKind(trace.SpanKindClient),
		observe.FunctionCall(call.Name, call.ID),
	)
	defer span.End()

	start := time.Now()
	var content string
	err := c.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		var err error
		content, err = c.post(ctx, call)
		return err
	})

	var fe *FunctionError
	status := "ok"
	switch {
	case err == nil:
	case errors.As(err, &fe):
		status = "error"
	case errors.Is(err, resilience.ErrCircuitOpen):
		status = "circuit_open"
	default:
		status = "failed"
	}
	c.metrics.RecordFunctionCall(ctx, metricsLabel, status, time.Since(start))

	if err != nil {
		observe.Fail(span, err, status)
		observe.Logger(ctx).Warn("function call failed", "call_id", call.ID, "name", call.Name, "status", status, "err", err)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return "", fmt.Errorf("funcexec: %s: %w", call.Name, err)
		}
		return "", err
	}
	return content, nil
}

func (c *Client) post(ctx context.Context, call wire.FunctionCall) (string, error) {
	body, err := json.Marshal(Request{ID: call.ID, Name: call.Name, Arguments: call.Arguments})
	if err != nil {
		return "", fmt.Errorf("funcexec: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("funcexec: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("funcexec: post %s: %w", call.Name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("funcexec: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("funcexec: %s: endpoint returned %s", call.Name, resp.Status)
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return "", &FunctionError{Name: call.Name, Message: http.StatusText(resp.StatusCode)}
		}
		return "", fmt.Errorf("funcexec: decode response: %w", err)
	}
	if out.Error != "" {
		return "", &FunctionError{Name: call.Name, Message: out.Error}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", &FunctionError{Name: call.Name, Message: http.StatusText(resp.StatusCode)}
	}
	return out.Content, nil
}
