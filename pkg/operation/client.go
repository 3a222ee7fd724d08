// Package operation invokes operations declared by the backend catalog.
//
// A Client is bound to one operation address. It checks the address against
// the catalog before every call, sends the parameter envelope as a multipart
// form and hands back a Response that decodes the reply or saves it as a file.
package operation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/morezero/opcatalog/pkg/apierr"
	"github.com/morezero/opcatalog/pkg/apiurl"
	"github.com/morezero/opcatalog/pkg/events"
	"github.com/morezero/opcatalog/pkg/metrics"
	"github.com/morezero/opcatalog/pkg/types"
)

const logPrefix = "operation:client"

// HeaderRequestID carries the id of each invocation.
const HeaderRequestID = "X-Request-Id"

// Client calls one catalog operation.
//
// A Client is not safe for overlapping calls: Execute writes the parameter
// fields into the client's form before sending it. Keep at most one Execute
// in flight per Client and use one Client per goroutine when calls overlap.
type Client struct {
	url       *apiurl.URL
	form      *Form
	http      apiurl.HTTPDoer
	lister    apiurl.Lister
	publisher events.EventPublisher
	metrics   *metrics.Collector
	limiter   *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for reads and invocations.
func WithHTTPClient(c apiurl.HTTPDoer) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithLister sets the lister used by the existence check, e.g. a
// catalogcache.Lister.
func WithLister(l apiurl.Lister) Option {
	return func(cl *Client) {
		cl.lister = l
	}
}

// WithPublisher sets the publisher notified after every invocation.
func WithPublisher(p events.EventPublisher) Option {
	return func(cl *Client) {
		cl.publisher = p
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(cl *Client) {
		cl.metrics = m
	}
}

// WithRateLimit throttles invocations to rps per second with the given burst.
// A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(cl *Client) {
		if rps <= 0 {
			cl.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		cl.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New binds a client to ref under prefix.
func New(ref string, prefix apiurl.Prefix, opts ...Option) (*Client, error) {
	u, err := apiurl.New(ref, prefix)
	if err != nil {
		return nil, err
	}
	return NewFromURL(u, opts...), nil
}

// NewFromURL binds a client to an already validated address.
func NewFromURL(u *apiurl.URL, opts ...Option) *Client {
	c := &Client{
		url:       u,
		form:      NewForm(),
		http:      http.DefaultClient,
		publisher: &events.NoOpPublisher{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.publisher == nil {
		c.publisher = &events.NoOpPublisher{}
	}
	if c.lister == nil {
		c.lister = &apiurl.HTTPLister{Client: c.http, Metrics: c.metrics}
	}
	return c
}

// URL returns the bound address.
func (c *Client) URL() *apiurl.URL {
	return c.url
}

// Form returns the form sent by Execute.
func (c *Client) Form() *Form {
	return c.form
}

// AddFiles replaces the attachments of the next calls with files.
func (c *Client) AddFiles(files ...File) {
	c.form.SetFiles(files...)
}

// Info returns the documentation of the operation as the server sent it. An
// address that is not a declared operation has no documentation and yields an
// empty Information.
func (c *Client) Info(ctx context.Context) (*types.Information, error) {
	ok, err := c.url.IsOperation(ctx, c.lister)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Information{}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url.String(), nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindAPI, "error building the information request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindAPI, "error reading the api information", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		e := apierr.API("error reading the api information, code: %d", resp.StatusCode)
		e.Status = resp.StatusCode
		return nil, e
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindAPI, "error reading the api information", err)
	}
	if !json.Valid(data) {
		return nil, apierr.API("error decoding the api information: body is not json")
	}

	info := types.Information{Raw: json.RawMessage(data)}
	if err := json.Unmarshal(data, &info); err != nil {
		slog.Debug(fmt.Sprintf("%s - %s information has no typed view: %v", logPrefix, c.url, err))
		info = types.Information{Raw: json.RawMessage(data)}
	}
	return &info, nil
}

// Execute invokes the operation. Nil parameters and parameterskv, typed nils
// included, default to an empty array and an empty object. The address is checked against the
// catalog first; nothing is sent when it is not a declared operation or when
// the envelope is invalid.
func (c *Client) Execute(ctx context.Context, parameters, parameterskv any, strict bool) (*Response, error) {
	catalog := c.url.Prefix().Name()
	opName := c.url.Operation()

	ok, err := c.url.IsOperation(ctx, c.lister)
	if err != nil {
		c.metrics.ObserveCall(catalog, opName, metrics.OutcomeError, 0)
		return nil, err
	}
	if !ok {
		c.metrics.ObserveCall(catalog, opName, metrics.OutcomeRejected, 0)
		return nil, apierr.Address("the url does not define an api operation: '%s'", c.url)
	}

	// Nil interfaces and typed nils (nil slice, nil map) both encode to null
	// and are sent as an empty array / object.
	encodedParams, err := json.Marshal(parameters)
	if err != nil {
		c.metrics.ObserveCall(catalog, opName, metrics.OutcomeRejected, 0)
		return nil, apierr.Wrap(apierr.KindParams, "the api parameters are not valid", err)
	}
	if string(encodedParams) == "null" {
		parameters, encodedParams = []any{}, []byte("[]")
	}
	encodedKV, err := json.Marshal(parameterskv)
	if err != nil {
		c.metrics.ObserveCall(catalog, opName, metrics.OutcomeRejected, 0)
		return nil, apierr.Wrap(apierr.KindParams, "the api parameters are not valid", err)
	}
	if string(encodedKV) == "null" {
		parameterskv, encodedKV = map[string]any{}, []byte("{}")
	}

	envelope := map[string]any{"parameters": parameters, "parameterskv": parameterskv}
	if !types.IsParameters(envelope) {
		c.metrics.ObserveCall(catalog, opName, metrics.OutcomeRejected, 0)
		return nil, apierr.Params("the api parameters are not valid")
	}
	c.form.Set(FieldParameters, string(encodedParams))
	c.form.Set(FieldParametersKV, string(encodedKV))

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apierr.Wrap(apierr.KindAPI, "error making the request to the service", err)
		}
	}

	event := &events.InvocationEvent{
		RequestID: uuid.NewString(),
		Catalog:   catalog,
		Operation: opName,
		URL:       c.url.String(),
		Files:     len(c.form.files),
		Strict:    strict,
	}
	start := time.Now()

	resp, err := c.send(ctx, event.RequestID)
	if err != nil {
		c.finish(ctx, event, start, 0, err)
		return nil, err
	}
	c.finish(ctx, event, start, resp.StatusCode, nil)

	var kv any
	_ = json.Unmarshal(encodedKV, &kv)
	return newResponse(resp, parameters, kv, strict, c.metrics), nil
}

func (c *Client) send(ctx context.Context, requestID string) (*http.Response, error) {
	body, contentType, err := c.form.Encode()
	if err != nil {
		return nil, apierr.Wrap(apierr.KindAPI, "error making the request to the service", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url.String(), body)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindAPI, "error making the request to the service", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(HeaderRequestID, requestID)

	slog.Debug(fmt.Sprintf("%s - POST %s request=%s", logPrefix, c.url, requestID))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindAPI, "error making the request to the service", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		e := apierr.API("error making the request to the service, the service answered with a status: code: %d message: '%s'",
			resp.StatusCode, http.StatusText(resp.StatusCode))
		e.Status = resp.StatusCode
		return nil, e
	}
	return resp, nil
}

func (c *Client) finish(ctx context.Context, event *events.InvocationEvent, start time.Time, status int, err error) {
	elapsed := time.Since(start)
	event.DurationMs = elapsed.Milliseconds()
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)

	outcome := metrics.OutcomeOK
	event.Outcome = events.OutcomeOK
	event.Status = status
	if err != nil {
		event.Error = err.Error()
		outcome = metrics.OutcomeError
		event.Outcome = events.OutcomeError
		if e, ok := apierr.As(err); ok && e.Status != 0 {
			event.Status = e.Status
			outcome = metrics.OutcomeHTTPError
			event.Outcome = events.OutcomeHTTPError
		}
		slog.Warn(fmt.Sprintf("%s - %s/%s failed: %v", logPrefix, event.Catalog, event.Operation, err))
	}

	c.metrics.ObserveCall(event.Catalog, event.Operation, outcome, elapsed)
	if perr := c.publisher.PublishInvoked(ctx, event); perr != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish invocation %s: %v", logPrefix, event.RequestID, perr))
	}
}
