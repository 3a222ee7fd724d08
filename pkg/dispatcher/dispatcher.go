package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/opcatalog/pkg/apierr"
	"github.com/morezero/opcatalog/pkg/apiurl"
	"github.com/morezero/opcatalog/pkg/operation"
)

const logPrefix = "dispatcher:dispatch"

// Backend builds clients and resolves catalog paths.
type Backend interface {
	Client(ref string) (*operation.Client, error)
	CatalogURL(ref string) (*url.URL, error)
	Lister() apiurl.Lister
}

// Dispatcher routes requests to operation clients. Every request gets its own
// client, so concurrent requests never share a form.
type Dispatcher struct {
	backend Backend
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(b Backend) *Dispatcher {
	return &Dispatcher{backend: b}
}

// Dispatch handles one request.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Response {
	slog.Debug(fmt.Sprintf("%s - method=%s id=%s", logPrefix, req.Method, req.ID))

	switch req.Method {
	case MethodExecute:
		return d.handleExecute(ctx, req)
	case MethodInfo:
		return d.handleInfo(ctx, req)
	case MethodList:
		return d.handleList(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("Unknown method: %s", req.Method))
	}
}

func (d *Dispatcher) handleExecute(ctx context.Context, req *Request) *Response {
	var input ExecuteParams
	if err := json.Unmarshal(req.Params, &input); err != nil || input.Endpoint == "" {
		return errorResponse(req.ID, CodeInvalidArgument, "Failed to parse execute params")
	}
	strict := input.Strict == nil || *input.Strict

	c, err := d.backend.Client(input.Endpoint)
	if err != nil {
		return clientErrorToResponse(req.ID, err)
	}
	resp, err := c.Execute(ctx, input.Parameters, input.ParametersKV, strict)
	if err != nil {
		return clientErrorToResponse(req.ID, err)
	}
	result, err := resp.Result()
	if err != nil {
		return clientErrorToResponse(req.ID, err)
	}
	return &Response{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleInfo(ctx context.Context, req *Request) *Response {
	var input InfoParams
	if err := json.Unmarshal(req.Params, &input); err != nil || input.Endpoint == "" {
		return errorResponse(req.ID, CodeInvalidArgument, "Failed to parse info params")
	}
	c, err := d.backend.Client(input.Endpoint)
	if err != nil {
		return clientErrorToResponse(req.ID, err)
	}
	info, err := c.Info(ctx)
	if err != nil {
		return clientErrorToResponse(req.ID, err)
	}
	return &Response{ID: req.ID, Ok: true, Result: info}
}

func (d *Dispatcher) handleList(ctx context.Context, req *Request) *Response {
	var input ListParams
	if err := json.Unmarshal(req.Params, &input); err != nil || input.Catalog == "" {
		return errorResponse(req.ID, CodeInvalidArgument, "Failed to parse list params")
	}
	u, err := d.backend.CatalogURL(input.Catalog)
	if err != nil {
		return clientErrorToResponse(req.ID, err)
	}
	listing, err := d.backend.Lister().ListOperations(ctx, u)
	if err != nil {
		return clientErrorToResponse(req.ID, err)
	}
	if listing == nil {
		return clientErrorToResponse(req.ID, apierr.API("%s is not an operation catalog", u))
	}
	return &Response{ID: req.ID, Ok: true, Result: listing}
}

// Subscribe serves requests on subject until the subscription is drained.
// Each request runs with the given timeout.
func Subscribe(nc *comms.Conn, subject string, d *Dispatcher, timeout time.Duration) (*comms.Subscription, error) {
	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		var req Request
		var resp *Response
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to decode request: %v", logPrefix, err))
			resp = errorResponse("", CodeInvalidArgument, "Failed to decode request")
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			resp = d.Dispatch(ctx, &req)
			cancel()
		}

		data, err := json.Marshal(resp)
		if err != nil {
			slog.Error(fmt.Sprintf("%s - failed to encode response: %v", logPrefix, err))
			return
		}
		if err := msg.Respond(data); err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to respond to %s: %v", logPrefix, req.ID, err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, subject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, subject))
	return sub, nil
}

// --- helpers ---

func errorResponse(id, code, message string) *Response {
	return &Response{
		ID: id,
		Ok: false,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
	}
}

func clientErrorToResponse(id string, err error) *Response {
	e, ok := apierr.As(err)
	if !ok {
		resp := errorResponse(id, CodeInternal, err.Error())
		resp.Error.Retryable = true
		return resp
	}

	detail := &ErrorDetail{Name: e.Name, Message: err.Error(), Status: e.Status}
	switch e.Kind {
	case apierr.KindAddress:
		detail.Code = CodeAddressInvalid
	case apierr.KindParams:
		detail.Code = CodeParamsInvalid
	default:
		detail.Code = CodeAPIError
		detail.Retryable = e.Status >= 500 || (e.Status == 0 && e.Cause != nil && !errors.Is(e.Cause, context.Canceled))
	}
	return &Response{ID: id, Ok: false, Error: detail}
}
