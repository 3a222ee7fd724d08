package operation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/morezero/opcatalog/pkg/apierr"
	"github.com/morezero/opcatalog/pkg/apiurl"
	"github.com/morezero/opcatalog/pkg/catalogcache"
	"github.com/morezero/opcatalog/pkg/catalogtest"
	"github.com/morezero/opcatalog/pkg/events"
	"github.com/morezero/opcatalog/pkg/types"
)

const clientTestPrefix = "operation:client_test"

const cegidGet = "/api/services/clients/cegid/get"

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) {
	return f(r)
}

func newCatalog(t *testing.T) (*catalogtest.Server, apiurl.Prefix) {
	t.Helper()
	srv := catalogtest.New()
	t.Cleanup(srv.Close)
	prefix, err := apiurl.Services(srv.URL())
	if err != nil {
		t.Fatalf("%s - failed to build prefix: %v", clientTestPrefix, err)
	}
	return srv, prefix
}

func newClient(t *testing.T, ref string, prefix apiurl.Prefix, opts ...Option) *Client {
	t.Helper()
	c, err := New(ref, prefix, opts...)
	if err != nil {
		t.Fatalf("%s - New(%q) failed: %v", clientTestPrefix, ref, err)
	}
	return c
}

func TestNew_RejectsForeignAddress(t *testing.T) {
	_, prefix := newCatalog(t)

	tests := []struct {
		name string
		ref  string
	}{
		{name: "other origin", ref: "http://elsewhere.test/api/services/clients/cegid/get"},
		{name: "outside prefix", ref: "/api/web/clients/get"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.ref, prefix)
			if !apierr.IsAddressInvalid(err) {
				t.Errorf("%s - New(%q) error = %v, want address invalid", clientTestPrefix, tt.ref, err)
			}
		})
	}
}

func TestExecute_NotAnOperation(t *testing.T) {
	srv, prefix := newCatalog(t)
	srv.AddOperation(cegidGet, nil)

	tests := []struct {
		name string
		ref  string
	}{
		{name: "undeclared name", ref: "clients/cegid/missing"},
		{name: "parent not found", ref: "other/thing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, tt.ref, prefix)
			_, err := c.Execute(context.Background(), nil, nil, true)
			if !apierr.IsAddressInvalid(err) {
				t.Fatalf("%s - error = %v, want address invalid", clientTestPrefix, err)
			}
			if !strings.Contains(err.Error(), c.URL().String()) {
				t.Errorf("%s - error %q should name the address", clientTestPrefix, err)
			}
		})
	}
	if n := len(srv.Calls(cegidGet)); n != 0 {
		t.Errorf("%s - %d invocations recorded, want 0", clientTestPrefix, n)
	}
}

func TestExecute_NotAnOperation_MalformedListing(t *testing.T) {
	srv, prefix := newCatalog(t)
	srv.AddOperation(cegidGet, nil)
	srv.SetRaw("/api/services/clients/cegid", http.StatusOK, "application/json", `{"operations":[{"desc":"no name"}]}`)

	c := newClient(t, "clients/cegid/get", prefix)
	if _, err := c.Execute(context.Background(), nil, nil, true); !apierr.IsAddressInvalid(err) {
		t.Fatalf("%s - error = %v, want address invalid", clientTestPrefix, err)
	}
	if n := len(srv.Calls(cegidGet)); n != 0 {
		t.Errorf("%s - %d invocations recorded, want 0", clientTestPrefix, n)
	}
}

func TestExecute_InvalidParameters(t *testing.T) {
	srv, prefix := newCatalog(t)
	srv.AddOperation(cegidGet, nil)
	c := newClient(t, "clients/cegid/get", prefix)

	_, err := c.Execute(context.Background(), "not-an-array", nil, true)
	if !apierr.IsParamsInvalid(err) {
		t.Fatalf("%s - error = %v, want params invalid", clientTestPrefix, err)
	}
	_, err = c.Execute(context.Background(), []any{make(chan int)}, nil, true)
	if !apierr.IsParamsInvalid(err) {
		t.Fatalf("%s - error = %v, want params invalid for unencodable value", clientTestPrefix, err)
	}
	if n := len(srv.Calls(cegidGet)); n != 0 {
		t.Errorf("%s - %d invocations recorded, want 0", clientTestPrefix, n)
	}
}

func TestExecute_SendsEnvelope(t *testing.T) {
	srv, prefix := newCatalog(t)
	srv.AddOperation(cegidGet, catalogtest.Echo())
	c := newClient(t, "clients/cegid/get", prefix)

	resp, err := c.Execute(context.Background(), []any{1, "a"}, map[string]any{"x": true}, true)
	if err != nil {
		t.Fatalf("%s - Execute failed: %v", clientTestPrefix, err)
	}
	if _, err := resp.Result(); err != nil {
		t.Fatalf("%s - Result failed: %v", clientTestPrefix, err)
	}

	calls := srv.Calls(cegidGet)
	if len(calls) != 1 {
		t.Fatalf("%s - got %d calls, want 1", clientTestPrefix, len(calls))
	}
	if calls[0].Parameters != `[1,"a"]` {
		t.Errorf("%s - parameters = %s", clientTestPrefix, calls[0].Parameters)
	}
	if calls[0].ParametersKV != `{"x":true}` {
		t.Errorf("%s - parameterskv = %s", clientTestPrefix, calls[0].ParametersKV)
	}
	if calls[0].RequestID == "" {
		t.Errorf("%s - request id header missing", clientTestPrefix)
	}
}

func TestExecute_DefaultsEmptyEnvelope(t *testing.T) {
	srv, prefix := newCatalog(t)
	srv.AddOperation(cegidGet, nil)
	c := newClient(t, "clients/cegid/get", prefix)

	var nilSlice []any
	var nilMap map[string]any
	tests := []struct {
		name         string
		parameters   any
		parameterskv any
	}{
		{name: "nil interfaces", parameters: nil, parameterskv: nil},
		{name: "nil slice", parameters: nilSlice, parameterskv: nil},
		{name: "nil map", parameters: nil, parameterskv: nilMap},
		{name: "typed nils", parameters: []string(nil), parameterskv: map[string]int(nil)},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := c.Execute(context.Background(), tt.parameters, tt.parameterskv, true)
			if err != nil {
				t.Fatalf("%s - Execute failed: %v", clientTestPrefix, err)
			}
			if kv, ok := resp.ParametersKV().(map[string]any); !ok || len(kv) != 0 {
				t.Errorf("%s - ParametersKV() = %#v, want empty object", clientTestPrefix, resp.ParametersKV())
			}
			_ = resp.Close()

			calls := srv.Calls(cegidGet)
			if len(calls) != i+1 {
				t.Fatalf("%s - got %d calls, want %d", clientTestPrefix, len(calls), i+1)
			}
			last := calls[i]
			if last.Parameters != "[]" || last.ParametersKV != "{}" {
				t.Errorf("%s - sent parameters=%s parameterskv=%s, want [] and {}", clientTestPrefix, last.Parameters, last.ParametersKV)
			}
		})
	}
}

func TestExecute_HTTPError(t *testing.T) {
	srv, prefix := newCatalog(t)
	srv.AddOperation(cegidGet, catalogtest.Raw(http.StatusInternalServerError, "text/plain", "boom"))

	var published []*events.InvocationEvent
	pub := events.NewCallbackPublisher(func(_ context.Context, e *events.InvocationEvent) error {
		published = append(published, e)
		return nil
	})
	c := newClient(t, "clients/cegid/get", prefix, WithPublisher(pub))

	_, err := c.Execute(context.Background(), nil, nil, true)
	e, ok := apierr.As(err)
	if !ok || e.Kind != apierr.KindAPI {
		t.Fatalf("%s - error = %v, want api error", clientTestPrefix, err)
	}
	if e.Status != http.StatusInternalServerError {
		t.Errorf("%s - Status = %d, want 500", clientTestPrefix, e.Status)
	}
	if !strings.Contains(e.Message, "500") || !strings.Contains(e.Message, "Internal Server Error") {
		t.Errorf("%s - message %q should carry status code and text", clientTestPrefix, e.Message)
	}

	if len(published) != 1 {
		t.Fatalf("%s - published %d events, want 1", clientTestPrefix, len(published))
	}
	if published[0].Outcome != events.OutcomeHTTPError || published[0].Status != 500 {
		t.Errorf("%s - event = %+v", clientTestPrefix, published[0])
	}
}

func TestExecute_TransportErrorWrappedOnce(t *testing.T) {
	prefix, err := apiurl.Services("http://backend.test")
	if err != nil {
		t.Fatal(err)
	}
	refused := errors.New("connection refused")
	lister := apiurl.ListerFunc(func(context.Context, *url.URL) (*types.DescriptionOperations, error) {
		return &types.DescriptionOperations{Operations: []types.DescriptionOperation{{Name: "get"}}}, nil
	})
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return nil, refused
	})
	c := newClient(t, "clients/cegid/get", prefix, WithLister(lister), WithHTTPClient(doer))

	_, err = c.Execute(context.Background(), nil, nil, true)
	e, ok := apierr.As(err)
	if !ok || e.Kind != apierr.KindAPI {
		t.Fatalf("%s - error = %v, want api error", clientTestPrefix, err)
	}
	if !errors.Is(err, refused) {
		t.Errorf("%s - error should wrap the transport failure", clientTestPrefix)
	}
	if inner, ok := apierr.As(e.Cause); ok {
		t.Errorf("%s - transport failure wrapped twice: %v", clientTestPrefix, inner)
	}
}

func TestAddFiles_ReplacesAttachments(t *testing.T) {
	srv, prefix := newCatalog(t)
	srv.AddOperation(cegidGet, nil)
	c := newClient(t, "clients/cegid/get", prefix)

	c.AddFiles(File{Name: "a.csv", Data: []byte("a")})
	c.AddFiles(File{Name: "b.csv", Data: []byte("b")})

	for i := 0; i < 2; i++ {
		resp, err := c.Execute(context.Background(), []any{i}, nil, true)
		if err != nil {
			t.Fatalf("%s - Execute failed: %v", clientTestPrefix, err)
		}
		_ = resp.Close()
	}

	calls := srv.Calls(cegidGet)
	if len(calls) != 2 {
		t.Fatalf("%s - got %d calls, want 2", clientTestPrefix, len(calls))
	}
	for i, call := range calls {
		if len(call.Files) != 1 || call.Files[0].Name != "b.csv" || string(call.Files[0].Data) != "b" {
			t.Errorf("%s - call %d files = %+v, want only b.csv", clientTestPrefix, i, call.Files)
		}
	}
	if calls[1].Parameters != "[1]" {
		t.Errorf("%s - second call parameters = %s, want [1]", clientTestPrefix, calls[1].Parameters)
	}
}

func TestInfo(t *testing.T) {
	srv, prefix := newCatalog(t)
	srv.AddOperation(cegidGet, nil)
	srv.SetInfo(cegidGet, map[string]any{
		"parameters": []any{map[string]any{"name": "id", "type": "int"}},
		"return":     map[string]any{"name": "client", "type": "string"},
	})

	info, err := newClient(t, "clients/cegid/get", prefix).Info(context.Background())
	if err != nil {
		t.Fatalf("%s - Info failed: %v", clientTestPrefix, err)
	}
	if len(info.Parameters) != 1 || info.Parameters[0].Name != "id" {
		t.Errorf("%s - parameters = %+v", clientTestPrefix, info.Parameters)
	}
	if info.Return == nil || info.Return.Name != "client" {
		t.Errorf("%s - return = %+v", clientTestPrefix, info.Return)
	}

	empty, err := newClient(t, "clients/cegid", prefix).Info(context.Background())
	if err != nil {
		t.Fatalf("%s - Info on catalog path failed: %v", clientTestPrefix, err)
	}
	if !empty.IsEmpty() {
		t.Errorf("%s - Info on catalog path = %+v, want empty", clientTestPrefix, empty)
	}
}

func TestInfo_Non200(t *testing.T) {
	srv, prefix := newCatalog(t)
	srv.AddOperation(cegidGet, nil)
	srv.SetRaw(cegidGet, http.StatusServiceUnavailable, "", "")

	_, err := newClient(t, "clients/cegid/get", prefix).Info(context.Background())
	e, ok := apierr.As(err)
	if !ok || e.Kind != apierr.KindAPI || e.Status != http.StatusServiceUnavailable {
		t.Errorf("%s - error = %v, want api error with status 503", clientTestPrefix, err)
	}
}

func TestInfo_KeepsBodyWithoutTypedView(t *testing.T) {
	srv, prefix := newCatalog(t)
	srv.AddOperation(cegidGet, nil)
	srv.SetInfo(cegidGet, map[string]any{
		"parameters": []any{map[string]any{"name": "id", "type": 3}},
		"extra":      "kept",
	})

	info, err := newClient(t, "clients/cegid/get", prefix).Info(context.Background())
	if err != nil {
		t.Fatalf("%s - Info failed: %v", clientTestPrefix, err)
	}
	if len(info.Parameters) != 0 {
		t.Errorf("%s - typed parameters = %+v, want none", clientTestPrefix, info.Parameters)
	}
	if info.IsEmpty() {
		t.Errorf("%s - information with a body should not be empty", clientTestPrefix)
	}

	data, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("%s - Marshal failed: %v", clientTestPrefix, err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("%s - Unmarshal failed: %v", clientTestPrefix, err)
	}
	params, _ := got["parameters"].([]any)
	if got["extra"] != "kept" || len(params) != 1 || params[0].(map[string]any)["type"] != float64(3) {
		t.Errorf("%s - marshaled information = %s, want the body untouched", clientTestPrefix, data)
	}
}

func TestInfo_NotJSON(t *testing.T) {
	srv, prefix := newCatalog(t)
	srv.AddOperation(cegidGet, nil)
	srv.SetRaw(cegidGet, http.StatusOK, "text/html", "<html></html>")

	_, err := newClient(t, "clients/cegid/get", prefix).Info(context.Background())
	if !apierr.IsKind(err, apierr.KindAPI) {
		t.Errorf("%s - error = %v, want api error", clientTestPrefix, err)
	}
}

func TestExecute_UsesCatalogCache(t *testing.T) {
	srv, prefix := newCatalog(t)
	srv.AddOperation(cegidGet, nil)

	cache := catalogcache.New(apiurl.NewHTTPLister(srv.Client()), nil, time.Minute)
	c := newClient(t, "clients/cegid/get", prefix, WithLister(cache), WithHTTPClient(srv.Client()))

	for i := 0; i < 3; i++ {
		resp, err := c.Execute(context.Background(), nil, nil, true)
		if err != nil {
			t.Fatalf("%s - Execute failed: %v", clientTestPrefix, err)
		}
		_ = resp.Close()
	}
	if n := srv.Reads("/api/services/clients/cegid"); n != 1 {
		t.Errorf("%s - catalog read %d times, want 1", clientTestPrefix, n)
	}
	if n := len(srv.Calls(cegidGet)); n != 3 {
		t.Errorf("%s - %d invocations, want 3", clientTestPrefix, n)
	}
}

func TestWithRateLimit(t *testing.T) {
	prefix, err := apiurl.Services("http://backend.test")
	if err != nil {
		t.Fatal(err)
	}
	if c := newClient(t, "clients/get", prefix, WithRateLimit(0, 0)); c.limiter != nil {
		t.Errorf("%s - zero rate should disable the limiter", clientTestPrefix)
	}
	c := newClient(t, "clients/get", prefix, WithRateLimit(5, 0))
	if c.limiter == nil || c.limiter.Burst() != 1 {
		t.Errorf("%s - limiter = %v, want burst 1", clientTestPrefix, c.limiter)
	}
}

func TestExecute_RateLimitHonoursContext(t *testing.T) {
	srv, prefix := newCatalog(t)
	srv.AddOperation(cegidGet, nil)
	c := newClient(t, "clients/cegid/get", prefix, WithRateLimit(0.001, 1))

	resp, err := c.Execute(context.Background(), nil, nil, true)
	if err != nil {
		t.Fatalf("%s - first Execute failed: %v", clientTestPrefix, err)
	}
	_ = resp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Execute(ctx, nil, nil, true); !apierr.IsKind(err, apierr.KindAPI) {
		t.Errorf("%s - throttled Execute error = %v, want api error", clientTestPrefix, err)
	}
	if n := len(srv.Calls(cegidGet)); n != 1 {
		t.Errorf("%s - %d invocations, want 1", clientTestPrefix, n)
	}
}
