package operation

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/morezero/opcatalog/pkg/apierr"
	"github.com/morezero/opcatalog/pkg/metrics"
	"github.com/morezero/opcatalog/pkg/types"
)

// UntitledFilename names downloads that carry no filename.
const UntitledFilename = "untitled"

var filenamePattern = regexp.MustCompile(`filename="?([^"]+)"?`)

// Response wraps the reply of a successful invocation. Its body can be read
// once, either as a Result or as a Download.
type Response struct {
	resp         *http.Response
	parameters   any
	parameterskv any
	strict       bool
	metrics      *metrics.Collector

	mu       sync.Mutex
	consumed bool
}

func newResponse(resp *http.Response, parameters, parameterskv any, strict bool, m *metrics.Collector) *Response {
	return &Response{resp: resp, parameters: parameters, parameterskv: parameterskv, strict: strict, metrics: m}
}

// StatusCode returns the HTTP status of the reply.
func (r *Response) StatusCode() int {
	return r.resp.StatusCode
}

// Header returns the reply headers.
func (r *Response) Header() http.Header {
	return r.resp.Header
}

// Strict reports whether Result fails on a non-empty errs.
func (r *Response) Strict() bool {
	return r.strict
}

// Parameters returns the positional parameters of the call.
func (r *Response) Parameters() any {
	return r.parameters
}

// ParametersKV returns the named parameters of the call.
func (r *Response) ParametersKV() any {
	return r.parameterskv
}

func (r *Response) consume() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consumed {
		return nil, apierr.API("response body already consumed")
	}
	r.consumed = true
	defer func() {
		_ = r.resp.Body.Close()
	}()
	return io.ReadAll(r.resp.Body)
}

// Close releases the body without reading it.
func (r *Response) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consumed {
		return nil
	}
	r.consumed = true
	return r.resp.Body.Close()
}

func notJSON() *apierr.Error {
	return apierr.FromResult(apierr.NameAPI, "the service response must have a json content-type", "")
}

// Result decodes the body as a result envelope. In strict mode a non-empty
// errs fails with an error named after the envelope type.
func (r *Response) Result() (*types.Result, error) {
	data, err := r.consume()
	if err != nil {
		if e, ok := apierr.As(err); ok {
			return nil, e
		}
		return nil, apierr.Wrap(apierr.KindAPI, "error reading the service response", err)
	}

	mediaType, _, err := mime.ParseMediaType(r.resp.Header.Get("Content-Type"))
	if err != nil || !isJSONMediaType(mediaType) {
		return nil, notJSON()
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, notJSON()
	}
	if !types.IsResult(raw) {
		return nil, apierr.API("the service must respond with a Result-shaped json body")
	}

	var result types.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, apierr.API("the service must respond with a Result-shaped json body")
	}

	if r.strict && result.Errs != "" {
		e := apierr.FromResult(result.Type, result.Errs, "")
		e.Status = r.resp.StatusCode
		return nil, e
	}
	return &result, nil
}

func isJSONMediaType(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// Filename resolves the download filename: the Content-Disposition filename,
// else the "filename" named parameter, else UntitledFilename.
func (r *Response) Filename() string {
	filename := UntitledFilename
	if kv, ok := r.parameterskv.(map[string]any); ok {
		if v, ok := kv["filename"]; ok && v != nil {
			if s, ok := v.(string); ok {
				filename = s
			} else {
				filename = fmt.Sprint(v)
			}
		}
	}

	disposition := r.resp.Header.Get("Content-Disposition")
	if !strings.Contains(disposition, "filename") {
		return filename
	}
	if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
		return params["filename"]
	}
	if m := filenamePattern.FindStringSubmatch(disposition); m != nil {
		return m[1]
	}
	return filename
}

// Download reads the body and hands it to saver under the resolved filename,
// which is returned.
func (r *Response) Download(saver Saver) (string, error) {
	filename := r.Filename()

	data, err := r.consume()
	if err == nil {
		err = saver.Save(filename, data)
	}
	if err != nil {
		r.metrics.ObserveDownload(metrics.OutcomeError)
		named := ""
		if filename != UntitledFilename {
			named = "'" + filename + "'"
		}
		return "", apierr.Wrap(apierr.KindAPI, strings.TrimSpace("error downloading the file "+named), err)
	}
	r.metrics.ObserveDownload(metrics.OutcomeOK)
	return filename, nil
}
