// Package catalogtest runs an in-process operation catalog for tests.
//
// Operations are registered by their full path. Registering an operation
// declares its name in the listing of its parent path, so existence checks
// against the server behave like the real backend.
package catalogtest

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/morezero/opcatalog/pkg/types"
)

const logPrefix = "catalogtest:server"

// Form field names read from invocation requests.
const (
	fieldParameters   = "payload.parameters"
	fieldParametersKV = "payload.parameterskv"
	fieldFiles        = "payload.web.files"
)

// Call is one recorded invocation.
type Call struct {
	RequestID    string
	Parameters   string
	ParametersKV string
	Files        []CallFile
}

// CallFile is one uploaded file of a Call.
type CallFile struct {
	Name string
	Data []byte
}

type rawResponse struct {
	status      int
	contentType string
	body        string
}

// Server is a fake catalog backend.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	listings map[string][]types.DescriptionOperation
	infos    map[string]any
	raw      map[string]rawResponse
	handlers map[string]http.HandlerFunc
	calls    map[string][]Call
	gets     map[string]int
}

// New starts a server. Call Close when done.
func New() *Server {
	s := &Server{
		listings: make(map[string][]types.DescriptionOperation),
		infos:    make(map[string]any),
		raw:      make(map[string]rawResponse),
		handlers: make(map[string]http.HandlerFunc),
		calls:    make(map[string][]Call),
		gets:     make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/*", s.serveRead)
	r.Post("/*", s.serveInvoke)

	s.srv = httptest.NewServer(r)
	return s
}

// URL returns the server origin.
func (s *Server) URL() string {
	return s.srv.URL
}

// Client returns an http client bound to the server.
func (s *Server) Client() *http.Client {
	return s.srv.Client()
}

// Close shuts the server down.
func (s *Server) Close() {
	s.srv.Close()
}

func clean(p string) string {
	p = path.Clean("/" + p)
	if p != "/" {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// AddOperation declares the operation at opPath and serves invocations with h.
// A nil h answers {"data": null, "type": "ok"}.
func (s *Server) AddOperation(opPath string, h http.HandlerFunc) {
	opPath = clean(opPath)
	parent, name := path.Split(opPath)
	parent = clean(parent)
	if h == nil {
		h = Result(nil, "ok", "")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[parent] = append(s.listings[parent], types.DescriptionOperation{Name: name, Type: "operation"})
	s.handlers[opPath] = h
}

// AddOperationDescriptor declares op under catalogPath without registering a
// handler.
func (s *Server) AddOperationDescriptor(catalogPath string, op types.DescriptionOperation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := clean(catalogPath)
	s.listings[p] = append(s.listings[p], op)
}

// SetInfo sets the body served on GET of opPath.
func (s *Server) SetInfo(opPath string, info any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos[clean(opPath)] = info
}

// SetRaw overrides GET of p with a fixed response.
func (s *Server) SetRaw(p string, status int, contentType, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw[clean(p)] = rawResponse{status: status, contentType: contentType, body: body}
}

// Calls returns the invocations recorded for opPath.
func (s *Server) Calls(opPath string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := s.calls[clean(opPath)]
	out := make([]Call, len(calls))
	copy(out, calls)
	return out
}

// Reads returns how many GET requests p received.
func (s *Server) Reads(p string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets[clean(p)]
}

func (s *Server) serveRead(w http.ResponseWriter, r *http.Request) {
	p := clean(r.URL.Path)

	s.mu.Lock()
	s.gets[p]++
	raw, hasRaw := s.raw[p]
	listing, hasListing := s.listings[p]
	info, hasInfo := s.infos[p]
	_, isOp := s.handlers[p]
	s.mu.Unlock()

	switch {
	case hasRaw:
		if raw.contentType != "" {
			w.Header().Set("Content-Type", raw.contentType)
		}
		w.WriteHeader(raw.status)
		_, _ = w.Write([]byte(raw.body))
	case hasListing:
		writeJSON(w, http.StatusOK, types.DescriptionOperations{Operations: listing})
	case hasInfo:
		writeJSON(w, http.StatusOK, info)
	case isOp:
		writeJSON(w, http.StatusOK, map[string]any{})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveInvoke(w http.ResponseWriter, r *http.Request) {
	p := clean(r.URL.Path)

	s.mu.Lock()
	h, ok := s.handlers[p]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		slog.Warn(fmt.Sprintf("%s - bad form on %s: %v", logPrefix, p, err))
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	call := Call{
		RequestID:    r.Header.Get("X-Request-Id"),
		Parameters:   r.FormValue(fieldParameters),
		ParametersKV: r.FormValue(fieldParametersKV),
	}
	for _, fh := range r.MultipartForm.File[fieldFiles] {
		f, err := fh.Open()
		if err != nil {
			http.Error(w, "bad file", http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			http.Error(w, "bad file", http.StatusBadRequest)
			return
		}
		call.Files = append(call.Files, CallFile{Name: fh.Filename, Data: data})
	}

	s.mu.Lock()
	s.calls[p] = append(s.calls[p], call)
	s.mu.Unlock()

	h(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
