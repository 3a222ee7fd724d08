package apiurl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/morezero/opcatalog/pkg/apierr"
	"github.com/morezero/opcatalog/pkg/metrics"
	"github.com/morezero/opcatalog/pkg/types"
)

const listerLogPrefix = "apiurl:lister"

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Lister reads the operation listing of a catalog path. A nil listing with a
// nil error means the path did not answer with a valid listing.
type Lister interface {
	ListOperations(ctx context.Context, catalog *url.URL) (*types.DescriptionOperations, error)
}

// ListerFunc adapts a function to Lister.
type ListerFunc func(ctx context.Context, catalog *url.URL) (*types.DescriptionOperations, error)

// ListOperations calls f.
func (f ListerFunc) ListOperations(ctx context.Context, catalog *url.URL) (*types.DescriptionOperations, error) {
	return f(ctx, catalog)
}

// HTTPLister reads listings with GET requests.
type HTTPLister struct {
	Client  HTTPDoer
	Metrics *metrics.Collector
}

// NewHTTPLister returns a lister using client, or http.DefaultClient when nil.
func NewHTTPLister(client HTTPDoer) *HTTPLister {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPLister{Client: client}
}

// ListOperations implements Lister.
func (l *HTTPLister) ListOperations(ctx context.Context, catalog *url.URL) (*types.DescriptionOperations, error) {
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, catalog.String(), nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindAPI, "error building the catalog request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		l.Metrics.ObserveCatalogRead(catalog.Path, metrics.OutcomeError)
		return nil, apierr.Wrap(apierr.KindAPI, "error reading the operation catalog "+catalog.String(), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		slog.Debug(fmt.Sprintf("%s - %s answered %d", listerLogPrefix, catalog, resp.StatusCode))
		l.Metrics.ObserveCatalogRead(catalog.Path, metrics.OutcomeNotListing)
		return nil, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		l.Metrics.ObserveCatalogRead(catalog.Path, metrics.OutcomeError)
		return nil, apierr.Wrap(apierr.KindAPI, "error reading the operation catalog body", err)
	}

	listing, err := types.DecodeOperations(data)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - %s: %v", listerLogPrefix, catalog, err))
		l.Metrics.ObserveCatalogRead(catalog.Path, metrics.OutcomeNotListing)
		return nil, nil
	}
	l.Metrics.ObserveCatalogRead(catalog.Path, metrics.OutcomeOK)
	return listing, nil
}
