package catalogcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/morezero/opcatalog/pkg/apiurl"
	"github.com/morezero/opcatalog/pkg/types"
)

const logPrefix = "catalogcache:lister"

// Lister serves listings from a Store and falls back to another Lister on a
// miss. Only valid listings are cached. Store failures are logged and the
// fallback is used.
type Lister struct {
	next  apiurl.Lister
	store Store
	ttl   time.Duration
}

// New wraps next with store. A nil store uses a MemoryStore.
func New(next apiurl.Lister, store Store, ttl time.Duration) *Lister {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Lister{next: next, store: store, ttl: ttl}
}

// ListOperations implements apiurl.Lister.
func (l *Lister) ListOperations(ctx context.Context, catalog *url.URL) (*types.DescriptionOperations, error) {
	key := catalog.String()

	data, ok, err := l.store.Get(ctx, key)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - cache read failed for %s: %v", logPrefix, key, err))
	} else if ok {
		listing, err := types.DecodeOperations(data)
		if err == nil {
			slog.Debug(fmt.Sprintf("%s - hit %s", logPrefix, key))
			return listing, nil
		}
		slog.Warn(fmt.Sprintf("%s - dropping corrupt entry %s: %v", logPrefix, key, err))
		_ = l.store.Delete(ctx, key)
	}

	listing, err := l.next.ListOperations(ctx, catalog)
	if err != nil || listing == nil {
		return listing, err
	}

	encoded, err := json.Marshal(listing)
	if err != nil {
		return listing, nil
	}
	if err := l.store.Set(ctx, key, encoded, l.ttl); err != nil {
		slog.Warn(fmt.Sprintf("%s - cache write failed for %s: %v", logPrefix, key, err))
	}
	return listing, nil
}

// Invalidate drops the cached listing of catalog.
func (l *Lister) Invalidate(ctx context.Context, catalog *url.URL) error {
	return l.store.Delete(ctx, catalog.String())
}
