package catalogcache

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/morezero/opcatalog/pkg/apiurl"
	"github.com/morezero/opcatalog/pkg/types"
)

const listerTestPrefix = "catalogcache:lister_test"

func countingLister(listing *types.DescriptionOperations, err error) (apiurl.Lister, *int) {
	calls := 0
	return apiurl.ListerFunc(func(context.Context, *url.URL) (*types.DescriptionOperations, error) {
		calls++
		return listing, err
	}), &calls
}

func catalogURL(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse("http://127.0.0.1:5000/api/services/clients/cegid")
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestLister_CachesValidListing(t *testing.T) {
	listing := &types.DescriptionOperations{Operations: []types.DescriptionOperation{{Name: "get"}}}
	next, calls := countingLister(listing, nil)
	l := New(next, nil, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := l.ListOperations(ctx, catalogURL(t))
		if err != nil {
			t.Fatalf("%s - unexpected error: %v", listerTestPrefix, err)
		}
		if !got.Has("get") {
			t.Errorf("%s - listing should contain get", listerTestPrefix)
		}
	}
	if *calls != 1 {
		t.Errorf("%s - next called %d times, want 1", listerTestPrefix, *calls)
	}

	if err := l.Invalidate(ctx, catalogURL(t)); err != nil {
		t.Fatalf("%s - Invalidate failed: %v", listerTestPrefix, err)
	}
	if _, err := l.ListOperations(ctx, catalogURL(t)); err != nil {
		t.Fatalf("%s - unexpected error: %v", listerTestPrefix, err)
	}
	if *calls != 2 {
		t.Errorf("%s - next called %d times after invalidate, want 2", listerTestPrefix, *calls)
	}
}

func TestLister_DoesNotCacheMissingListing(t *testing.T) {
	next, calls := countingLister(nil, nil)
	l := New(next, nil, time.Minute)

	for i := 0; i < 2; i++ {
		got, err := l.ListOperations(context.Background(), catalogURL(t))
		if err != nil || got != nil {
			t.Fatalf("%s - got %v, %v; want nil, nil", listerTestPrefix, got, err)
		}
	}
	if *calls != 2 {
		t.Errorf("%s - next called %d times, want 2", listerTestPrefix, *calls)
	}
}

func TestLister_PropagatesTransportError(t *testing.T) {
	boom := errors.New("dial tcp: refused")
	next, _ := countingLister(nil, boom)
	l := New(next, nil, time.Minute)

	if _, err := l.ListOperations(context.Background(), catalogURL(t)); !errors.Is(err, boom) {
		t.Errorf("%s - expected transport error, got %v", listerTestPrefix, err)
	}
}

func TestLister_DropsCorruptEntry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Set(ctx, catalogURL(t).String(), []byte(`{"operations":"nope"}`), 0)

	listing := &types.DescriptionOperations{Operations: []types.DescriptionOperation{{Name: "pop"}}}
	next, calls := countingLister(listing, nil)
	l := New(next, store, 0)

	got, err := l.ListOperations(ctx, catalogURL(t))
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", listerTestPrefix, err)
	}
	if !got.Has("pop") || *calls != 1 {
		t.Errorf("%s - expected fallback to next, got %v (calls=%d)", listerTestPrefix, got, *calls)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("v"), time.Second)
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Fatalf("%s - expected entry before expiry", listerTestPrefix)
	}
	now = now.Add(2 * time.Second)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Errorf("%s - expected entry to expire", listerTestPrefix)
	}
	if s.Len() != 0 {
		t.Errorf("%s - expired entry should be evicted, Len() = %d", listerTestPrefix, s.Len())
	}
}

func TestRedisStore_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	store, err := NewRedisStore(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("%s - NewRedisStore failed: %v", listerTestPrefix, err)
	}
	defer store.Close()

	listing := &types.DescriptionOperations{Operations: []types.DescriptionOperation{{Name: "getall"}}}
	next, calls := countingLister(listing, nil)
	l := New(next, store, time.Minute)

	for i := 0; i < 2; i++ {
		got, err := l.ListOperations(ctx, catalogURL(t))
		if err != nil {
			t.Fatalf("%s - unexpected error: %v", listerTestPrefix, err)
		}
		if !got.Has("getall") {
			t.Errorf("%s - listing should contain getall", listerTestPrefix)
		}
	}
	if *calls != 1 {
		t.Errorf("%s - next called %d times, want 1", listerTestPrefix, *calls)
	}

	key := DefaultRedisKeyPrefix + catalogURL(t).String()
	if !mr.Exists(key) {
		t.Fatalf("%s - expected key %q in redis", listerTestPrefix, key)
	}
	if ttl := mr.TTL(key); ttl != time.Minute {
		t.Errorf("%s - TTL = %v, want 1m", listerTestPrefix, ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := store.Get(ctx, catalogURL(t).String()); ok {
		t.Errorf("%s - expected entry to expire in redis", listerTestPrefix)
	}
}

func TestRedisStore_FromClient(t *testing.T) {
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(c, "test:")
	defer store.Close()
	ctx := context.Background()

	if err := store.Set(ctx, "a", []byte("1"), 0); err != nil {
		t.Fatalf("%s - Set failed: %v", listerTestPrefix, err)
	}
	if !mr.Exists("test:a") {
		t.Errorf("%s - expected prefixed key", listerTestPrefix)
	}
	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("%s - Delete failed: %v", listerTestPrefix, err)
	}
	if _, ok, err := store.Get(ctx, "a"); ok || err != nil {
		t.Errorf("%s - Get after delete = %v, %v", listerTestPrefix, ok, err)
	}
}

func TestParseRedisAddr(t *testing.T) {
	o, err := parseRedisAddr("redis://:secret@localhost:6380/2")
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", listerTestPrefix, err)
	}
	if o.Addrs[0] != "localhost:6380" || o.Password != "secret" || o.DB != 2 {
		t.Errorf("%s - parsed options = %+v, unexpected", listerTestPrefix, o)
	}
	o, err = parseRedisAddr("cache:6379")
	if err != nil || o.Addrs[0] != "cache:6379" {
		t.Errorf("%s - plain addr parse = %+v, %v", listerTestPrefix, o, err)
	}
}
