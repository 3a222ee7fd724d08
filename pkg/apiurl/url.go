package apiurl

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/morezero/opcatalog/pkg/apierr"
)

const logPrefix = "apiurl:url"

// URL is an operation address rooted under a catalog prefix. It is immutable
// once constructed.
type URL struct {
	u      *url.URL
	prefix Prefix
}

// New resolves ref against the prefix root and validates that the result has
// the prefix's origin and lies under the prefix path.
func New(ref string, prefix Prefix) (*URL, error) {
	if prefix.base == nil {
		return nil, apierr.Address("api url %q has no catalog prefix", ref)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindAddress, fmt.Sprintf("api url is not valid: %q", ref), err)
	}
	u := prefix.base.ResolveReference(r)

	msg := ""
	if origin(u) != prefix.Origin() {
		msg = "api url origin must match the catalog origin: " + u.String()
	}
	if !strings.HasPrefix(u.Path, prefix.base.Path) {
		msg = "api url is not valid: " + u.String()
	}
	if msg != "" {
		return nil, apierr.Address("%s", msg)
	}
	return &URL{u: u, prefix: prefix}, nil
}

// MustNew is New for static endpoint tables; it panics on error.
func MustNew(ref string, prefix Prefix) *URL {
	u, err := New(ref, prefix)
	if err != nil {
		panic(err)
	}
	return u
}

func (a *URL) String() string {
	return a.u.String()
}

// URL returns a copy of the underlying URL.
func (a *URL) URL() *url.URL {
	u := *a.u
	return &u
}

// Prefix returns the catalog the address belongs to.
func (a *URL) Prefix() Prefix {
	return a.prefix
}

// Operation returns the path of the address relative to its catalog root,
// e.g. "clients/cegid/get".
func (a *URL) Operation() string {
	return strings.TrimPrefix(a.u.Path, a.prefix.base.Path)
}

// Split returns the catalog URL that lists the address's siblings and the
// last path segment, which is the claimed operation name.
func (a *URL) Split() (*url.URL, string) {
	p := a.u.Path
	idx := strings.LastIndex(p, "/")
	name := p[idx+1:]
	parentPath := p[:idx]
	if parentPath == "" {
		parentPath = "/"
	}
	parent := &url.URL{Scheme: a.u.Scheme, User: a.u.User, Host: a.u.Host, Path: parentPath}
	return parent, name
}

// IsOperation reads the parent catalog and reports whether the last path
// segment is a declared operation. A parent that does not answer with a valid
// listing yields false without error; transport failures are returned.
func (a *URL) IsOperation(ctx context.Context, lister Lister) (bool, error) {
	parent, name := a.Split()
	listing, err := lister.ListOperations(ctx, parent)
	if err != nil {
		return false, err
	}
	if listing == nil {
		slog.Debug(fmt.Sprintf("%s - %s is not a catalog listing", logPrefix, parent))
		return false, nil
	}
	found := listing.Has(name)
	slog.Debug(fmt.Sprintf("%s - operation=%s catalog=%s declared=%t", logPrefix, name, parent, found))
	return found, nil
}
