// Package apiurl validates operation addresses against the catalog prefixes
// served by the backend and checks that an address names a declared operation.
package apiurl

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/morezero/opcatalog/pkg/apierr"
)

// Default catalog paths relative to the backend origin.
const (
	ServicesPath = "/api/services/"
	WebPath      = "/api/web/"
	ScriptsPath  = "/api/scripts/"
)

// Catalog names.
const (
	CatalogServices = "services"
	CatalogWeb      = "web"
	CatalogScripts  = "scripts"
)

// Prefix is the root of one operation catalog. The three catalogs differ only
// in their base URL.
type Prefix struct {
	name string
	base *url.URL
}

// NewPrefix parses base as an absolute catalog root. A trailing slash is added
// to the path so relative references resolve beneath it.
func NewPrefix(name, base string) (Prefix, error) {
	u, err := url.Parse(base)
	if err != nil {
		return Prefix{}, apierr.Wrap(apierr.KindAddress, fmt.Sprintf("catalog base is not a valid url: %q", base), err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Prefix{}, apierr.Address("catalog base must be absolute: %q", base)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return Prefix{name: name, base: u}, nil
}

// FromOrigin builds a prefix rooted at origin + path.
func FromOrigin(name, origin, path string) (Prefix, error) {
	return NewPrefix(name, strings.TrimRight(origin, "/")+"/"+strings.TrimLeft(path, "/"))
}

// Services returns the services catalog root for origin.
func Services(origin string) (Prefix, error) {
	return FromOrigin(CatalogServices, origin, ServicesPath)
}

// Web returns the web catalog root for origin.
func Web(origin string) (Prefix, error) {
	return FromOrigin(CatalogWeb, origin, WebPath)
}

// Scripts returns the scripts catalog root for origin.
func Scripts(origin string) (Prefix, error) {
	return FromOrigin(CatalogScripts, origin, ScriptsPath)
}

// Name returns the catalog name.
func (p Prefix) Name() string {
	return p.name
}

// Base returns a copy of the catalog root URL.
func (p Prefix) Base() *url.URL {
	if p.base == nil {
		return nil
	}
	u := *p.base
	return &u
}

// Origin returns scheme://host of the catalog root.
func (p Prefix) Origin() string {
	if p.base == nil {
		return ""
	}
	return origin(p.base)
}

func (p Prefix) String() string {
	if p.base == nil {
		return ""
	}
	return p.base.String()
}

func origin(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
