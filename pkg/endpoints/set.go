package endpoints

import (
	"fmt"
	"sort"
	"strings"

	"github.com/morezero/opcatalog/pkg/apierr"
	"github.com/morezero/opcatalog/pkg/apiurl"
	"github.com/morezero/opcatalog/pkg/operation"
)

// Prefixes maps a catalog name to its root.
type Prefixes map[string]apiurl.Prefix

// NewPrefixes indexes ps by name.
func NewPrefixes(ps ...apiurl.Prefix) Prefixes {
	out := make(Prefixes, len(ps))
	for _, p := range ps {
		out[p.Name()] = p
	}
	return out
}

// DefaultPrefixes returns the services, web and scripts roots of origin.
func DefaultPrefixes(origin string) (Prefixes, error) {
	var ps []apiurl.Prefix
	for _, build := range []func(string) (apiurl.Prefix, error){apiurl.Services, apiurl.Web, apiurl.Scripts} {
		p, err := build(origin)
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return NewPrefixes(ps...), nil
}

// Set is a read-only index over a Manifest.
type Set struct {
	name      string
	version   string
	endpoints map[string]map[string]Endpoint
	aliases   map[string]string
}

// NewSet indexes m. The manifest is copied.
func NewSet(m *Manifest) *Set {
	s := &Set{
		name:      m.Name,
		version:   m.Version,
		endpoints: make(map[string]map[string]Endpoint, len(m.Catalogs)),
		aliases:   make(map[string]string, len(m.Aliases)),
	}
	for catalog, eps := range m.Catalogs {
		s.endpoints[catalog] = make(map[string]Endpoint, len(eps))
		for key, ep := range eps {
			s.endpoints[catalog][key] = ep
		}
	}
	for alias, ref := range m.Aliases {
		s.aliases[alias] = ref
	}
	return s
}

// Name returns the manifest name.
func (s *Set) Name() string {
	return s.name
}

// Version returns the manifest version.
func (s *Set) Version() string {
	return s.version
}

// Get returns the endpoint key of catalog.
func (s *Set) Get(catalog, key string) (Endpoint, bool) {
	ep, ok := s.endpoints[catalog][key]
	return ep, ok
}

// Lookup resolves an alias or a "<catalog>.<key>" reference.
func (s *Set) Lookup(ref string) (string, Endpoint, bool) {
	if target, ok := s.aliases[ref]; ok {
		ref = target
	}
	catalog, key, ok := strings.Cut(ref, ".")
	if !ok {
		return "", Endpoint{}, false
	}
	ep, ok := s.Get(catalog, key)
	return catalog, ep, ok
}

// Catalogs returns the catalog names in order.
func (s *Set) Catalogs() []string {
	out := make([]string, 0, len(s.endpoints))
	for c := range s.endpoints {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Keys returns the endpoint keys of catalog in order.
func (s *Set) Keys(catalog string) []string {
	eps := s.endpoints[catalog]
	out := make([]string, 0, len(eps))
	for k := range eps {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Aliases returns the alias names in order.
func (s *Set) Aliases() []string {
	out := make([]string, 0, len(s.aliases))
	for a := range s.aliases {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Client binds a client to the endpoint named by ref.
func (s *Set) Client(ref string, prefixes Prefixes, opts ...operation.Option) (*operation.Client, error) {
	catalog, ep, ok := s.Lookup(ref)
	if !ok {
		return nil, apierr.Address("unknown endpoint %q", ref)
	}
	prefix, ok := prefixes[catalog]
	if !ok {
		return nil, apierr.Address("no root configured for catalog %q", catalog)
	}
	c, err := operation.New(ep.Path, prefix, opts...)
	if err != nil {
		return nil, fmt.Errorf("endpoints:set - endpoint %s: %w", ref, err)
	}
	return c, nil
}
