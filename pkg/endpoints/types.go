// Package endpoints holds the table of known backend operations, grouped by
// catalog, and builds operation clients bound to them.
package endpoints

// Endpoint is one known operation of a catalog.
type Endpoint struct {
	// Path is relative to the catalog root, e.g. "clients/cegid/get".
	Path        string `json:"path" yaml:"path"`
	Returns     string `json:"returns,omitempty" yaml:"returns,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Manifest is the root of an endpoints file.
type Manifest struct {
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Catalogs maps a catalog name to its endpoints by key.
	Catalogs map[string]map[string]Endpoint `json:"catalogs" yaml:"catalogs"`
	// Aliases maps a short name to a "<catalog>.<key>" reference.
	Aliases map[string]string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}
