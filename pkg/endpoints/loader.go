package endpoints

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

const logPrefix = "endpoints:loader"

// EnvFile names the environment variable holding an endpoints file path.
const EnvFile = "OPCATALOG_ENDPOINTS_FILE"

//go:embed endpoints.yaml
var defaultManifest []byte

// Load reads the first readable and parsable manifest among paths, then
// $OPCATALOG_ENDPOINTS_FILE, then config/endpoints.yaml and endpoints.yaml.
// The result is merged over the embedded default manifest.
func Load(paths ...string) (*Manifest, error) {
	base, err := Default()
	if err != nil {
		return nil, err
	}

	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv(EnvFile); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, filepath.Join("config", "endpoints.yaml"), "endpoints.yaml")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		m, err := Parse(p, data)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse endpoints file %s: %v", logPrefix, p, err))
			continue
		}
		if err := Compatible(base, m); err != nil {
			slog.Warn(fmt.Sprintf("%s - Skipping endpoints file %s: %v", logPrefix, p, err))
			continue
		}
		merged := Merge(base, m)
		if err := merged.validateAliases(); err != nil {
			slog.Warn(fmt.Sprintf("%s - Skipping endpoints file %s: %v", logPrefix, p, err))
			continue
		}
		slog.Info(fmt.Sprintf("%s - Loaded endpoints from %s", logPrefix, p))
		return merged, nil
	}

	slog.Debug(fmt.Sprintf("%s - Using default endpoints", logPrefix))
	return base, nil
}

// Parse decodes a manifest. Files ending in .json are read as JSON, anything
// else as YAML. Alias targets are not resolved here: an override may point at
// endpoints of the manifest it is merged over.
func Parse(name string, data []byte) (*Manifest, error) {
	var m Manifest
	if strings.EqualFold(filepath.Ext(name), ".json") {
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%s - invalid json manifest: %w", logPrefix, err)
		}
	} else if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%s - invalid yaml manifest: %w", logPrefix, err)
	}
	if err := m.validateEntries(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Default returns the embedded manifest of the application backend.
func Default() (*Manifest, error) {
	m, err := Parse("endpoints.yaml", defaultManifest)
	if err != nil {
		return nil, err
	}
	if err := m.validateAliases(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the manifest version, that every endpoint has a relative
// path and that aliases point at declared endpoints.
func (m *Manifest) Validate() error {
	if err := m.validateEntries(); err != nil {
		return err
	}
	return m.validateAliases()
}

func (m *Manifest) validateEntries() error {
	if m.Version != "" {
		if _, err := semver.NewVersion(m.Version); err != nil {
			return fmt.Errorf("%s - manifest version %q is not a valid semantic version: %w", logPrefix, m.Version, err)
		}
	}
	for catalog, eps := range m.Catalogs {
		for key, ep := range eps {
			if ep.Path == "" {
				return fmt.Errorf("%s - endpoint %s.%s has no path", logPrefix, catalog, key)
			}
			if strings.HasPrefix(ep.Path, "/") || strings.Contains(ep.Path, "://") {
				return fmt.Errorf("%s - endpoint %s.%s path %q must be relative to the catalog", logPrefix, catalog, key, ep.Path)
			}
		}
	}
	for alias, ref := range m.Aliases {
		if _, _, ok := strings.Cut(ref, "."); !ok {
			return fmt.Errorf("%s - alias %s has invalid reference %q", logPrefix, alias, ref)
		}
	}
	return nil
}

func (m *Manifest) validateAliases() error {
	for alias, ref := range m.Aliases {
		catalog, key, _ := strings.Cut(ref, ".")
		if _, ok := m.Catalogs[catalog][key]; !ok {
			return fmt.Errorf("%s - alias %s points at unknown endpoint %q", logPrefix, alias, ref)
		}
	}
	return nil
}

// Compatible reports an error when override declares a major version other
// than base's. A manifest without a version is compatible with any base.
func Compatible(base, override *Manifest) error {
	if base.Version == "" || override.Version == "" {
		return nil
	}
	bv, err := semver.NewVersion(base.Version)
	if err != nil {
		return fmt.Errorf("%s - invalid base version %q: %w", logPrefix, base.Version, err)
	}
	ov, err := semver.NewVersion(override.Version)
	if err != nil {
		return fmt.Errorf("%s - invalid version %q: %w", logPrefix, override.Version, err)
	}
	if bv.Major() != ov.Major() {
		return fmt.Errorf("%s - version %s is incompatible with %s", logPrefix, ov, bv)
	}
	return nil
}

// Merge returns base with the endpoints and aliases of override added or
// replaced.
func Merge(base, override *Manifest) *Manifest {
	merged := &Manifest{
		Name:        base.Name,
		Version:     base.Version,
		Description: base.Description,
		Catalogs:    make(map[string]map[string]Endpoint, len(base.Catalogs)),
		Aliases:     make(map[string]string, len(base.Aliases)),
	}
	for _, src := range []*Manifest{base, override} {
		for catalog, eps := range src.Catalogs {
			if merged.Catalogs[catalog] == nil {
				merged.Catalogs[catalog] = make(map[string]Endpoint, len(eps))
			}
			for key, ep := range eps {
				merged.Catalogs[catalog][key] = ep
			}
		}
		for alias, ref := range src.Aliases {
			merged.Aliases[alias] = ref
		}
	}
	if override.Name != "" {
		merged.Name = override.Name
	}
	if override.Version != "" {
		merged.Version = override.Version
	}
	if override.Description != "" {
		merged.Description = override.Description
	}
	return merged
}
