// Package verbs holds the verb registry: the catalog of event verbs the
// engine accepts, loaded from YAML files at startup. Ingestion rejects any
// event whose verb is not registered, so a typo'd verb fails fast at the edge
// instead of silently matching no grouping rule.
package verbs

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/feedline-io/feedline/internal/core/activity"
)

// Definition describes one registered verb.
type Definition struct {
	Name string
	// RequiresTarget marks verbs that are meaningless without a target
	// (e.g. "join" needs the group being joined).
	RequiresTarget bool
	// Streams restricts which delivery channels the verb may reach.
	// Empty means all streams.
	Streams []activity.Stream
	// Fingerprint is the SHA-256 of the raw YAML file, computed at load time.
	Fingerprint string
}

// AllowsStream reports whether the verb may be delivered on the stream.
func (d Definition) AllowsStream(s activity.Stream) bool {
	if len(d.Streams) == 0 {
		return true
	}
	for _, allowed := range d.Streams {
		if allowed == s {
			return true
		}
	}
	return false
}

type rawDefinition struct {
	Name           string   `yaml:"name"`
	RequiresTarget bool     `yaml:"requires_target"`
	Streams        []string `yaml:"streams"`
}

// Registry is the loaded verb catalog. Immutable after construction.
type Registry struct {
	byName map[string]Definition
}

// NewRegistry loads verb definitions from *.yaml files in dir. Each file
// contains exactly one definition. Returns an error for malformed or
// duplicate definitions. A missing directory yields the built-in defaults.
func NewRegistry(dir string) (*Registry, error) {
	r := &Registry{byName: make(map[string]Definition)}

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		r.loadDefaults()
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verb registry dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("verb registry path %q is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading verb registry dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading verb file %s: %w", path, err)
		}

		var raw rawDefinition
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing verb file %s: %w", path, err)
		}
		if raw.Name == "" {
			continue // skip empty / comment-only files
		}

		def, err := buildDefinition(raw)
		if err != nil {
			return nil, err
		}
		def.Fingerprint = fmt.Sprintf("%x", sha256.Sum256(data))

		if _, exists := r.byName[def.Name]; exists {
			return nil, fmt.Errorf("verb %q: duplicate definition (check multiple YAML files)", def.Name)
		}
		r.byName[def.Name] = def
	}

	if len(r.byName) == 0 {
		r.loadDefaults()
	}
	return r, nil
}

func buildDefinition(raw rawDefinition) (Definition, error) {
	streams := make([]activity.Stream, 0, len(raw.Streams))
	for _, s := range raw.Streams {
		stream := activity.Stream(s)
		if !activity.ValidStream(stream) {
			return Definition{}, fmt.Errorf("verb %q: unknown stream %q", raw.Name, s)
		}
		streams = append(streams, stream)
	}
	return Definition{
		Name:           raw.Name,
		RequiresTarget: raw.RequiresTarget,
		Streams:        streams,
	}, nil
}

// loadDefaults registers the built-in verb set used when no registry
// directory is configured.
func (r *Registry) loadDefaults() {
	for _, name := range []string{"follow", "create", "share", "update"} {
		r.byName[name] = Definition{Name: name}
	}
	r.byName["join"] = Definition{Name: "join", RequiresTarget: true}
}

// Get returns the definition for a verb, or an error if unregistered.
func (r *Registry) Get(name string) (Definition, error) {
	def, ok := r.byName[name]
	if !ok {
		return Definition{}, fmt.Errorf("verb %q is not registered", name)
	}
	return def, nil
}

// AllowsStream reports whether the named verb may be delivered on the
// stream. Unregistered verbs are unrestricted — ingestion already rejects
// them, so an activity carrying one predates a registry change and keeps
// flowing everywhere.
func (r *Registry) AllowsStream(name string, s activity.Stream) bool {
	def, ok := r.byName[name]
	if !ok {
		return true
	}
	return def.AllowsStream(s)
}

// Names returns the registered verb names, unordered.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}
