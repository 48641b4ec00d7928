// Package transform holds the registry of value-producing functions used by
// transform-based match specifications.
package transform

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vexsearch/offstore/internal/partition"
)

// Built-in transform type names.
const (
	TypeRegexReplace      = "regex_replace"
	TypePrefixSuffix      = "prefix_suffix"
	TypeUppercase         = "uppercase"
	TypeLowercase         = "lowercase"
	TypeCopyFromColumn    = "copy_from_column"
	TypeExtractTimePrefix = "extract_time_prefix"
)

// Outcome is the result of one transform invocation.
type Outcome struct {
	Value any
	// FellBackToNow is set when a timestamp could not be extracted and the
	// current time was substituted.
	FellBackToNow bool
}

// Transform is implemented by ValueTransform or RowTransform.
type Transform interface {
	Name() string
}

// ValueTransform maps the current target value to a new one.
type ValueTransform interface {
	Transform
	ApplyValue(v any) Outcome
}

// RowTransform computes the new value from the whole row.
type RowTransform interface {
	Transform
	ApplyRow(row partition.Row) Outcome
}

// Apply invokes t with the row or with the row's value of column, depending
// on which interface t implements.
func Apply(t Transform, row partition.Row, column string) Outcome {
	switch tt := t.(type) {
	case RowTransform:
		return tt.ApplyRow(row)
	case ValueTransform:
		return tt.ApplyValue(row[column])
	}
	panic(fmt.Sprintf("transform %s implements neither ValueTransform nor RowTransform", t.Name()))
}

// Config carries the parameters of every built-in transform.
type Config struct {
	Type          string
	Pattern       string
	Replacement   string
	Prefix        string
	Suffix        string
	SourceColumn  string
	PrefixPattern string
	TimeFormat    string
	ToISO         bool
	// IdentityColumn is read by extract_time_prefix when SourceColumn is empty.
	IdentityColumn string
	// Now overrides the clock used for time fallbacks.
	Now func() time.Time
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

// Factory builds a transform from its configuration.
type Factory func(cfg Config) (Transform, error)

// Registry maps transform type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in transforms.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(TypeRegexReplace, newRegexReplace)
	r.Register(TypePrefixSuffix, newPrefixSuffix)
	r.Register(TypeUppercase, func(Config) (Transform, error) { return caseFold{upper: true}, nil })
	r.Register(TypeLowercase, func(Config) (Transform, error) { return caseFold{}, nil })
	r.Register(TypeCopyFromColumn, newCopyFromColumn)
	r.Register(TypeExtractTimePrefix, newExtractTimePrefix)
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the transform named by cfg.Type.
func (r *Registry) New(cfg Config) (Transform, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedTransform, cfg.Type, strings.Join(r.Names(), ", "))
	}
	return f(cfg)
}

var defaultRegistry = NewRegistry()

// New builds a transform from the default registry.
func New(cfg Config) (Transform, error) {
	return defaultRegistry.New(cfg)
}

// Names lists the transforms in the default registry.
func Names() []string {
	return defaultRegistry.Names()
}

// IsRowLevel reports whether t needs the whole row.
func IsRowLevel(t Transform) bool {
	_, ok := t.(RowTransform)
	return ok
}
