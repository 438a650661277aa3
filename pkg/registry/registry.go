// Package registry is the format bridge: it maps format names, open-mode
// strings and table specifiers to concrete backend tables.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ajitpratap0/tabular/pkg/compression"
	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/logger"
	"github.com/ajitpratap0/tabular/pkg/schema"
	"github.com/ajitpratap0/tabular/pkg/table"
	"github.com/ajitpratap0/tabular/pkg/table/branchstore"
	"github.com/ajitpratap0/tabular/pkg/table/columngroup"
	"github.com/ajitpratap0/tabular/pkg/table/columnstore"
	"go.uber.org/zap"
)

// CreateOptions carries everything a backend may need to create a table.
// Fields a backend does not use are ignored.
type CreateOptions struct {
	Schema      *schema.Schema
	Compression compression.Config
	// ChunkBytes sets the columnstore chunk size; chunk rows are
	// max(1, ChunkBytes / row size).
	ChunkBytes int64
	// MaxRows bounds columngroup and branchstore tables; 0 is unbounded.
	MaxRows int64
	// Workers bounds parallel chunk compression; 0 means GOMAXPROCS.
	Workers int
	Logger  *zap.Logger
}

// Factory opens or creates a table of one backend.
type Factory func(ctx context.Context, loc table.Locator, mode table.Mode, opts CreateOptions) (table.Table, error)

// Registry manages backend registration and instantiation
type Registry struct {
	factories map[string]Factory
	aliases   map[string]string
	mu        sync.RWMutex
}

var globalRegistry = NewRegistry()

// NewRegistry creates a registry with the built-in backends.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		aliases:   make(map[string]string),
	}
	r.mustRegister(columnstore.FormatName, openColumnStore, "tables", "pytables", "cstore")
	r.mustRegister(columngroup.FormatName, openColumnGroup, "h5", "hdf5", "cgroup")
	r.mustRegister(branchstore.FormatName, openBranchStore, "root", "tree", "bstore")
	return r
}

func openColumnStore(ctx context.Context, loc table.Locator, mode table.Mode, opts CreateOptions) (table.Table, error) {
	return columnstore.Open(ctx, loc, mode, columnstore.Options{
		Schema:      opts.Schema,
		Compression: opts.Compression,
		ChunkBytes:  opts.ChunkBytes,
		Workers:     opts.Workers,
		Logger:      opts.Logger,
	})
}

func openColumnGroup(ctx context.Context, loc table.Locator, mode table.Mode, opts CreateOptions) (table.Table, error) {
	return columngroup.Open(ctx, loc, mode, columngroup.Options{
		Schema:  opts.Schema,
		MaxRows: opts.MaxRows,
		Logger:  opts.Logger,
	})
}

func openBranchStore(ctx context.Context, loc table.Locator, mode table.Mode, opts CreateOptions) (table.Table, error) {
	return branchstore.Open(ctx, loc, mode, branchstore.Options{
		Schema:  opts.Schema,
		MaxRows: opts.MaxRows,
		Logger:  opts.Logger,
	})
}

// log resolves the logger per call so a later logger.Init is honored.
func log(l *zap.Logger) *zap.Logger {
	return logger.Component(l, "format_registry")
}

func (r *Registry) mustRegister(name string, f Factory, aliases ...string) {
	if err := r.Register(name, f, aliases...); err != nil {
		panic(err)
	}
}

// Register adds a backend factory under name and its aliases. Names are
// case-insensitive.
func (r *Registry) Register(name string, factory Factory, aliases ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name = strings.ToLower(name)
	if _, exists := r.factories[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("format %s already registered", name))
	}
	for _, a := range append([]string{name}, aliases...) {
		if prev, exists := r.aliases[strings.ToLower(a)]; exists {
			return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("format alias %s already names %s", a, prev))
		}
	}
	r.factories[name] = factory
	for _, a := range append([]string{name}, aliases...) {
		r.aliases[strings.ToLower(a)] = name
	}
	log(nil).Debug("format registered", zap.String("name", name), zap.Strings("aliases", aliases))
	return nil
}

// Resolve maps a format name or alias to its canonical name.
func (r *Registry) Resolve(format string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.aliases[strings.ToLower(strings.TrimSpace(format))]
	if !ok {
		return "", errors.New(errors.ErrorTypeConfig, fmt.Sprintf("format %s not found", format)).
			WithDetail("formats", r.formatsLocked())
	}
	return name, nil
}

// Open opens a table of the named format.
func (r *Registry) Open(ctx context.Context, format string, loc table.Locator, mode table.Mode, opts CreateOptions) (table.Table, error) {
	name, err := r.Resolve(format)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory := r.factories[name]
	r.mu.RUnlock()

	t, err := factory(ctx, loc, mode, opts)
	if err != nil {
		return nil, err
	}
	log(opts.Logger).Debug("table opened",
		zap.String("format", name),
		zap.String("table", loc.String()),
		zap.Stringer("mode", mode))
	return t, nil
}

// Formats returns the canonical format names, sorted.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.formatsLocked()
}

func (r *Registry) formatsLocked() []string {
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Global registry functions

// Register adds a backend to the global registry.
func Register(name string, factory Factory, aliases ...string) error {
	return globalRegistry.Register(name, factory, aliases...)
}

// Resolve maps a format alias through the global registry.
func Resolve(format string) (string, error) {
	return globalRegistry.Resolve(format)
}

// Open opens a table through the global registry.
func Open(ctx context.Context, format string, loc table.Locator, mode table.Mode, opts CreateOptions) (table.Table, error) {
	return globalRegistry.Open(ctx, format, loc, mode, opts)
}

// Formats lists the formats of the global registry.
func Formats() []string {
	return globalRegistry.Formats()
}

// GetRegistry returns the global registry instance.
func GetRegistry() *Registry {
	return globalRegistry
}

var modes = map[string]table.Mode{
	"create":   table.ModeCreate,
	"new":      table.ModeCreate,
	"write":    table.ModeCreate,
	"w":        table.ModeCreate,
	"recreate": table.ModeCreate,
	"update":   table.ModeAppend,
	"append":   table.ModeAppend,
	"a":        table.ModeAppend,
	"read":     table.ModeRead,
	"readonly": table.ModeRead,
	"r":        table.ModeRead,
}

// ParseMode maps an open-mode string, case-insensitively, to a Mode.
func ParseMode(s string) (table.Mode, error) {
	m, ok := modes[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return table.ModeRead, errors.New(errors.ErrorTypeValidation, "unknown open mode").WithDetail("mode", s)
	}
	return m, nil
}

// ParseLocator splits a path:node specifier at its last colon.
func ParseLocator(spec string) (table.Locator, error) {
	i := strings.LastIndex(spec, ":")
	if i < 0 {
		return table.Locator{}, errors.New(errors.ErrorTypeValidation, "table specifier must be path:node").
			WithDetail("specifier", spec)
	}
	loc := table.Locator{Path: spec[:i], Node: spec[i+1:]}
	if loc.Path == "" || len(loc.NodeSegments()) == 0 {
		return table.Locator{}, errors.New(errors.ErrorTypeValidation, "table specifier needs a path and a node").
			WithDetail("specifier", spec)
	}
	return loc, nil
}

var markers = []struct {
	file   string
	format string
}{
	{columnstore.MarkerFile, columnstore.FormatName},
	{columngroup.MarkerFile, columngroup.FormatName},
	{"MANIFEST", branchstore.FormatName},
}

var extensions = map[string]string{
	".cstore": columnstore.FormatName,
	".tables": columnstore.FormatName,
	".h5":     columnstore.FormatName,
	".cgroup": columngroup.FormatName,
	".hdf5":   columngroup.FormatName,
	".root":   branchstore.FormatName,
	".bstore": branchstore.FormatName,
}

// Detect guesses the format of a container: marker files of an existing
// container first, then the path extension.
func Detect(path string) (string, error) {
	for _, m := range markers {
		if _, err := os.Stat(filepath.Join(path, m.file)); err == nil {
			return m.format, nil
		}
	}
	if f, ok := extensions[strings.ToLower(filepath.Ext(path))]; ok {
		return f, nil
	}
	return "", errors.New(errors.ErrorTypeValidation, "cannot detect table format").WithDetail("path", path)
}
