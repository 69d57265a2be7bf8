// Package registry keeps the set of target languages known to an engine:
// mapping-defined languages compiled from SMTT files and extension-backed
// languages.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/jward/surn/internal/diag"
)

// Registry maps language names to descriptors. Each language has its own
// gate: passes hold a shared lease for the duration of a translation, and
// registration takes the gate exclusively, so a replacement waits for
// in-flight passes and later passes see only the new descriptor.
type Registry struct {
	mu    sync.RWMutex
	langs map[string]*entry
	log   *slog.Logger
}

type entry struct {
	gate sync.RWMutex
	desc *Descriptor
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		langs: make(map[string]*entry),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs desc, fully replacing any previous descriptor of the
// same name once its in-flight passes finish.
func (r *Registry) Register(desc *Descriptor) error {
	if desc == nil || desc.Name == "" {
		return errors.New("registry: register: descriptor without a name")
	}
	if desc.Extension == nil && desc.Rules == nil {
		return fmt.Errorf("registry: register %s: neither rules nor extension", desc.Name)
	}

	r.mu.Lock()
	e, ok := r.langs[desc.Name]
	if !ok {
		e = &entry{}
		r.langs[desc.Name] = e
	}
	r.mu.Unlock()

	e.gate.Lock()
	replaced := e.desc != nil
	e.desc = desc
	e.gate.Unlock()

	r.log.Info("language registered",
		"language", desc.Name,
		"version", desc.Version.String(),
		"source", desc.Source,
		"replaced", replaced,
		"threading", desc.ThreadingAllowed,
	)
	return nil
}

// Unregister removes lang once its in-flight passes finish.
func (r *Registry) Unregister(lang string) bool {
	r.mu.Lock()
	e, ok := r.langs[lang]
	delete(r.langs, lang)
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.gate.Lock()
	e.desc = nil
	e.gate.Unlock()
	return true
}

func (r *Registry) entry(lang string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.langs[lang]
	r.mu.RUnlock()
	if !ok {
		return nil, diag.Errorf(diag.ErrLanguageNotFound, diag.Pos{}, "%q", lang)
	}
	return e, nil
}

// Lookup returns lang's current descriptor without holding a lease.
func (r *Registry) Lookup(lang string) (*Descriptor, error) {
	e, err := r.entry(lang)
	if err != nil {
		return nil, err
	}
	e.gate.RLock()
	d := e.desc
	e.gate.RUnlock()
	if d == nil {
		return nil, diag.Errorf(diag.ErrLanguageNotFound, diag.Pos{}, "%q", lang)
	}
	return d, nil
}

// Lease pins a descriptor for the duration of a pass.
type Lease struct {
	Descriptor *Descriptor
	Exclusive  bool
	once       sync.Once
	release    func()
}

// Release ends the lease. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(l.release)
}

// Acquire leases lang for one pass. Languages that allow threading are
// leased shared; the rest are leased exclusively, serializing their passes.
func (r *Registry) Acquire(lang string) (*Lease, error) {
	e, err := r.entry(lang)
	if err != nil {
		return nil, err
	}

	e.gate.RLock()
	d := e.desc
	if d != nil && d.ThreadingAllowed {
		return &Lease{Descriptor: d, release: e.gate.RUnlock}, nil
	}
	e.gate.RUnlock()

	e.gate.Lock()
	d = e.desc
	if d == nil {
		e.gate.Unlock()
		return nil, diag.Errorf(diag.ErrLanguageNotFound, diag.Pos{}, "%q", lang)
	}
	return &Lease{Descriptor: d, Exclusive: true, release: e.gate.Unlock}, nil
}

// Names returns the registered language names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.langs))
	for name := range r.langs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Descriptors returns every registered descriptor ordered by name.
func (r *Registry) Descriptors() []*Descriptor {
	var out []*Descriptor
	for _, name := range r.Names() {
		if d, err := r.Lookup(name); err == nil {
			out = append(out, d)
		}
	}
	return out
}

// LanguageForFile returns the language whose file types include path's
// extension. When several languages claim it, the first by name wins.
func (r *Registry) LanguageForFile(path string) (string, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "", false
	}
	for _, d := range r.Descriptors() {
		for _, ft := range d.FileTypes {
			if strings.EqualFold(ft, ext) {
				return d.Name, true
			}
		}
	}
	return "", false
}
