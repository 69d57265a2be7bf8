package surn

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jward/surn/extensions"
	"github.com/jward/surn/internal/ast"
	"github.com/jward/surn/internal/diag"
	"github.com/jward/surn/internal/metrics"
	"github.com/jward/surn/internal/registry"
	"github.com/jward/surn/internal/runtime"
	"github.com/jward/surn/internal/smtt"
	"github.com/jward/surn/internal/store"
	"github.com/jward/surn/internal/translate"
	"github.com/jward/surn/internal/validate"
	"github.com/jward/surn/internal/watch"
	"github.com/jward/surn/mappings"
)

// ErrCacheDisabled is returned by cache queries on an engine built without
// WithCache.
var ErrCacheDisabled = errors.New("surn: cache disabled")

// Engine orchestrates translation: it owns the language registry, the
// extension runtime and the optional translation cache.
type Engine struct {
	registry *registry.Registry
	runtime  *runtime.Runtime
	cache    *store.Store
	metrics  *metrics.Collector
	log      *slog.Logger

	policy     translate.Policy
	precedence translate.Precedence
	custom     map[string]string
	maxDepth   int
	synth      map[string]translate.Synthesizer
	validate   bool
	targetAST  bool

	useParallel bool
	workers     int

	cachePath     string
	mappingsFS    fs.FS
	extensionsDir string
	extensionsFS  fs.FS
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the failure policy for unsupported constructs.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithPrecedence sets which dispatch key wins when a node matches both a
// label rule and a kind rule.
func WithPrecedence(p Precedence) Option {
	return func(e *Engine) { e.precedence = p }
}

// WithCustomOptions sets the custom options rule bodies and extension
// scripts read with opt.
func WithCustomOptions(custom map[string]string) Option {
	return func(e *Engine) {
		e.custom = make(map[string]string, len(custom))
		for k, v := range custom {
			e.custom[k] = v
		}
	}
}

// WithMaxDepth bounds rule recursion.
func WithMaxDepth(n int) Option {
	return func(e *Engine) { e.maxDepth = n }
}

// WithSynthesizer makes fn available to rewrite statements as name.
func WithSynthesizer(name string, fn Synthesizer) Option {
	return func(e *Engine) {
		if e.synth == nil {
			e.synth = make(map[string]translate.Synthesizer)
		}
		e.synth[name] = fn
	}
}

// WithValidation re-parses emitted text with the target's tree-sitter
// grammar, where one is bundled, and reports syntax problems as warnings.
func WithValidation(on bool) Option {
	return func(e *Engine) { e.validate = on }
}

// WithTargetAST makes mapping passes return the rewritten tree alongside
// the text. Such passes bypass the cache.
func WithTargetAST(on bool) Option {
	return func(e *Engine) { e.targetAST = on }
}

// WithCache stores results in a SQLite database at path and reuses them
// while the unit's AST, the language's rules and the pass options are
// unchanged.
func WithCache(path string) Option {
	return func(e *Engine) { e.cachePath = path }
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics records pass metrics in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithParallel controls parallel translation. When true (default),
// TranslateAll uses a worker pool with a single writer goroutine committing
// results to the cache. Set to false for serial mode.
func WithParallel(parallel bool) Option {
	return func(e *Engine) { e.useParallel = parallel }
}

// WithWorkers sets the worker pool size; zero means one per CPU.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithMappingsFS replaces the bundled mapping definitions LoadDefaults
// reads.
func WithMappingsFS(fsys fs.FS) Option {
	return func(e *Engine) { e.mappingsFS = fsys }
}

// WithExtensionsFS replaces the bundled extension scripts LoadDefaults
// reads. A nil fs.FS disables them.
func WithExtensionsFS(fsys fs.FS) Option {
	return func(e *Engine) { e.extensionsFS = fsys }
}

// WithExtensionsDir sets the directory relative extension script paths
// resolve against.
func WithExtensionsDir(dir string) Option {
	return func(e *Engine) { e.extensionsDir = dir }
}

// New creates an Engine with no languages registered; call LoadDefaults or
// the Load methods to add some.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		log:          slog.Default(),
		useParallel:  true,
		mappingsFS:   mappings.FS,
		extensionsFS: extensions.FS,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.registry = registry.New(registry.WithLogger(e.log))
	e.runtime = e.newRuntime(e.extensionsDir, nil)

	if e.cachePath != "" {
		if dir := filepath.Dir(e.cachePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("surn: create cache dir: %w", err)
			}
		}
		s, err := store.NewStore(e.cachePath)
		if err != nil {
			return nil, fmt.Errorf("surn: create cache: %w", err)
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, fmt.Errorf("surn: migrate cache: %w", err)
		}
		e.cache = s
	}
	return e, nil
}

func (e *Engine) newRuntime(dir string, fsys fs.FS) *runtime.Runtime {
	opts := []runtime.RuntimeOption{
		runtime.WithLogger(e.log),
		runtime.WithCustomOptions(e.custom),
	}
	if fsys != nil {
		opts = append(opts, runtime.WithRuntimeFS(fsys))
	}
	return runtime.NewRuntime(dir, opts...)
}

// Close releases the cache database, if any.
func (e *Engine) Close() error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Close()
}

// Store returns the cache store, or nil when caching is disabled.
func (e *Engine) Store() *store.Store {
	return e.cache
}

// optionsHash digests the pass options that shape output.
func (e *Engine) optionsHash() string {
	custom := make(map[string]string, len(e.custom)+len(e.synth))
	for k, v := range e.custom {
		custom[k] = v
	}
	for name := range e.synth {
		custom["synth:"+name] = "custom"
	}
	return store.ComputeOptionsHash(e.policy.String(), e.precedence.String(), e.validate, custom)
}

// --- Loading languages ---

// LoadDefaults registers the bundled mapping definitions and extension
// scripts. Every file is attempted; the errors of those that failed are
// joined.
func (e *Engine) LoadDefaults(ctx context.Context) error {
	var errs []error
	if e.mappingsFS != nil {
		names, err := fs.Glob(e.mappingsFS, "*.smtt")
		if err != nil {
			return fmt.Errorf("surn: list mappings: %w", err)
		}
		sort.Strings(names)
		for _, name := range names {
			src, err := fs.ReadFile(e.mappingsFS, name)
			if err != nil {
				errs = append(errs, fmt.Errorf("surn: read %s: %w", name, err))
				continue
			}
			errs = append(errs, e.LoadMappingSource(name, src))
		}
	}
	if e.extensionsFS != nil {
		rt := e.newRuntime("", e.extensionsFS)
		names, err := fs.Glob(e.extensionsFS, "*.risor")
		if err != nil {
			return fmt.Errorf("surn: list extensions: %w", err)
		}
		sort.Strings(names)
		for _, name := range names {
			ext, err := runtime.NewScriptExtension(rt, name)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			errs = append(errs, e.LoadExtension(ctx, ext, name))
		}
	}
	return errors.Join(errs...)
}

// LoadMapping parses, compiles and registers the mapping definition at
// path. On error nothing is registered and any previous definition of the
// language stays in effect.
func (e *Engine) LoadMapping(path string) error {
	f, err := smtt.ParseFile(path)
	if err != nil {
		e.metrics.Reload(languageHint(path), err)
		return err
	}
	return e.registerMapping(f)
}

// LoadMappingSource is LoadMapping for in-memory source; name labels
// positions in errors.
func (e *Engine) LoadMappingSource(name string, src []byte) error {
	f, err := smtt.Parse(name, src)
	if err != nil {
		e.metrics.Reload(languageHint(name), err)
		return err
	}
	return e.registerMapping(f)
}

func (e *Engine) registerMapping(f *smtt.File) error {
	desc, err := registry.FromMapping(f)
	if err != nil {
		e.metrics.Reload(f.Name, err)
		return err
	}
	return e.register(desc)
}

// LoadExtension registers the language ext implements. source labels it in
// logs and errors.
func (e *Engine) LoadExtension(ctx context.Context, ext Extension, source string) error {
	hash := ""
	if se, ok := ext.(*runtime.ScriptExtension); ok {
		hash = store.HashBytes([]byte(se.Source()))
	}
	desc, err := registry.FromExtension(ctx, ext, source, hash)
	if err != nil {
		e.metrics.Reload(languageHint(source), err)
		return err
	}
	if desc.RulesHash == "" {
		desc.RulesHash = "native:" + desc.Name + "@" + desc.Version.String()
	}
	return e.register(desc)
}

// LoadExtensionScript registers the Risor extension script at path.
// Relative paths resolve against WithExtensionsDir.
func (e *Engine) LoadExtensionScript(ctx context.Context, path string) error {
	ext, err := runtime.NewScriptExtension(e.runtime, path)
	if err != nil {
		e.metrics.Reload(languageHint(path), err)
		return err
	}
	return e.LoadExtension(ctx, ext, path)
}

// Load registers a mapping definition (.smtt) or extension script (.risor)
// by file extension, or every such file under a directory.
func (e *Engine) Load(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("surn: load: %w", err)
	}
	if info.IsDir() {
		return e.loadDir(ctx, path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".smtt":
		return e.LoadMapping(path)
	case ".risor":
		return e.LoadExtensionScript(ctx, path)
	}
	return fmt.Errorf("surn: load %s: not a mapping definition or extension script", path)
}

func (e *Engine) loadDir(ctx context.Context, dir string) error {
	var paths []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".smtt", ".risor":
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("surn: load %s: %w", dir, err)
	}
	sort.Strings(paths)
	var errs []error
	for _, p := range paths {
		errs = append(errs, e.Load(ctx, p))
	}
	return errors.Join(errs...)
}

// Reload re-registers changed mapping definitions and extension scripts.
// Files that no longer exist are skipped; their languages stay registered.
func (e *Engine) Reload(ctx context.Context, changed []string) error {
	var errs []error
	for _, p := range changed {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			e.log.Warn("mapping removed; keeping registered language", "path", p)
			continue
		}
		if err := e.Load(ctx, p); err != nil {
			e.log.Error("reload failed", "path", p, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Watch reloads mapping definitions and extension scripts under paths as
// they change, until ctx is done.
func (e *Engine) Watch(ctx context.Context, paths ...string) error {
	w, err := watch.New(watch.Config{Paths: paths}, e.log)
	if err != nil {
		return err
	}
	return w.Run(ctx, e.Reload)
}

func (e *Engine) register(desc *registry.Descriptor) error {
	err := e.registry.Register(desc)
	e.metrics.Reload(desc.Name, err)
	if err != nil {
		return err
	}
	e.syncCache(desc)
	return nil
}

// syncCache drops a language's cached units when its rules changed since
// they were stored.
func (e *Engine) syncCache(desc *registry.Descriptor) {
	if e.cache == nil {
		return
	}
	key := "rules_hash." + desc.Name
	prev, ok, err := e.cache.Metadata(key)
	if err != nil {
		e.log.Warn("cache metadata read failed", "language", desc.Name, "error", err)
		return
	}
	if ok && prev != desc.RulesHash {
		n, err := e.cache.DeleteLanguage(desc.Name)
		if err != nil {
			e.log.Warn("cache invalidation failed", "language", desc.Name, "error", err)
			return
		}
		e.log.Info("cache invalidated", "language", desc.Name, "units", n)
	}
	if err := e.cache.SetMetadata(key, desc.RulesHash); err != nil {
		e.log.Warn("cache metadata write failed", "language", desc.Name, "error", err)
	}
}

// languageHint guesses a language name from a file name for metrics about
// files that failed before declaring one.
func languageHint(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// --- Languages ---

// Languages returns the registered languages ordered by name.
func (e *Engine) Languages() []*Descriptor {
	return e.registry.Descriptors()
}

// Language returns the named language's descriptor.
func (e *Engine) Language(name string) (*Descriptor, error) {
	return e.registry.Lookup(name)
}

// LanguageForFile returns the language registered for path's extension.
func (e *Engine) LanguageForFile(path string) (string, bool) {
	return e.registry.LanguageForFile(path)
}

// Unregister removes a language once its in-flight passes finish.
func (e *Engine) Unregister(name string) bool {
	return e.registry.Unregister(name)
}

// --- Translation ---

// Translate runs one pass of src into lang. A failed pass returns the
// error together with a Result carrying its diagnostics and no output.
// Units with a path are cached when the engine has a cache.
func (e *Engine) Translate(ctx context.Context, lang string, src Source) (*Result, error) {
	var rec store.DataStore
	if e.cache != nil {
		rec = e.cache
	}
	res := e.translate(ctx, lang, src, rec)
	return res, res.Err
}

// translate runs one pass, recording the outcome in rec when the unit is
// cacheable.
func (e *Engine) translate(ctx context.Context, lang string, src Source, rec store.DataStore) *Result {
	start := time.Now()
	res := &Result{Path: src.Path, Language: lang, PassID: uuid.NewString()}
	log := e.log.With("pass_id", res.PassID, "language", lang, "path", src.Path)

	if src.Root == nil {
		res.fail(errors.New("surn: translate: nil root"))
		return res
	}
	lease, err := e.registry.Acquire(lang)
	if err != nil {
		res.fail(err)
		return res
	}
	defer lease.Release()
	desc := lease.Descriptor

	cacheable := rec != nil && src.Path != "" && !e.targetAST
	var key store.Key
	if cacheable {
		key = store.Key{
			Path:        src.Path,
			Language:    lang,
			ASTHash:     src.Root.Hash(),
			RulesHash:   desc.RulesHash,
			OptionsHash: e.optionsHash(),
		}
		u, hit, err := rec.Lookup(key)
		if err != nil {
			log.Warn("cache lookup failed", "error", err)
		}
		e.metrics.CacheLookup(lang, hit)
		if hit {
			res.Output = u.Output
			res.Cached = true
			res.Diagnostics = e.storedDiagnostics(u.ID)
			e.metrics.ObservePass(lang, metrics.StatusCached, time.Since(start))
			log.Debug("pass served from cache")
			return res
		}
	}

	out, target, diags, err := e.run(ctx, desc, src.Root, log)
	if err == nil && e.validate {
		diags = append(diags, e.check(ctx, lang, src.Path, out)...)
	}
	if err != nil {
		out, target = "", nil
		diags = append(diags, diag.FromError(err))
	}
	for i := range diags {
		if diags[i].Pos.File == "" {
			diags[i].Pos.File = src.Path
		}
		if diags[i].Code == diag.Code(diag.ErrUnsupportedConstruct) {
			e.metrics.Unsupported(lang, diags[i].Key)
		}
	}
	res.Output, res.Target, res.Diagnostics, res.Err = out, target, diags, err

	status := metrics.StatusOK
	if err != nil {
		status = metrics.StatusFailed
	}
	if cacheable && !isCanceled(err) {
		e.record(rec, key, res, log)
	}
	e.metrics.ObservePass(lang, status, time.Since(start))
	if err != nil {
		log.Warn("pass failed", "error", err, "diagnostics", len(diags))
	} else {
		log.Debug("pass finished", "bytes", len(out), "diagnostics", len(diags), "duration", time.Since(start))
	}
	return res
}

// run executes the language's rules or extension.
func (e *Engine) run(ctx context.Context, desc *registry.Descriptor, root *ast.Node, log *slog.Logger) (string, *ast.Node, []diag.Diagnostic, error) {
	if desc.IsExtension() {
		data, err := root.MarshalJSON()
		if err != nil {
			return "", nil, nil, fmt.Errorf("surn: serialize ast: %w", err)
		}
		out, err := desc.Extension.Transform(ctx, data)
		return out, nil, nil, err
	}
	tr := translate.New(desc.Target(), translate.Options{
		Policy:       e.policy,
		Precedence:   e.precedence,
		Custom:       e.custom,
		MaxDepth:     e.maxDepth,
		Logger:       log,
		Synthesizers: e.synth,
		TargetAST:    e.targetAST,
	})
	res, err := tr.Translate(ctx, root)
	if err != nil {
		return "", nil, nil, err
	}
	return res.Output, res.Target, res.Diagnostics, nil
}

// check validates out with lang's grammar, if one is bundled.
func (e *Engine) check(ctx context.Context, lang, path, out string) []diag.Diagnostic {
	if !validate.HasGrammar(lang) {
		return nil
	}
	rep, err := validate.Check(ctx, lang, []byte(out))
	if err != nil {
		e.log.Warn("output validation failed", "language", lang, "path", path, "error", err)
		return nil
	}
	return rep.Diagnostics(path)
}

func (e *Engine) record(rec store.DataStore, key store.Key, res *Result, log *slog.Logger) {
	status := store.StatusOK
	if res.Err != nil {
		status = store.StatusFailed
	}
	u := &store.Unit{
		Path:         key.Path,
		Language:     key.Language,
		ASTHash:      key.ASTHash,
		RulesHash:    key.RulesHash,
		OptionsHash:  key.OptionsHash,
		Output:       res.Output,
		Status:       status,
		PassID:       res.PassID,
		TranslatedAt: time.Now(),
	}
	if _, err := rec.RecordUnit(u, toStoreDiagnostics(res.Diagnostics)); err != nil {
		log.Warn("cache write failed", "error", err)
	}
}

func (e *Engine) storedDiagnostics(unitID int64) []diag.Diagnostic {
	rows, err := e.cache.DiagnosticsByUnits(unitID)
	if err != nil {
		e.log.Warn("cache diagnostics read failed", "unit", unitID, "error", err)
		return nil
	}
	return fromStoreDiagnostics(rows)
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// --- Unplug ---

// Unplug maps a target-language tree back to a unified-source tree with
// lang's unplug rules.
func (e *Engine) Unplug(ctx context.Context, lang string, target *ast.Node) (*ast.Node, error) {
	lease, err := e.registry.Acquire(lang)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	desc := lease.Descriptor
	if desc.IsExtension() {
		return nil, diag.Errorf(diag.ErrUnsupportedConstruct, diag.Pos{}, "%s is an extension language without unplug rules", lang)
	}
	tr := translate.New(desc.Target(), translate.Options{
		Precedence: e.precedence,
		Custom:     e.custom,
		MaxDepth:   e.maxDepth,
		Logger:     e.log,
	})
	return tr.Unplug(ctx, target)
}

// UnplugSource parses src with lang's tree-sitter grammar and unplugs the
// resulting tree.
func (e *Engine) UnplugSource(ctx context.Context, lang string, src []byte) (*ast.Node, error) {
	target, err := validate.Parse(ctx, lang, src)
	if err != nil {
		return nil, err
	}
	return e.Unplug(ctx, lang, target)
}
