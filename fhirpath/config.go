package fhirpath

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultMaxDepth bounds the nesting of evaluation frames.
	DefaultMaxDepth = 512
	// DefaultTimeout bounds a single model provider call.
	DefaultTimeout = 10 * time.Second
)

// Configuration controls an evaluation.
//
// The registry and reflector hold the dispatch and type caches, so a
// Configuration reused across evaluations keeps its caches warm.
// NewConfiguration and LoadConfiguration give each configuration its own
// pair. The zero value is usable too: it evaluates with a registry and a
// reflector shared by all configurations that leave them nil, created on
// first use. The shared reflector keeps a reference to every provider it
// has seen; supply a Reflector when providers are created per evaluation.
type Configuration struct {
	// ModelProvider supplies type information and resolves references.
	ModelProvider ModelProvider
	// Variables are bound in the root scope, accessible as %name.
	Variables map[string]Collection
	// Timeout bounds every model provider call. Zero selects DefaultTimeout.
	Timeout time.Duration

	// Registry holds the operations. Share one across evaluations to
	// benefit from its dispatch cache.
	Registry *Registry
	// Reflector answers type() queries. Share one across evaluations to
	// benefit from its type cache.
	Reflector *TypeReflector
	// Units converts quantities. Nil selects DefaultUnits.
	Units UnitConverter
	// Tracer receives trace() output.
	Tracer  Tracer
	Logger  *zerolog.Logger
	Metrics *Metrics
	// Precision is the number of significant decimal digits.
	Precision uint32
	MaxDepth  int
	// Now is the clock for now(), today() and timeOfDay().
	Now func() time.Time
}

// Option modifies a Configuration.
type Option func(*Configuration)

// NewConfiguration creates a configuration with its own registry and
// reflector and applies opts.
func NewConfiguration(opts ...Option) Configuration {
	cfg := Configuration{
		Registry:  DefaultRegistry(),
		Reflector: NewTypeReflector(0),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithTimeout sets the model provider timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *Configuration) {
		cfg.Timeout = timeout
	}
}

// WithVariable binds %name to value.
func WithVariable(name string, value Collection) Option {
	return func(cfg *Configuration) {
		if cfg.Variables == nil {
			cfg.Variables = make(map[string]Collection)
		}
		cfg.Variables[name] = value
	}
}

// WithModelProvider sets the model provider.
func WithModelProvider(provider ModelProvider) Option {
	return func(cfg *Configuration) {
		cfg.ModelProvider = provider
	}
}

// WithLogger sets the logger for debug and warning events.
func WithLogger(logger *zerolog.Logger) Option {
	return func(cfg *Configuration) {
		cfg.Logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *Metrics) Option {
	return func(cfg *Configuration) {
		cfg.Metrics = metrics
	}
}

// WithRegistry sets the operation registry.
func WithRegistry(registry *Registry) Option {
	return func(cfg *Configuration) {
		cfg.Registry = registry
	}
}

// WithClock sets the clock used by now(), today() and timeOfDay().
func WithClock(now func() time.Time) Option {
	return func(cfg *Configuration) {
		cfg.Now = now
	}
}

type fileConfiguration struct {
	Timeout           string         `yaml:"timeout"`
	Precision         uint32         `yaml:"precision"`
	MaxDepth          int            `yaml:"maxDepth"`
	DispatchCacheSize int            `yaml:"dispatchCacheSize"`
	TypeCacheSize     int            `yaml:"typeCacheSize"`
	Variables         map[string]any `yaml:"variables"`
}

// LoadConfiguration reads a YAML document like
//
//	timeout: 2s
//	precision: 28
//	maxDepth: 256
//	dispatchCacheSize: 1024
//	typeCacheSize: 512
//	variables:
//	  threshold: 5
//	  codes: [a, b]
//
// The returned configuration owns a registry and reflector sized as
// requested.
func LoadConfiguration(r io.Reader, opts ...Option) (Configuration, error) {
	var file fileConfiguration
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return Configuration{}, fmt.Errorf("decode configuration: %w", err)
	}

	cfg := Configuration{
		Precision: file.Precision,
		MaxDepth:  file.MaxDepth,
		Registry:  DefaultRegistry(WithDispatchCacheSize(file.DispatchCacheSize)),
		Reflector: NewTypeReflector(file.TypeCacheSize),
	}
	if file.Timeout != "" {
		timeout, err := time.ParseDuration(file.Timeout)
		if err != nil {
			return Configuration{}, fmt.Errorf("invalid timeout %q: %w", file.Timeout, err)
		}
		cfg.Timeout = timeout
	}
	for name, value := range file.Variables {
		if cfg.Variables == nil {
			cfg.Variables = make(map[string]Collection, len(file.Variables))
		}
		cfg.Variables[name] = FromJSONValue(value)
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg, nil
}

var (
	sharedOnce      sync.Once
	sharedRegistry  *Registry
	sharedReflector *TypeReflector
)

// shared returns the registry and reflector used by configurations that
// leave theirs nil.
func shared() (*Registry, *TypeReflector) {
	sharedOnce.Do(func() {
		sharedRegistry = DefaultRegistry()
		sharedReflector = NewTypeReflector(0)
	})
	return sharedRegistry, sharedReflector
}

func (cfg Configuration) registry() *Registry {
	if cfg.Registry != nil {
		return cfg.Registry
	}
	r, _ := shared()
	return r
}

func (cfg Configuration) reflector() *TypeReflector {
	if cfg.Reflector != nil {
		return cfg.Reflector
	}
	_, r := shared()
	return r
}

func (cfg Configuration) timeout() time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return DefaultTimeout
}

func (cfg Configuration) maxDepth() int {
	if cfg.MaxDepth > 0 {
		return cfg.MaxDepth
	}
	return DefaultMaxDepth
}

func (cfg Configuration) logger(ctx context.Context) *zerolog.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return zerolog.Ctx(ctx)
}

func (cfg Configuration) now() time.Time {
	if cfg.Now != nil {
		return cfg.Now()
	}
	return time.Now()
}

// apdContext derives the decimal context: an explicit precision wins over
// one installed with WithAPDContext.
func (cfg Configuration) apdContext(ctx context.Context) *apd.Context {
	if cfg.Precision > 0 {
		return apd.BaseContext.WithPrecision(cfg.Precision)
	}
	return apdContext(ctx)
}
