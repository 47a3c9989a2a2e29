// Package meteoritus wires the metadata codec, the FileInfo state machine,
// a Vault, and the tus protocol adapter into a single mountable component.
// A host process configures a Builder, calls Ignite to validate and freeze
// the configuration, and mounts the resulting *Meteoritus instance's
// Handler under its own router.
package meteoritus

import (
	"log/slog"
	"net/http"

	"golang.org/x/sync/semaphore"

	"github.com/kallebysantos/meteoritus/pkg/adapter"
	"github.com/kallebysantos/meteoritus/pkg/lock"
	"github.com/kallebysantos/meteoritus/pkg/metrics"
	"github.com/kallebysantos/meteoritus/pkg/vault"
	"github.com/kallebysantos/meteoritus/pkg/vault/localvault"
)

// DefaultBasePath is the URL prefix used when WithBasePath is never called.
const DefaultBasePath = "/meteoritus"

// DefaultTempPath is the local vault's root when no custom Vault is
// supplied via WithVault.
const DefaultTempPath = "./tmp/files"

// DefaultMaxSize is the cap on Upload-Length and PATCH body size used when
// WithMaxSize is never called.
const DefaultMaxSize = adapter.DefaultMaxSize

// Builder collects configuration for a Meteoritus instance. Its zero value
// is ready to use; every With* method returns the same *Builder for
// chaining. Call Ignite to validate and produce the immutable instance.
type Builder struct {
	basePath      string
	tempPath      string
	vault         vault.Vault
	maxSize       uint64
	autoTerminate *bool
	locker        lock.Locker
	metrics       *metrics.Metrics
	semaphore     *semaphore.Weighted
	logger        *slog.Logger

	onCreation    adapter.HookFunc
	onCreated     adapter.HookFunc
	onCompleted   adapter.HookFunc
	onTermination adapter.HookFunc
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithBasePath sets the URL prefix under which the adapter is mounted.
func (b *Builder) WithBasePath(path string) *Builder {
	b.basePath = path
	return b
}

// WithTempPath sets the local vault's root directory. Ignored if WithVault
// is also called.
func (b *Builder) WithTempPath(path string) *Builder {
	b.tempPath = path
	return b
}

// WithVault replaces the persistence backend entirely, overriding
// WithTempPath.
func (b *Builder) WithVault(v vault.Vault) *Builder {
	b.vault = v
	return b
}

// WithMaxSize caps Upload-Length and PATCH body size, in bytes.
func (b *Builder) WithMaxSize(maxSize uint64) *Builder {
	b.maxSize = maxSize
	return b
}

// WithAutoTerminate controls whether a completed upload's vault copy is
// deleted immediately after OnCompleted runs. Defaults to true.
func (b *Builder) WithAutoTerminate(enabled bool) *Builder {
	b.autoTerminate = &enabled
	return b
}

// WithLocker installs a lock.Locker to serialize concurrent requests for
// the same upload id. Optional; see pkg/lock.
func (b *Builder) WithLocker(l lock.Locker) *Builder {
	b.locker = l
	return b
}

// WithMetrics installs a pkg/metrics.Metrics to record request, byte, and
// lifecycle counters.
func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.metrics = m
	return b
}

// WithSemaphore bounds the number of PATCH bodies read concurrently.
func (b *Builder) WithSemaphore(s *semaphore.Weighted) *Builder {
	b.semaphore = s
	return b
}

// WithLogger sets the base logger each request's child logger derives
// from.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// OnCreation registers the only callback able to abort upload creation; a
// non-nil error aborts with 422 and nothing is persisted.
func (b *Builder) OnCreation(fn adapter.HookFunc) *Builder {
	b.onCreation = fn
	return b
}

// OnCreated registers a notification-only callback fired after an upload
// is persisted.
func (b *Builder) OnCreated(fn adapter.HookFunc) *Builder {
	b.onCreated = fn
	return b
}

// OnCompleted registers a notification-only callback fired when an
// upload's offset reaches its length.
func (b *Builder) OnCompleted(fn adapter.HookFunc) *Builder {
	b.onCompleted = fn
	return b
}

// OnTermination registers a notification-only callback fired after an
// upload is terminated.
func (b *Builder) OnTermination(fn adapter.HookFunc) *Builder {
	b.onTermination = fn
	return b
}

// Ignite validates the accumulated configuration, applies defaults, and
// returns an immutable *Meteoritus ready to be mounted. The Builder may be
// discarded or reused for another Ignite call afterward.
func (b *Builder) Ignite() (*Meteoritus, error) {
	v := b.vault
	if v == nil {
		tempPath := b.tempPath
		if tempPath == "" {
			tempPath = DefaultTempPath
		}
		v = localvault.New(tempPath)
	}

	basePath := b.basePath
	if basePath == "" {
		basePath = DefaultBasePath
	}

	maxSize := b.maxSize
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}

	autoTerminate := true
	if b.autoTerminate != nil {
		autoTerminate = *b.autoTerminate
	}

	a, err := adapter.New(adapter.Config{
		Vault:         v,
		Locker:        b.locker,
		Metrics:       b.metrics,
		Semaphore:     b.semaphore,
		BasePath:      basePath,
		MaxSize:       maxSize,
		AutoTerminate: autoTerminate,
		Logger:        b.logger,
		OnCreation:    b.onCreation,
		OnCreated:     b.onCreated,
		OnCompleted:   b.onCompleted,
		OnTermination: b.onTermination,
	})
	if err != nil {
		return nil, err
	}

	return &Meteoritus{adapter: a}, nil
}

// Meteoritus is the immutable, ignited middleware instance. Safe for
// concurrent use; corresponds to spec's "Orbit" phase.
type Meteoritus struct {
	adapter *adapter.Adapter
}

// Handler returns the http.Handler to mount under the configured base
// path.
func (m *Meteoritus) Handler() http.Handler {
	return m.adapter.Handler()
}

// Config returns the resolved adapter configuration, for introspection.
func (m *Meteoritus) Config() adapter.Config {
	return m.adapter.Config()
}
