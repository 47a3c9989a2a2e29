package adapter

import (
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/kallebysantos/meteoritus/pkg/lock"
	"github.com/kallebysantos/meteoritus/pkg/metrics"
	"github.com/kallebysantos/meteoritus/pkg/vault"
)

// DefaultMaxSize is the cap on Upload-Length and PATCH body size used when
// the host does not configure one, per spec §6.3.
const DefaultMaxSize = 5 * 1024 * 1024

// Config is the fully resolved set of dependencies and policy an Adapter
// needs. The root meteoritus package builds one of these from its Builder;
// pkg/adapter itself never reads environment or flags.
type Config struct {
	// Vault is the persistence backend. Required.
	Vault vault.Vault
	// Locker optionally serializes concurrent requests for the same id.
	// May be nil, in which case no per-id locking is performed.
	Locker lock.Locker
	// Metrics optionally records Prometheus counters. A nil Metrics is a
	// safe no-op (see pkg/metrics).
	Metrics *metrics.Metrics
	// Semaphore optionally bounds how many PATCH bodies may be read
	// concurrently. May be nil, in which case no admission control is
	// applied at this layer.
	Semaphore *semaphore.Weighted
	// BasePath is the URL prefix under which the adapter's endpoints are
	// mounted, e.g. "/meteoritus". Normalized to have both a leading and
	// trailing slash during New.
	BasePath string
	// MaxSize caps Upload-Length and PATCH body size, in bytes. Zero means
	// DefaultMaxSize, not unlimited; an explicit unlimited upload is not
	// supported by this adapter.
	MaxSize uint64
	// AutoTerminate deletes the vault's copy of the upload immediately
	// after it completes, once OnCompleted has run.
	AutoTerminate bool
	// Logger is the base logger each request's child logger derives from.
	Logger *slog.Logger

	OnCreation    HookFunc
	OnCreated     HookFunc
	OnCompleted   HookFunc
	OnTermination HookFunc
}

func (c *Config) validate() error {
	if c.Vault == nil {
		return errors.New("adapter: Config.Vault must not be nil")
	}

	base := c.BasePath
	if base == "" {
		base = "/"
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	c.BasePath = base

	if c.MaxSize == 0 {
		c.MaxSize = DefaultMaxSize
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return nil
}
