package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Config is the backend-agnostic connection description handed to a
// registered Factory.
type Config struct {
	// Kind selects the backend: "postgres", "sqlite", "mysql", "mssql".
	Kind string
	// Endpoint is the connection target (URL or driver DSN).
	Endpoint string
	// Credential is either "user:password" or a bare password/key. Backends
	// merge it into Endpoint using their driver's own DSN parser.
	Credential string
}

// Factory opens a Store for cfg.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register adds (or replaces) the factory for kind. Backends call it from
// init so callers only need a blank import of storage/all.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[strings.ToLower(kind)] = f
}

// New opens a Store using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	regMu.RLock()
	f, ok := factories[strings.ToLower(cfg.Kind)]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: no backend registered for kind=%q (known: %s)",
			cfg.Kind, strings.Join(Kinds(), ", "))
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("storage: %s endpoint must not be empty", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend names in sorted order.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SplitCredential splits "user:password" into its parts. A credential
// without a colon is returned as a password with an empty user, which lets
// the endpoint keep supplying the user name (API-key style credentials).
func SplitCredential(cred string) (user, password string) {
	if i := strings.IndexByte(cred, ':'); i >= 0 {
		return cred[:i], cred[i+1:]
	}
	return "", cred
}
