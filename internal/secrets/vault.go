// Package secrets holds reloadable credentials such as the MCP API key.
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// KeyMCPAPIKey names the bearer token cognition backends present to /mcp.
const KeyMCPAPIKey = "mcp_api_key"

// Loader retrieves secrets from a source (config values, a file, etc.).
type Loader func() (map[string]string, error)

// Vault holds secret values in memory and supports atomic reloading.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{values: vals, loader: loader}, nil
}

// Get returns the secret for key, or an empty string if not found.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// Getter returns a func that reads key at call time, so holders see reloads.
func (v *Vault) Getter(key string) func() string {
	return func() string { return v.Get(key) }
}

// Redacted returns the first two characters of the secret followed by
// "****", or "****" for secrets of four characters or fewer.
func (v *Vault) Redacted(key string) string {
	s := v.Get(key)
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "****"
	default:
		return s[:2] + "****"
	}
}

// Reload calls the loader and swaps in the new values atomically.
// If the loader returns an error, existing values are preserved.
func (v *Vault) Reload() error {
	newVals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = newVals
	v.mu.Unlock()
	return nil
}

// ReloadOn reloads the vault each time sig fires until ctx is done.
func (v *Vault) ReloadOn(ctx context.Context, sig <-chan os.Signal) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-sig:
				if err := v.Reload(); err != nil {
					slog.Error("secret reload failed", "signal", s.String(), "error", err)
					continue
				}
				slog.Info("secrets reloaded", "signal", s.String())
			}
		}
	}()
}
