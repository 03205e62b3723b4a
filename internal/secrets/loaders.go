package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"

	"gopkg.in/yaml.v3"
)

// Static returns a Loader yielding a copy of vals. Empty values are dropped.
func Static(vals map[string]string) Loader {
	return func() (map[string]string, error) {
		out := make(map[string]string, len(vals))
		for k, v := range vals {
			if v != "" {
				out[k] = v
			}
		}
		return out, nil
	}
}

// File returns a Loader reading a flat YAML map of secret names to values.
// A missing file yields no secrets; an empty path disables the loader.
func File(path string) Loader {
	return func() (map[string]string, error) {
		if path == "" {
			return map[string]string{}, nil
		}
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read secrets file: %w", err)
		}
		vals := map[string]string{}
		if err := yaml.Unmarshal(data, &vals); err != nil {
			return nil, fmt.Errorf("parse secrets file %s: %w", path, err)
		}
		return vals, nil
	}
}

// Chain merges loaders in order; later loaders override earlier ones.
// Any loader error fails the whole load.
func Chain(loaders ...Loader) Loader {
	return func() (map[string]string, error) {
		out := map[string]string{}
		for _, l := range loaders {
			vals, err := l()
			if err != nil {
				return nil, err
			}
			maps.Copy(out, vals)
		}
		return out, nil
	}
}
