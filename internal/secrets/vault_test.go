package secrets_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/Strob0t/Habitat/internal/secrets"
)

func TestNewVault_InitialLoad(t *testing.T) {
	v, err := secrets.NewVault(secrets.Static(map[string]string{"KEY_A": "val_a", "KEY_B": "val_b"}))
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}
	if got := v.Get("KEY_A"); got != "val_a" {
		t.Fatalf("expected 'val_a', got %q", got)
	}
	if got := v.Get("MISSING"); got != "" {
		t.Fatalf("expected empty string for missing key, got %q", got)
	}
}

func TestNewVault_LoaderError(t *testing.T) {
	_, err := secrets.NewVault(func() (map[string]string, error) {
		return nil, errors.New("connection refused")
	})
	if err == nil {
		t.Fatal("expected error from failing loader")
	}
}

func TestVault_ReloadErrorPreservesValues(t *testing.T) {
	calls := 0
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		calls++
		if calls == 1 {
			return map[string]string{"KEY": "original"}, nil
		}
		return nil, errors.New("file unreadable")
	})

	if err := v.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if got := v.Get("KEY"); got != "original" {
		t.Fatalf("expected 'original' after failed reload, got %q", got)
	}
}

func TestVault_GetterSeesReload(t *testing.T) {
	token := "old"
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{secrets.KeyMCPAPIKey: token}, nil
	})
	get := v.Getter(secrets.KeyMCPAPIKey)

	token = "new"
	if err := v.Reload(); err != nil {
		t.Fatal(err)
	}
	if got := get(); got != "new" {
		t.Fatalf("getter = %q after reload, want new", got)
	}
}

func TestVault_ReloadOn(t *testing.T) {
	var (
		mu    sync.Mutex
		token = "old"
	)
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		mu.Lock()
		defer mu.Unlock()
		return map[string]string{"K": token}, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	v.ReloadOn(ctx, sig)

	mu.Lock()
	token = "new"
	mu.Unlock()
	sig <- syscall.SIGHUP

	deadline := time.Now().Add(2 * time.Second)
	for v.Get("K") != "new" {
		if time.Now().After(deadline) {
			t.Fatal("vault not reloaded on signal")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestVault_ConcurrentAccess(t *testing.T) {
	v, _ := secrets.NewVault(secrets.Static(map[string]string{"K": "V"}))

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = v.Get("K")
		}()
		go func() {
			defer wg.Done()
			_ = v.Reload()
		}()
	}
	wg.Wait()
}

func TestVault_Redacted(t *testing.T) {
	v, _ := secrets.NewVault(secrets.Static(map[string]string{
		"API_KEY": "sk-abcdef123456",
		"SHORT":   "ab",
	}))
	tests := []struct{ key, want string }{
		{"API_KEY", "sk****"},
		{"SHORT", "****"},
		{"MISSING", ""},
	}
	for _, tt := range tests {
		if got := v.Redacted(tt.key); got != tt.want {
			t.Errorf("Redacted(%s) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestLoaders(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "secrets.yaml")
	if err := os.WriteFile(good, []byte("mcp_api_key: from-file\nother: x\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("- not\n- a map\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		loader  secrets.Loader
		want    map[string]string
		wantErr bool
	}{
		{"static drops empty", secrets.Static(map[string]string{"a": "1", "b": ""}), map[string]string{"a": "1"}, false},
		{"file", secrets.File(good), map[string]string{"mcp_api_key": "from-file", "other": "x"}, false},
		{"missing file", secrets.File(filepath.Join(dir, "nope.yaml")), map[string]string{}, false},
		{"no path", secrets.File(""), map[string]string{}, false},
		{"bad file", secrets.File(bad), nil, true},
		{
			"chain file overrides static",
			secrets.Chain(secrets.Static(map[string]string{"mcp_api_key": "from-config", "keep": "k"}), secrets.File(good)),
			map[string]string{"mcp_api_key": "from-file", "other": "x", "keep": "k"},
			false,
		},
		{"chain fails on error", secrets.Chain(secrets.Static(map[string]string{"a": "1"}), secrets.File(bad)), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.loader()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}
