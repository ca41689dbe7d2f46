package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Loaded is the resolved config with its source path and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves and parses config.jsonc, then applies environment fallbacks.
// A missing file yields defaults and a warning.
func Load(explicitPath string) (Loaded, error) {
	return load(explicitPath, os.Getenv)
}

func load(explicitPath string, getenv func(string) string) (Loaded, error) {
	path, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{Path: path, Config: Default()}
	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		loaded.Warnings = append(loaded.Warnings, Warning{
			Message: fmt.Sprintf("config file %q not found; using defaults", path),
		})
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", path, err)
	default:
		cfg, warnings, err := Parse(string(content), loaded.Config)
		if err != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", path, err)
		}
		loaded.Config, loaded.Warnings, loaded.Exists = cfg, warnings, true
	}

	if warning, ok := applyStoreEnv(&loaded.Config.Store, getenv); ok {
		loaded.Warnings = append(loaded.Warnings, warning)
	}
	return loaded, nil
}

// applyStoreEnv fills an empty postgres DSN from DATABASE_URL. It warns when
// neither is set, since the store cannot open.
func applyStoreEnv(store *StoreConfig, getenv func(string) string) (Warning, bool) {
	if !strings.EqualFold(store.Driver, "postgres") && !strings.EqualFold(store.Driver, "pgx") {
		return Warning{}, false
	}
	if strings.TrimSpace(store.DSN) != "" {
		return Warning{}, false
	}
	if dsn := strings.TrimSpace(getenv("DATABASE_URL")); dsn != "" {
		store.DSN = dsn
		return Warning{}, false
	}
	return Warning{Message: fmt.Sprintf("store.dsn is empty; DATABASE_URL must be set for store.driver=%s", strings.ToLower(store.Driver))}, true
}
