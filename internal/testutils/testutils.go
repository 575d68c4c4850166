package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/nfrund/bizdash/internal/config"
	"github.com/nfrund/bizdash/internal/logging"
	"github.com/sethvargo/go-envconfig"
)

// ConfigForTests loads .env.test from the project root, when it exists, and
// returns the resulting config. Variables are set with t.Setenv so they are
// restored after the test.
func ConfigForTests(t *testing.T) *config.Config {
	t.Helper()

	root := projectRoot(t)
	if env, err := godotenv.Read(filepath.Join(root, ".env.test")); err == nil {
		for key, value := range env {
			t.Setenv(key, value)
		}
	}

	cfg, err := config.FromLookuper(envconfig.OsLookuper())
	if err != nil {
		t.Fatalf("failed to load test config: %v", err)
	}

	logging.New(cfg.LogFormat, cfg.LogLevel)
	return cfg
}

// RemoteConfigForTests is ConfigForTests for tests that talk to a live
// SurrealDB. It skips the test in short mode or when no SURREAL_URL is set.
func RemoteConfigForTests(t *testing.T) *config.Config {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	cfg := ConfigForTests(t)
	if !cfg.RemoteEnabled() {
		t.Skip("SURREAL_URL not set; skipping integration test")
	}
	return cfg
}

// projectRoot walks up from the working directory until it finds go.mod.
func projectRoot(t *testing.T) string {
	t.Helper()

	path, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(path, "go.mod")); err == nil {
			return path
		}
		if path == filepath.Dir(path) {
			t.Fatalf("could not find project root with go.mod")
		}
		path = filepath.Dir(path)
	}
}
