package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/addfeaturesnow/prodesk/supabase/deferred"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 3001 {
		t.Errorf("Port = %d, want 3001", cfg.Port)
	}
	if cfg.Store != StoreSupabase {
		t.Errorf("Store = %q", cfg.Store)
	}
	if cfg.FailurePolicy() != deferred.RetryAlways {
		t.Errorf("FailurePolicy = %v", cfg.FailurePolicy())
	}
	if cfg.Addr() != ":3001" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}

func TestLoad_EnvFileAndFallbackNames(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "SUPABASE_URL=https://abc.supabase.co\nSUPABASE_PUBLISHABLE_KEY=anon\nCORS_ORIGINS=http://localhost:5173, .prodesk.io\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"SUPABASE_URL", "SUPABASE_PUBLISHABLE_KEY", "CORS_ORIGINS"} {
		k := k
		t.Cleanup(func() { os.Unsetenv(k) })
	}

	cfg, err := Load(envFile, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	sb := cfg.Supabase()
	if sb.URL != "https://abc.supabase.co" || sb.APIKey != "anon" {
		t.Errorf("Supabase() = %+v", sb)
	}
	origins := cfg.Origins()
	if len(origins) != 2 || origins[1] != ".prodesk.io" {
		t.Errorf("Origins() = %v", origins)
	}
}

func TestLoad_ViteNamesWin(t *testing.T) {
	t.Setenv("VITE_SUPABASE_URL", "https://vite.supabase.co")
	t.Setenv("SUPABASE_URL", "https://plain.supabase.co")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SupabaseURL != "https://vite.supabase.co" {
		t.Errorf("SupabaseURL = %q", cfg.SupabaseURL)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"store", map[string]string{"STORE": "mongo"}},
		{"postgres without dsn", map[string]string{"STORE": "postgres"}},
		{"policy", map[string]string{"SUPABASE_LOADER_POLICY": "sometimes"}},
		{"port", map[string]string{"PORT": "not-a-port"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Load() should fail")
			}
		})
	}
}

func TestLoad_Postgres(t *testing.T) {
	t.Setenv("STORE", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/prodesk?sslmode=disable")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store != StorePostgres {
		t.Errorf("Store = %q", cfg.Store)
	}
}
