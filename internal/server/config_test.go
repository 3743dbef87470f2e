package server

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jacksonlee411/Confidra/modules/guard/infrastructure/regoguard"
)

func clearGuardEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GUARD_CONFIG", "GUARD_ADDR", "GUARD_CLAUSE_BACKEND", "GUARD_AUDIT_SINKS", "GUARD_REDIS_ADDR",
		"GUARD_LLM_TOKEN", "FRIENDLI_TOKEN", "FRIENDLI_MODEL", "GUARD_LLM_MODEL", "GUARD_LLM_MAX_RETRIES", "GUARD_PRE_GUARD",
		"GUARD_REGO_PATH",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearGuardEnv(t)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":8080" || cfg.Clauses.Backend != ClauseBackendFile || cfg.PreGuard.Mode != PreGuardChain {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Pipeline.AuditTimeout.Duration != 5*time.Second || cfg.usesPostgres() {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	clearGuardEnv(t)
	path := filepath.Join(t.TempDir(), "server.toml")
	doc := `addr = ":9000"

[clauses]
backend = "postgres"

[audit]
sinks = ["memory", "redis"]
redis_addr = "127.0.0.1:6379"

[llm]
timeout = "3s"
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GUARD_CONFIG", path)
	t.Setenv("GUARD_ADDR", ":9100")
	t.Setenv("FRIENDLI_TOKEN", "legacy")
	t.Setenv("GUARD_LLM_TOKEN", "tok")
	t.Setenv("GUARD_LLM_MAX_RETRIES", "5")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":9100" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.Clauses.Backend != ClauseBackendPostgres || !cfg.usesPostgres() {
		t.Fatalf("clauses=%+v", cfg.Clauses)
	}
	if cfg.LLM.Timeout.Duration != 3*time.Second || cfg.LLM.Token != "tok" || cfg.LLM.MaxRetries != 5 {
		t.Fatalf("llm=%+v", cfg.LLM)
	}
	if len(cfg.Audit.Sinks) != 2 || cfg.Audit.RedisStream != "guard:audit" {
		t.Fatalf("audit=%+v", cfg.Audit)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		env  map[string]string
		want string
	}{
		{name: "unknown key", doc: "adr = \":1\"\n", want: "unknown keys adr"},
		{name: "bad duration", doc: "[llm]\ntimeout = \"soon\"\n", want: "load config"},
		{name: "bad backend", env: map[string]string{"GUARD_CLAUSE_BACKEND": "s3"}, want: "clauses.backend"},
		{name: "redis without addr", env: map[string]string{"GUARD_AUDIT_SINKS": "redis"}, want: "redis_addr"},
		{name: "bad sink", env: map[string]string{"GUARD_AUDIT_SINKS": "memory, kafka"}, want: "kafka"},
		{name: "bad mode", env: map[string]string{"GUARD_PRE_GUARD": "keywords"}, want: "pre_guard.mode"},
		{name: "bad retries", env: map[string]string{"GUARD_LLM_MAX_RETRIES": "-1"}, want: "GUARD_LLM_MAX_RETRIES"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearGuardEnv(t)
			if tc.doc != "" {
				path := filepath.Join(t.TempDir(), "server.toml")
				if err := os.WriteFile(path, []byte(tc.doc), 0o644); err != nil {
					t.Fatal(err)
				}
				t.Setenv("GUARD_CONFIG", path)
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v want %q", err, tc.want)
			}
		})
	}
}

func TestLoadConfig_ExampleFileDecodes(t *testing.T) {
	clearGuardEnv(t)
	path, err := findUp("config/server.example.toml")
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("GUARD_CONFIG", path)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Audit.Sinks) != 2 || cfg.Pipeline.GenerateTimeout.Duration != 30*time.Second {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.PreGuard.RegoPath != "" {
		t.Fatalf("rego_path=%q, want the embedded policy", cfg.PreGuard.RegoPath)
	}
	if _, err := regoguard.Load(context.Background(), cfg.PreGuard.RegoPath); err != nil {
		t.Fatal(err)
	}
}

func TestDBDSNFromEnv(t *testing.T) {
	for _, k := range []string{"DATABASE_URL", "DB_USER", "DB_PORT", "DB_NAME", "DB_SSLMODE"} {
		t.Setenv(k, "")
	}
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PASSWORD", "p@ss")
	got := dbDSNFromEnv()
	if !strings.HasPrefix(got, "postgres://guard:p%40ss@db:5432/confidra") || !strings.Contains(got, "sslmode=disable") {
		t.Fatalf("dsn=%q", got)
	}
	t.Setenv("DATABASE_URL", "postgres://x")
	if dbDSNFromEnv() != "postgres://x" {
		t.Fatal("DATABASE_URL must win")
	}
}
