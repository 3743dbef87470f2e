package server

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	ClauseBackendMemory   = "memory"
	ClauseBackendFile     = "file"
	ClauseBackendPostgres = "postgres"

	AuditSinkMemory   = "memory"
	AuditSinkFile     = "file"
	AuditSinkPostgres = "postgres"
	AuditSinkRedis    = "redis"

	PreGuardLLM   = "llm"
	PreGuardRego  = "rego"
	PreGuardChain = "chain"
)

// Duration decodes TOML strings such as "15s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type Config struct {
	Addr            string   `toml:"addr"`
	AllowlistPath   string   `toml:"allowlist_path"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`

	Rules    RulesConfig    `toml:"rules"`
	PreGuard PreGuardConfig `toml:"pre_guard"`
	Clauses  ClausesConfig  `toml:"clauses"`
	Audit    AuditConfig    `toml:"audit"`
	LLM      LLMConfig      `toml:"llm"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Authz    AuthzConfig    `toml:"authz"`
}

type RulesConfig struct {
	PolicyPath string `toml:"policy_path"`
}

type PreGuardConfig struct {
	Mode     string `toml:"mode"`
	RegoPath string `toml:"rego_path"`
}

type ClausesConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

type AuditConfig struct {
	Sinks          []string `toml:"sinks"`
	FilePath       string   `toml:"file_path"`
	MemoryCapacity int      `toml:"memory_capacity"`
	RedisAddr      string   `toml:"redis_addr"`
	RedisStream    string   `toml:"redis_stream"`
	RedisMaxLen    int64    `toml:"redis_max_len"`
}

// LLMConfig carries no token; GUARD_LLM_TOKEN (or FRIENDLI_TOKEN) supplies it.
type LLMConfig struct {
	BaseURL    string   `toml:"base_url"`
	Model      string   `toml:"model"`
	Timeout    Duration `toml:"timeout"`
	MaxRetries uint64   `toml:"max_retries"`
	Token      string   `toml:"-"`
}

type PipelineConfig struct {
	ClassifyTimeout Duration `toml:"classify_timeout"`
	GenerateTimeout Duration `toml:"generate_timeout"`
	AuditTimeout    Duration `toml:"audit_timeout"`
}

type AuthzConfig struct {
	Mode       string `toml:"mode"`
	ModelPath  string `toml:"model_path"`
	PolicyPath string `toml:"policy_path"`
}

func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ShutdownTimeout: Duration{10 * time.Second},
		PreGuard:        PreGuardConfig{Mode: PreGuardChain},
		Clauses:         ClausesConfig{Backend: ClauseBackendFile, Path: "data/contract.json"},
		Audit: AuditConfig{
			Sinks:          []string{AuditSinkMemory},
			FilePath:       "data/audit_log.jsonl",
			MemoryCapacity: 1000,
			RedisStream:    "guard:audit",
			RedisMaxLen:    100000,
		},
		LLM: LLMConfig{
			Timeout:    Duration{30 * time.Second},
			MaxRetries: 2,
		},
		Pipeline: PipelineConfig{
			ClassifyTimeout: Duration{15 * time.Second},
			GenerateTimeout: Duration{30 * time.Second},
			AuditTimeout:    Duration{5 * time.Second},
		},
		Authz: AuthzConfig{Mode: "enforce"},
	}
}

// LoadConfig layers defaults, the optional GUARD_CONFIG file and environment
// overrides, in that order.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if path := strings.TrimSpace(os.Getenv("GUARD_CONFIG")); path != "" {
		if err := decodeConfigFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeConfigFile(path string, cfg *Config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("load config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString("GUARD_ADDR", &cfg.Addr)
	setString("GUARD_ALLOWLIST_PATH", &cfg.AllowlistPath)
	setString("GUARD_POLICY_PATH", &cfg.Rules.PolicyPath)
	setString("GUARD_PRE_GUARD", &cfg.PreGuard.Mode)
	setString("GUARD_REGO_PATH", &cfg.PreGuard.RegoPath)
	setString("GUARD_CLAUSE_BACKEND", &cfg.Clauses.Backend)
	setString("GUARD_CLAUSE_PATH", &cfg.Clauses.Path)
	setString("GUARD_AUDIT_FILE", &cfg.Audit.FilePath)
	setString("GUARD_REDIS_ADDR", &cfg.Audit.RedisAddr)
	setString("GUARD_REDIS_STREAM", &cfg.Audit.RedisStream)
	setString("GUARD_LLM_BASE_URL", &cfg.LLM.BaseURL)
	setString("FRIENDLI_MODEL", &cfg.LLM.Model)
	setString("GUARD_LLM_MODEL", &cfg.LLM.Model)
	setString("FRIENDLI_TOKEN", &cfg.LLM.Token)
	setString("GUARD_LLM_TOKEN", &cfg.LLM.Token)
	setString("GUARD_AUTHZ_MODE", &cfg.Authz.Mode)
	setString("GUARD_AUTHZ_MODEL_PATH", &cfg.Authz.ModelPath)
	setString("GUARD_AUTHZ_POLICY_PATH", &cfg.Authz.PolicyPath)

	if v := strings.TrimSpace(os.Getenv("GUARD_AUDIT_SINKS")); v != "" {
		cfg.Audit.Sinks = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("GUARD_LLM_MAX_RETRIES")); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("GUARD_LLM_MAX_RETRIES: %w", err)
		}
		cfg.LLM.MaxRetries = n
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(strings.ToLower(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c Config) Validate() error {
	var errs []error
	switch c.Clauses.Backend {
	case ClauseBackendMemory, ClauseBackendPostgres:
	case ClauseBackendFile:
		if c.Clauses.Path == "" {
			errs = append(errs, errors.New("config: clauses.path is required for the file backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown clauses.backend %q", c.Clauses.Backend))
	}

	if len(c.Audit.Sinks) == 0 {
		errs = append(errs, errors.New("config: audit.sinks must name at least one sink"))
	}
	for _, s := range c.Audit.Sinks {
		switch s {
		case AuditSinkMemory, AuditSinkFile, AuditSinkPostgres:
		case AuditSinkRedis:
			if c.Audit.RedisAddr == "" {
				errs = append(errs, errors.New("config: audit.redis_addr is required for the redis sink"))
			}
		default:
			errs = append(errs, fmt.Errorf("config: unknown audit sink %q", s))
		}
	}

	if !slices.Contains([]string{PreGuardLLM, PreGuardRego, PreGuardChain}, c.PreGuard.Mode) {
		errs = append(errs, fmt.Errorf("config: unknown pre_guard.mode %q", c.PreGuard.Mode))
	}
	return errors.Join(errs...)
}

// usesPostgres reports whether any configured component needs a pool.
func (c Config) usesPostgres() bool {
	return c.Clauses.Backend == ClauseBackendPostgres || slices.Contains(c.Audit.Sinks, AuditSinkPostgres)
}
