package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "cachegpt.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return cfgPath
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Embedding.Dimension != 1536 {
		t.Errorf("expected default dimension 1536, got %d", cfg.Embedding.Dimension)
	}
	if cfg.Cache.SimilarityThreshold != 0.85 {
		t.Errorf("expected default threshold 0.85, got %f", cfg.Cache.SimilarityThreshold)
	}
	if cfg.Cache.Retention != 30*24*time.Hour {
		t.Errorf("expected 30 day retention, got %s", cfg.Cache.Retention)
	}
	if !cfg.Flags.Defaults["semantic_cache"] {
		t.Error("expected semantic_cache enabled by default")
	}
	if cfg.Flags.Defaults["predictive_prewarming"] {
		t.Error("expected predictive_prewarming disabled by default")
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Error("expected error for invalid port")
	}
}

func TestValidate_InvalidThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.SimilarityThreshold = 1.5
	if err := Validate(cfg); err == nil {
		t.Error("expected error for threshold > 1")
	}

	cfg.Cache.SimilarityThreshold = -0.1
	if err := Validate(cfg); err == nil {
		t.Error("expected error for negative threshold")
	}
}

func TestValidate_HighConfidenceBelowThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.HighConfidence = 0.5
	if err := Validate(cfg); err == nil {
		t.Error("expected error for high_confidence below similarity_threshold")
	}
}

func TestValidate_RankingThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ranking.WarmThreshold = 0.9
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "ranking:") {
		t.Errorf("expected ranking error, got %v", err)
	}
}

func TestValidate_InvalidStoreDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Driver = "postgres"
	if err := Validate(cfg); err == nil {
		t.Error("expected error for unsupported driver")
	}

	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = ""
	if err := Validate(cfg); err == nil {
		t.Error("expected error for sqlite without path")
	}
}

func TestValidate_RedisFlagsNeedURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Flags.Backend = "redis"
	cfg.Flags.Redis.URL = ""
	if err := Validate(cfg); err == nil {
		t.Error("expected error for redis backend without url")
	}
}

func TestValidate_InvalidLocation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Predict.Location = "Mars/Olympus_Mons"
	if err := Validate(cfg); err == nil {
		t.Error("expected error for unknown location")
	}
}

func TestValidate_NegativeTokenPrice(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Anthropic.TokenPrice = -0.1
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "llm.anthropic.token_price") {
		t.Errorf("expected token_price error, got %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = -1
	cfg.Embedding.Dimension = 0
	cfg.Logging.Format = "xml"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected multiple validation errors")
	}
	for _, field := range []string{"server.port", "embedding.dimension", "logging.format"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error should mention %s: %v", field, err)
		}
	}
}

func TestInterpolateEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "hello")

	tests := []struct {
		input    string
		expected string
	}{
		{"${TEST_VAR}", "hello"},
		{"prefix-${TEST_VAR}-suffix", "prefix-hello-suffix"},
		{"${NONEXISTENT_VAR:-fallback}", "fallback"},
		{"${NONEXISTENT_VAR}", "${NONEXISTENT_VAR}"},
		{"no-vars-here", "no-vars-here"},
		{"${TEST_VAR:-default}", "hello"}, // env var exists, ignore default
	}

	for _, tt := range tests {
		result := InterpolateEnv(tt.input)
		if result != tt.expected {
			t.Errorf("InterpolateEnv(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	cfgPath := writeConfig(t, `
server:
  port: 9090
  host: 127.0.0.1

embedding:
  provider: local
  dimension: 256

cache:
  similarity_threshold: 0.9
  retention: 240h

predict:
  budget: 30s
  location: UTC

store:
  driver: memory

flags:
  defaults:
    predictive_prewarming: true
`)

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Embedding.Provider != "local" {
		t.Errorf("expected provider local, got %s", cfg.Embedding.Provider)
	}
	if cfg.Cache.Dimension != 256 {
		t.Errorf("expected cache dimension to follow embedding.dimension, got %d", cfg.Cache.Dimension)
	}
	if cfg.Cache.SimilarityThreshold != 0.9 {
		t.Errorf("expected threshold 0.9, got %f", cfg.Cache.SimilarityThreshold)
	}
	if cfg.Cache.Retention != 240*time.Hour {
		t.Errorf("expected retention 240h, got %s", cfg.Cache.Retention)
	}
	if cfg.Predict.Budget != 30*time.Second {
		t.Errorf("expected budget 30s, got %s", cfg.Predict.Budget)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("expected memory driver, got %s", cfg.Store.Driver)
	}
	if !cfg.Flags.Defaults["predictive_prewarming"] {
		t.Error("expected predictive_prewarming enabled")
	}
	if !cfg.Flags.Defaults["semantic_cache"] {
		t.Error("expected semantic_cache default kept")
	}
}

func TestLoadFromFile_WithEnvInterpolation(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test-123")

	cfgPath := writeConfig(t, `
llm:
  openai:
    api_key: ${TEST_OPENAI_KEY}
  anthropic:
    api_key: ${TEST_MISSING_ANTHROPIC_KEY}
store:
  path: ${TEST_DB_DIR:-/var/lib/cachegpt}/cache.db
`)

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.LLM.OpenAI.APIKey != "sk-test-123" {
		t.Errorf("expected interpolated API key, got %s", cfg.LLM.OpenAI.APIKey)
	}
	if cfg.LLM.Anthropic.APIKey != "" {
		t.Errorf("expected unresolved key to be dropped, got %s", cfg.LLM.Anthropic.APIKey)
	}
	if cfg.Store.Path != "/var/lib/cachegpt/cache.db" {
		t.Errorf("expected default path, got %s", cfg.Store.Path)
	}
}

func TestLoadFromFile_InvalidFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/cachegpt.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, "{{invalid yaml"))
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadFromFile_InvalidValues(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, `
server:
  port: 99999
cache:
  similarity_threshold: 5.0
`))
	if err == nil {
		t.Error("expected validation error")
	}
}

func TestLoadFromFile_DefaultsPreserved(t *testing.T) {
	// Partial config should preserve defaults for unset fields
	cfg, err := LoadFromFile(writeConfig(t, `
server:
  port: 3000
`))
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("expected port 3000, got %d", cfg.Server.Port)
	}
	if cfg.Cache.SimilarityThreshold != 0.85 {
		t.Errorf("expected default threshold 0.85, got %f", cfg.Cache.SimilarityThreshold)
	}
	if cfg.Ranking.HalfLife != 7*24*time.Hour {
		t.Errorf("expected default half life, got %s", cfg.Ranking.HalfLife)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("expected default model, got %s", cfg.Embedding.Model)
	}
}

func TestGenerateTemplate(t *testing.T) {
	tmpl := GenerateTemplate()

	// Verify key sections exist
	required := []string{
		"server:", "embedding:", "dimension:",
		"cache:", "similarity_threshold:", "retention:",
		"ranking:", "half_life:",
		"predict:", "budget:",
		"scheduler:", "store:", "flags:", "llm:",
		"logging:", "telemetry:",
	}

	for _, s := range required {
		if !strings.Contains(tmpl, s) {
			t.Errorf("template missing %q", s)
		}
	}
}

func TestGenerateTemplate_Loads(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, GenerateTemplate()))
	if err != nil {
		t.Fatalf("template should load cleanly: %v", err)
	}
	if cfg.Scheduler.RebalanceInterval != time.Hour {
		t.Errorf("expected 1h rebalance interval, got %s", cfg.Scheduler.RebalanceInterval)
	}
	if cfg.Flags.Redis.KeyPrefix != "cachegpt:flags:" {
		t.Errorf("unexpected key prefix %q", cfg.Flags.Redis.KeyPrefix)
	}
}
