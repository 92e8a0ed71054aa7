package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"teleosint/internal/config"
)

func writeConfig(t *testing.T, yamlBody string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

func TestLoadRequiresCredentials(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "seed_channels: [\"@foo\"]\n")
	if _, err := config.Load(path, ""); err == nil {
		t.Fatalf("Load() with no api_id/api_hash = nil error, want an error")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "api_id: 123\napi_hash: abc\n")
	cfg, err := config.Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ScoreThreshold != 1 {
		t.Fatalf("ScoreThreshold = %d, want default 1", cfg.ScoreThreshold)
	}
	if cfg.Session == "" {
		t.Fatalf("Session default was not applied")
	}
	if cfg.SQLitePath == "" {
		t.Fatalf("SQLitePath default was not applied")
	}
	if cfg.Discovery.Crawl.MaxDepth != 1 {
		t.Fatalf("Discovery.Crawl.MaxDepth = %d, want default 1", cfg.Discovery.Crawl.MaxDepth)
	}
	if len(cfg.Discovery.Crawl.AllowTypes) == 0 {
		t.Fatalf("Discovery.Crawl.AllowTypes default was not applied")
	}
	if len(cfg.Warnings()) == 0 {
		t.Fatalf("Warnings() = empty, want at least the session/sqlite_path defaulting notices")
	}
}

func TestLoadPreservesExplicitValues(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
api_id: 123
api_hash: abc
score_threshold: 5
discovery:
  crawl:
    max_depth: 3
`)
	cfg, err := config.Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ScoreThreshold != 5 {
		t.Fatalf("ScoreThreshold = %d, want 5 (explicit value must survive default application)", cfg.ScoreThreshold)
	}
	if cfg.Discovery.Crawl.MaxDepth != 3 {
		t.Fatalf("Discovery.Crawl.MaxDepth = %d, want 3", cfg.Discovery.Crawl.MaxDepth)
	}
}

func TestLoadDeepLEnvOverride(t *testing.T) {
	t.Setenv("DEEPL_API_KEY", "from-env")
	t.Setenv("DEEPL_API_URL", "https://example.invalid/translate")

	path := writeConfig(t, "api_id: 123\napi_hash: abc\n")
	cfg, err := config.Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Translation.DeepLAPIKey != "from-env" {
		t.Fatalf("Translation.DeepLAPIKey = %q, want %q", cfg.Translation.DeepLAPIKey, "from-env")
	}
	if cfg.Translation.DeepLAPIURL != "https://example.invalid/translate" {
		t.Fatalf("Translation.DeepLAPIURL = %q, want the env override", cfg.Translation.DeepLAPIURL)
	}
}

func TestLoadDeepLConfigValueWinsOverEnv(t *testing.T) {
	t.Setenv("DEEPL_API_KEY", "from-env")

	path := writeConfig(t, `
api_id: 123
api_hash: abc
translation:
  deepl_api_key: from-config
`)
	cfg, err := config.Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Translation.DeepLAPIKey != "from-config" {
		t.Fatalf("Translation.DeepLAPIKey = %q, want the non-empty config value to win over the env var", cfg.Translation.DeepLAPIKey)
	}
}

func TestLoadPreservesExplicitZeroWeight(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
api_id: 123
api_hash: abc
discovery:
  crawl:
    w_hit_rate: 0.0
`)
	cfg, err := config.Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Discovery.Crawl.WHitRate == nil || *cfg.Discovery.Crawl.WHitRate != 0 {
		t.Fatalf("Discovery.Crawl.WHitRate = %v, want an explicit 0.0 to survive default application", cfg.Discovery.Crawl.WHitRate)
	}
	if cfg.Discovery.Crawl.WDepth == nil || *cfg.Discovery.Crawl.WDepth != 0.3 {
		t.Fatalf("Discovery.Crawl.WDepth = %v, want the default 0.3 for an unset weight", cfg.Discovery.Crawl.WDepth)
	}
}

func TestConfigIsBlocked(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
api_id: 123
api_hash: abc
block_channels:
  - "@BadActor"
  - "  AnotherOne  "
`)
	cfg, err := config.Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cases := []struct {
		name string
		want bool
	}{
		{"badactor", true},
		{"@BadActor", true},
		{"anotherone", true},
		{"unrelated", false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := cfg.IsBlocked(tc.name); got != tc.want {
				t.Fatalf("IsBlocked(%q) = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}

func TestCompileUsernameBlockPatternsSkipsInvalid(t *testing.T) {
	t.Parallel()

	filters := config.DiscoveryFilters{
		UsernameBlockPatterns: []string{"^spam.*", "(unclosed", "bot$"},
	}
	patterns := filters.CompileUsernameBlockPatterns()
	if len(patterns) != 2 {
		t.Fatalf("CompileUsernameBlockPatterns() returned %d patterns, want 2 (the invalid one must be skipped)", len(patterns))
	}
}

func TestKeywordsFlattenOrder(t *testing.T) {
	t.Parallel()

	kws := config.Keywords{
		JA: []string{"ja1"},
		EN: []string{"en1"},
		ZH: []string{"zh1"},
		RU: []string{"ru1"},
		AR: []string{"ar1"},
	}
	want := []string{"ja1", "en1", "zh1", "ru1", "ar1"}
	got := kws.Flatten()
	if len(got) != len(want) {
		t.Fatalf("Flatten() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Flatten()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
