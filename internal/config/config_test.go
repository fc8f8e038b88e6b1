package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
database:
  path: data/test.db
logging:
  level: debug
mail:
  adminEmail: admin@ex.org
  smtp:
    host: smtp.ex.org
    port: 587
    from: digest@ex.org
digest:
  unsubscribeContact: admin@ex.org
sources:
  - id: mlit
    name: 国土交通省 調達情報
    organization: 国土交通省
    url: https://ex.org/mlit.xml
  - id: city
    name: 市の入札公告
    organization: テスト市
    url: https://ex.org/city/
    scanner: html
    timeout_sec: 10
    retries: 1
    options:
      item: tr.notice
      title: td.title
      link: a.detail
keyword_sets:
  - id: cloud
    name: クラウド案件
    required: ["クラウド", "構築"]
    boost: ["AWS"]
    exclude: ["保守のみ"]
    exclude_exceptions: ["再構築"]
  - id: quantum
    name: 量子案件
    enabled: false
    min_required_matches: 1
    top_n: 5
    required: ["量子"]
    boost: ["QPU"]
    exclude: ["セミナー"]
`

func writeConfig(t *testing.T, payload string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearEnvOverrides(t *testing.T) {
	t.Helper()
	for _, key := range []string{databasePathEnv, adminEmailEnv, smtpHostEnv, smtpPortEnv, smtpUserEnv, smtpPassEnv, smtpFromEnv, smtpStartTLSEnv, smtpUseSSLEnv} {
		t.Setenv(key, "")
	}
}

func TestLoadValidConfig(t *testing.T) {
	clearEnvOverrides(t)

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Database.Path != "data/test.db" {
		t.Fatalf("unexpected database path: %s", cfg.Database.Path)
	}
	if cfg.Retention.Days != 30 {
		t.Fatalf("default retention should be 30, got %d", cfg.Retention.Days)
	}
	if !cfg.Mail.SMTP.Configured() || !cfg.Mail.SMTP.StartTLS {
		t.Fatalf("smtp defaults wrong: %+v", cfg.Mail.SMTP)
	}

	if len(cfg.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(cfg.Sources))
	}
	first := cfg.Sources[0]
	if first.Scanner != "rss" || first.TimeoutSec != 20 || first.Retries != 2 || !first.Enabled {
		t.Fatalf("source defaults wrong: %+v", first)
	}

	if len(cfg.KeywordSets) != 2 {
		t.Fatalf("expected 2 keyword sets, got %d", len(cfg.KeywordSets))
	}
	cloud := cfg.KeywordSets[0]
	if cloud.MinRequiredMatches != 2 || cloud.TopN != 10 || !cloud.Enabled {
		t.Fatalf("keyword set defaults wrong: %+v", cloud)
	}
	if enabled := cfg.EnabledKeywordSets(); len(enabled) != 1 || enabled[0].ID != "cloud" {
		t.Fatalf("enabled sets wrong: %+v", enabled)
	}
}

func TestLoadRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		wantSub string
	}{
		{
			"duplicate source id",
			func(s string) string { return strings.Replace(s, "id: city", "id: mlit", 1) },
			"duplicate source id",
		},
		{
			"duplicate keyword set id",
			func(s string) string { return strings.Replace(s, "id: quantum", "id: cloud", 1) },
			"duplicate keyword set id",
		},
		{
			"duplicate normalized url",
			func(s string) string {
				return strings.Replace(s, "url: https://ex.org/city/", "url: https://EX.ORG/mlit.xml#frag", 1)
			},
			"normalizes to the same URL",
		},
		{
			"non-http url",
			func(s string) string { return strings.Replace(s, "https://ex.org/city/", "ftp://ex.org/city", 1) },
			"must be a valid http(s) URL",
		},
		{
			"empty required list",
			func(s string) string { return strings.Replace(s, `required: ["量子"]`, "required: []", 1) },
			"must be a non-empty list",
		},
		{
			"zero min matches",
			func(s string) string { return strings.Replace(s, "min_required_matches: 1", "min_required_matches: 0", 1) },
			"must be int >= 1",
		},
		{
			"zero top_n",
			func(s string) string { return strings.Replace(s, "top_n: 5", "top_n: 0", 1) },
			"must be int >= 1",
		},
		{
			"missing admin email",
			func(s string) string { return strings.Replace(s, "adminEmail: admin@ex.org", "adminEmail: \"\"", 1) },
			"adminEmail",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnvOverrides(t)

			_, err := Load(writeConfig(t, tc.mutate(validYAML)))
			if err == nil {
				t.Fatalf("expected rejection")
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %T: %v", err, err)
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q missing %q", err.Error(), tc.wantSub)
			}
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnvOverrides(t)
	t.Setenv(databasePathEnv, "/var/lib/bidmailer/app.db")
	t.Setenv(smtpHostEnv, "relay.ex.org")
	t.Setenv(smtpPortEnv, "465")
	t.Setenv(smtpUseSSLEnv, "true")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Path != "/var/lib/bidmailer/app.db" {
		t.Fatalf("db path override not applied: %s", cfg.Database.Path)
	}
	if cfg.Mail.SMTP.Host != "relay.ex.org" || cfg.Mail.SMTP.Port != 465 || !cfg.Mail.SMTP.UseSSL {
		t.Fatalf("smtp overrides not applied: %+v", cfg.Mail.SMTP)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
