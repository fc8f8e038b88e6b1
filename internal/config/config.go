// Package config loads and validates the YAML configuration. Validation is
// strict and fail-fast: the first rule violation aborts before any
// classification, and nothing is written to the ledger.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"BidMailer/internal/normalize"
)

const (
	configPathEnv   = "BIDMAILER_CONFIG"
	databasePathEnv = "DB_PATH"
	adminEmailEnv   = "ADMIN_EMAIL"
	smtpHostEnv     = "SMTP_HOST"
	smtpPortEnv     = "SMTP_PORT"
	smtpUserEnv     = "SMTP_USER"
	smtpPassEnv     = "SMTP_PASS"
	smtpFromEnv     = "SMTP_FROM"
	smtpStartTLSEnv = "SMTP_STARTTLS"
	smtpUseSSLEnv   = "SMTP_USE_SSL"

	defaultDatabasePath = "data/bidmailer.db"
	defaultTimeoutSec   = 20
	defaultRetries      = 2
	defaultMinRequired  = 2
	defaultTopN         = 10
	defaultRetention    = 30
)

// ValidationError reports a malformed configuration. It is fatal and
// raised before any run work starts.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %s", e.Reason)
	}
	return fmt.Sprintf("config: %s: %s", e.Path, e.Reason)
}

func invalid(path, format string, args ...any) error {
	return &ValidationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Config holds every setting required across the application.
type Config struct {
	Database    DatabaseConfig
	Logging     LoggingConfig
	Mail        MailConfig
	Digest      DigestConfig
	Retention   RetentionConfig
	Sources     []Source
	KeywordSets []KeywordSet
}

// DatabaseConfig describes the SQLite ledger location.
type DatabaseConfig struct {
	Path string
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string
}

// MailConfig wires the digest recipient and the SMTP relay.
type MailConfig struct {
	AdminEmail string
	SMTP       SMTPConfig
}

// SMTPConfig describes the outbound relay. User may be empty for
// unauthenticated relays.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	StartTLS bool
	UseSSL   bool
}

// Configured reports whether a relay is present; without one the pipeline
// can only run dry.
func (s SMTPConfig) Configured() bool {
	return s.Host != "" && s.Port != 0 && s.From != ""
}

// DigestConfig carries presentation details of the consolidated mail.
type DigestConfig struct {
	UnsubscribeContact string
}

// RetentionConfig bounds how long ledger history is kept.
type RetentionConfig struct {
	Days int
}

// Source describes a single feed endpoint with its scanner strategy.
type Source struct {
	ID           string
	Name         string
	Organization string
	URL          string
	Scanner      string
	Enabled      bool
	TimeoutSec   int
	Retries      int
	Options      map[string]string
}

// KeywordSet is a named rule profile used to classify items. Immutable
// per run.
type KeywordSet struct {
	ID                 string
	Name               string
	Enabled            bool
	MinRequiredMatches int
	Required           []string
	Boost              []string
	Exclude            []string
	ExcludeExceptions  []string
	TopN               int
}

type rawConfig struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Mail struct {
		AdminEmail string `yaml:"adminEmail"`
		SMTP       struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			From     string `yaml:"from"`
			StartTLS *bool  `yaml:"starttls"`
			UseSSL   *bool  `yaml:"useSsl"`
		} `yaml:"smtp"`
	} `yaml:"mail"`
	Digest struct {
		UnsubscribeContact string `yaml:"unsubscribeContact"`
	} `yaml:"digest"`
	Retention struct {
		Days *int `yaml:"days"`
	} `yaml:"retention"`
	Sources     []rawSource     `yaml:"sources"`
	KeywordSets []rawKeywordSet `yaml:"keyword_sets"`
}

type rawSource struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Organization string            `yaml:"organization"`
	URL          string            `yaml:"url"`
	Scanner      string            `yaml:"scanner"`
	Enabled      *bool             `yaml:"enabled"`
	TimeoutSec   *int              `yaml:"timeout_sec"`
	Retries      *int              `yaml:"retries"`
	Options      map[string]string `yaml:"options"`
}

type rawKeywordSet struct {
	ID                 string   `yaml:"id"`
	Name               string   `yaml:"name"`
	Enabled            *bool    `yaml:"enabled"`
	MinRequiredMatches *int     `yaml:"min_required_matches"`
	Required           []string `yaml:"required"`
	Boost              []string `yaml:"boost"`
	Exclude            []string `yaml:"exclude"`
	ExcludeExceptions  []string `yaml:"exclude_exceptions"`
	TopN               *int     `yaml:"top_n"`
}

// Path resolves the configuration file location from the environment.
func Path() string {
	return strings.TrimSpace(os.Getenv(configPathEnv))
}

// Load reads, parses, and validates the configuration file, then applies
// environment overrides for secrets and the database path.
func Load(path string) (Config, error) {
	raw, err := readFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Database:  DatabaseConfig{Path: firstNonEmpty(raw.Database.Path, defaultDatabasePath)},
		Logging:   LoggingConfig{Level: firstNonEmpty(raw.Logging.Level, "info")},
		Digest:    DigestConfig{UnsubscribeContact: strings.TrimSpace(raw.Digest.UnsubscribeContact)},
		Retention: RetentionConfig{Days: defaultRetention},
		Mail: MailConfig{
			AdminEmail: strings.TrimSpace(raw.Mail.AdminEmail),
			SMTP: SMTPConfig{
				Host:     strings.TrimSpace(raw.Mail.SMTP.Host),
				Port:     raw.Mail.SMTP.Port,
				User:     raw.Mail.SMTP.User,
				Password: raw.Mail.SMTP.Password,
				From:     strings.TrimSpace(raw.Mail.SMTP.From),
				StartTLS: boolOr(raw.Mail.SMTP.StartTLS, true),
				UseSSL:   boolOr(raw.Mail.SMTP.UseSSL, false),
			},
		},
	}
	if raw.Retention.Days != nil {
		if *raw.Retention.Days < 1 {
			return Config{}, invalid("retention.days", "must be int >= 1")
		}
		cfg.Retention.Days = *raw.Retention.Days
	}

	cfg.Sources, err = parseSources(raw.Sources)
	if err != nil {
		return Config{}, err
	}
	cfg.KeywordSets, err = parseKeywordSets(raw.KeywordSets)
	if err != nil {
		return Config{}, err
	}

	cfg.applyEnvOverrides()

	if cfg.Mail.AdminEmail == "" {
		return Config{}, invalid("mail.adminEmail", "is required")
	}
	return cfg, nil
}

func readFile(path string) (rawConfig, error) {
	var raw rawConfig
	if path == "" {
		return raw, &ValidationError{Reason: "config path is empty; set " + configPathEnv}
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return raw, &ValidationError{Reason: fmt.Sprintf("cannot read %s: %v", path, err)}
	}
	if err := yaml.Unmarshal(payload, &raw); err != nil {
		return raw, &ValidationError{Reason: fmt.Sprintf("cannot parse %s: %v", path, err)}
	}
	return raw, nil
}

func parseSources(raws []rawSource) ([]Source, error) {
	if len(raws) == 0 {
		return nil, invalid("sources", "must be a non-empty list")
	}

	seenIDs := map[string]struct{}{}
	seenURLs := map[string]string{}
	sources := make([]Source, 0, len(raws))
	for i, raw := range raws {
		path := fmt.Sprintf("sources[%d]", i)
		id := strings.TrimSpace(raw.ID)
		if id == "" {
			return nil, invalid(path+".id", "must be a non-empty string")
		}
		if _, dup := seenIDs[id]; dup {
			return nil, invalid(path+".id", "duplicate source id %q", id)
		}
		seenIDs[id] = struct{}{}

		name := strings.TrimSpace(raw.Name)
		if name == "" {
			return nil, invalid(path+".name", "must be a non-empty string")
		}
		org := strings.TrimSpace(raw.Organization)
		if org == "" {
			return nil, invalid(path+".organization", "must be a non-empty string")
		}

		rawURL := strings.TrimSpace(raw.URL)
		canonical, err := normalize.URL(rawURL)
		if err != nil {
			return nil, invalid(path+".url", "must be a valid http(s) URL: %v", err)
		}
		if prev, dup := seenURLs[canonical]; dup {
			return nil, invalid(path+".url", "normalizes to the same URL as source %q", prev)
		}
		seenURLs[canonical] = id

		scannerName := strings.TrimSpace(raw.Scanner)
		if scannerName == "" {
			scannerName = "rss"
		}

		timeoutSec := intOr(raw.TimeoutSec, defaultTimeoutSec)
		if timeoutSec < 1 {
			return nil, invalid(path+".timeout_sec", "must be int >= 1")
		}
		retries := intOr(raw.Retries, defaultRetries)
		if retries < 0 {
			return nil, invalid(path+".retries", "must be int >= 0")
		}

		sources = append(sources, Source{
			ID:           id,
			Name:         name,
			Organization: org,
			URL:          rawURL,
			Scanner:      scannerName,
			Enabled:      boolOr(raw.Enabled, true),
			TimeoutSec:   timeoutSec,
			Retries:      retries,
			Options:      raw.Options,
		})
	}
	return sources, nil
}

func parseKeywordSets(raws []rawKeywordSet) ([]KeywordSet, error) {
	if len(raws) == 0 {
		return nil, invalid("keyword_sets", "must be a non-empty list")
	}

	seenIDs := map[string]struct{}{}
	sets := make([]KeywordSet, 0, len(raws))
	for i, raw := range raws {
		path := fmt.Sprintf("keyword_sets[%d]", i)
		id := strings.TrimSpace(raw.ID)
		if id == "" {
			return nil, invalid(path+".id", "must be a non-empty string")
		}
		if _, dup := seenIDs[id]; dup {
			return nil, invalid(path+".id", "duplicate keyword set id %q", id)
		}
		seenIDs[id] = struct{}{}

		name := strings.TrimSpace(raw.Name)
		if name == "" {
			return nil, invalid(path+".name", "must be a non-empty string")
		}

		minRequired := intOr(raw.MinRequiredMatches, defaultMinRequired)
		if minRequired < 1 {
			return nil, invalid(path+".min_required_matches", "must be int >= 1")
		}
		topN := intOr(raw.TopN, defaultTopN)
		if topN < 1 {
			return nil, invalid(path+".top_n", "must be int >= 1")
		}

		required, err := keywordList(raw.Required, path+".required", true)
		if err != nil {
			return nil, err
		}
		boost, err := keywordList(raw.Boost, path+".boost", true)
		if err != nil {
			return nil, err
		}
		exclude, err := keywordList(raw.Exclude, path+".exclude", true)
		if err != nil {
			return nil, err
		}
		exceptions, err := keywordList(raw.ExcludeExceptions, path+".exclude_exceptions", false)
		if err != nil {
			return nil, err
		}

		sets = append(sets, KeywordSet{
			ID:                 id,
			Name:               name,
			Enabled:            boolOr(raw.Enabled, true),
			MinRequiredMatches: minRequired,
			Required:           required,
			Boost:              boost,
			Exclude:            exclude,
			ExcludeExceptions:  exceptions,
			TopN:               topN,
		})
	}
	return sets, nil
}

func keywordList(values []string, path string, required bool) ([]string, error) {
	if len(values) == 0 {
		if required {
			return nil, invalid(path, "must be a non-empty list of strings")
		}
		return nil, nil
	}
	out := make([]string, 0, len(values))
	for i, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil, invalid(fmt.Sprintf("%s[%d]", path, i), "must be a non-empty string")
		}
		out = append(out, trimmed)
	}
	return out, nil
}

func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv(databasePathEnv)); v != "" {
		c.Database.Path = v
	}
	if v := strings.TrimSpace(os.Getenv(adminEmailEnv)); v != "" {
		c.Mail.AdminEmail = v
	}
	if v := strings.TrimSpace(os.Getenv(smtpHostEnv)); v != "" {
		c.Mail.SMTP.Host = v
	}
	if v := strings.TrimSpace(os.Getenv(smtpPortEnv)); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Mail.SMTP.Port = port
		}
	}
	if v := os.Getenv(smtpUserEnv); v != "" {
		c.Mail.SMTP.User = v
	}
	if v := os.Getenv(smtpPassEnv); v != "" {
		c.Mail.SMTP.Password = v
	}
	if v := strings.TrimSpace(os.Getenv(smtpFromEnv)); v != "" {
		c.Mail.SMTP.From = v
	}
	if v := os.Getenv(smtpStartTLSEnv); v != "" {
		c.Mail.SMTP.StartTLS = parseBool(v)
	}
	if v := os.Getenv(smtpUseSSLEnv); v != "" {
		c.Mail.SMTP.UseSSL = parseBool(v)
	}
}

// EnabledKeywordSets returns the sets eligible for classification, in
// config order.
func (c Config) EnabledKeywordSets() []KeywordSet {
	sets := make([]KeywordSet, 0, len(c.KeywordSets))
	for _, set := range c.KeywordSets {
		if set.Enabled {
			sets = append(sets, set)
		}
	}
	return sets
}

// EnabledSources returns the sources to fetch this run, in config order.
func (c Config) EnabledSources() []Source {
	sources := make([]Source, 0, len(c.Sources))
	for _, src := range c.Sources {
		if src.Enabled {
			sources = append(sources, src)
		}
	}
	return sources
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
