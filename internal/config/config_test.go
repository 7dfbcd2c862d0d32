package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./traq.db
poll:
  interval: 8m
  workers: 2
dispatch:
  interval: 3m
talkers:
  telegram:
    token: "123:abc"
users:
  - id: alice
    nickname: Alice
    channel: telegram
    handle: "99887766"
servers:
  - owner: alice
    name: core
    address: https://svn.example.org/core
    kind: svn
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "traq.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q", cfg.Logging.Level)
	}
	if cfg.Poll.Interval != "8m" || cfg.Poll.Workers != 2 {
		t.Errorf("poll = %+v", cfg.Poll)
	}
	if len(cfg.Servers) != 1 || cfg.Servers[0].Name != "core" {
		t.Fatalf("servers = %+v", cfg.Servers)
	}
	if got := m.Get(); got != cfg {
		t.Error("Get should return the committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	body := strings.Replace(sampleYAML, "poll:", "polll:", 1)
	m := NewManager(writeConfig(t, "traq.yaml", body))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{
			Talkers: TalkersConfig{Telegram: &TelegramTalkerConfig{Token: "t"}},
			Users: []UserConfig{
				{ID: "alice", Channel: "telegram", Handle: "1"},
			},
			Servers: []ServerConfig{
				{Owner: "alice", Name: "core", Address: "https://svn.example.org/core", Kind: "svn"},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{
			name:    "no servers",
			mutate:  func(c *Config) { c.Servers = nil },
			wantErr: "at least one server",
		},
		{
			name: "duplicate server name",
			mutate: func(c *Config) {
				c.Servers = append(c.Servers, ServerConfig{
					Owner: "alice", Name: "core", Address: "https://other.example.org", Kind: "git",
				})
			},
			wantErr: "duplicate server name",
		},
		{
			name:    "bad kind",
			mutate:  func(c *Config) { c.Servers[0].Kind = "cvs" },
			wantErr: "unknown vcs kind",
		},
		{
			name:    "unknown owner",
			mutate:  func(c *Config) { c.Servers[0].Owner = "bob" },
			wantErr: "owner",
		},
		{
			name:    "bad channel",
			mutate:  func(c *Config) { c.Users[0].Channel = "pager" },
			wantErr: "unknown notification channel",
		},
		{
			name:    "channel without talker",
			mutate:  func(c *Config) { c.Talkers.Telegram = nil },
			wantErr: "talkers.telegram is not configured",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Servers: []ServerConfig{
			{Name: "app", Kind: "git", Address: "https://git.example.org/app.git"},
			{Name: "lib", Kind: "svn", Address: "https://svn.example.org/lib"},
		},
	}
	cfg.ApplyDefaults()

	if cfg.Poll.Workers != 4 || cfg.Poll.ReposDir != "./gitrepos" {
		t.Errorf("poll defaults = %+v", cfg.Poll)
	}
	if cfg.Dispatch.RatePerSec != 10 {
		t.Errorf("dispatch defaults = %+v", cfg.Dispatch)
	}
	if cfg.Servers[0].Branch != "HEAD" {
		t.Errorf("git branch default = %q", cfg.Servers[0].Branch)
	}
	if cfg.Servers[1].Branch != "" {
		t.Errorf("svn server should not get a branch: %q", cfg.Servers[1].Branch)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationOrDefault("poll.interval", "", 8*time.Minute)
	if err != nil || d != 8*time.Minute {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("poll.interval", "90s", 8*time.Minute)
	if err != nil || d != 90*time.Second {
		t.Fatalf("explicit: got %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("poll.interval", "fast", time.Minute); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDecryptSecretsPassthrough(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Servers: []ServerConfig{{Name: "core", Password: "plain"}},
		Talkers: TalkersConfig{Email: &EmailTalkerConfig{Password: "mailpass"}},
	}
	if err := cfg.DecryptSecrets(); err != nil {
		t.Fatalf("DecryptSecrets: %v", err)
	}
	if cfg.Servers[0].Password != "plain" || cfg.Talkers.Email.Password != "mailpass" {
		t.Errorf("plaintext credentials must pass through unchanged: %+v", cfg)
	}
}
