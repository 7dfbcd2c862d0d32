package config

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Poll     PollConfig     `json:"poll"`
	Dispatch DispatchConfig `json:"dispatch"`
	Secret   SecretConfig   `json:"secret,omitempty"`
	Talkers  TalkersConfig  `json:"talkers"`
	Users    []UserConfig   `json:"users"`
	Servers  []ServerConfig `json:"servers"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./codetraq.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// PollConfig controls the server revision tracker.
//
// All durations are Go duration strings (e.g. "30s", "8m").
//
// Defaults (when fields are omitted/zero):
//   - interval: "8m"
//   - workers: 4
//   - tick_timeout: poll interval
//   - repos_dir: "./gitrepos"
type PollConfig struct {
	Interval    string `json:"interval,omitempty"`
	Workers     int    `json:"workers,omitempty"`
	TickTimeout string `json:"tick_timeout,omitempty"`
	ReposDir    string `json:"repos_dir,omitempty"`
}

// DispatchConfig controls the notification dispatcher.
//
// Defaults: interval "3m", rate_per_sec 10.
type DispatchConfig struct {
	Interval   string `json:"interval,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SecretConfig holds the passphrase used to decrypt "enc:" credential values
// in this file. Leave empty if all credentials are plaintext.
type SecretConfig struct {
	Passphrase string `json:"passphrase,omitempty"`
}

type TalkersConfig struct {
	Telegram *TelegramTalkerConfig `json:"telegram,omitempty"`
	Email    *EmailTalkerConfig    `json:"email,omitempty"`
}

type TelegramTalkerConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type EmailTalkerConfig struct {
	From     string `json:"from"`
	Password string `json:"password,omitempty"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	SSL      bool   `json:"ssl,omitempty"`
	StartTLS bool   `json:"starttls,omitempty"`
}

// UserConfig is one subscribed user and their delivery target.
type UserConfig struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Channel  string `json:"channel"` // "telegram" or "email"
	Handle   string `json:"handle"`  // chat id or email address
}

// ServerConfig is one monitored repository.
type ServerConfig struct {
	Owner    string `json:"owner"` // user id
	Name     string `json:"name"`  // short name, unique
	Address  string `json:"address"`
	Kind     string `json:"kind"` // "svn" or "git"
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // plaintext or "enc:<base64>"
	Branch   string `json:"branch,omitempty"`   // git only; defaults to HEAD
}
