package config

import (
	"fmt"
	"strings"

	"codetraq/internal/secret"
	"codetraq/internal/talker"
	"codetraq/internal/vcs"
)

// Validate checks cross-field consistency. It mutates nothing; call
// ApplyDefaults/DecryptSecrets separately.
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("config: at least one server is required")
	}

	users := make(map[string]UserConfig, len(c.Users))
	for i, u := range c.Users {
		if strings.TrimSpace(u.ID) == "" {
			return fmt.Errorf("users[%d]: id is required", i)
		}
		if _, dup := users[u.ID]; dup {
			return fmt.Errorf("users[%d]: duplicate user id %q", i, u.ID)
		}
		if _, err := talker.ParseKind(u.Channel); err != nil {
			return fmt.Errorf("users[%d] (%s): %w", i, u.ID, err)
		}
		if strings.TrimSpace(u.Handle) == "" {
			return fmt.Errorf("users[%d] (%s): handle is required", i, u.ID)
		}
		users[u.ID] = u
	}

	names := make(map[string]struct{}, len(c.Servers))
	addrs := make(map[string]struct{}, len(c.Servers))
	for i, s := range c.Servers {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("servers[%d]: name is required", i)
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("servers[%d]: duplicate server name %q", i, s.Name)
		}
		names[s.Name] = struct{}{}

		if strings.TrimSpace(s.Address) == "" {
			return fmt.Errorf("servers[%d] (%s): address is required", i, s.Name)
		}
		if _, dup := addrs[s.Address]; dup {
			return fmt.Errorf("servers[%d] (%s): duplicate server address %q", i, s.Name, s.Address)
		}
		addrs[s.Address] = struct{}{}

		if _, err := vcs.ParseKind(s.Kind); err != nil {
			return fmt.Errorf("servers[%d] (%s): %w", i, s.Name, err)
		}
		if _, ok := users[s.Owner]; !ok {
			return fmt.Errorf("servers[%d] (%s): owner %q does not match any user id", i, s.Name, s.Owner)
		}
	}

	// Every referenced channel must have a configured talker.
	for _, u := range c.Users {
		switch u.Channel {
		case talker.KindTelegram:
			if c.Talkers.Telegram == nil {
				return fmt.Errorf("user %q uses telegram but talkers.telegram is not configured", u.ID)
			}
		case talker.KindEmail:
			if c.Talkers.Email == nil {
				return fmt.Errorf("user %q uses email but talkers.email is not configured", u.ID)
			}
		}
	}

	return nil
}

// ApplyDefaults fills in omitted fields documented on the config types.
func (c *Config) ApplyDefaults() {
	if c.Storage.Path == "" {
		c.Storage.Path = "./codetraq.db"
	}
	if c.Poll.Workers <= 0 {
		c.Poll.Workers = 4
	}
	if c.Poll.ReposDir == "" {
		c.Poll.ReposDir = "./gitrepos"
	}
	if c.Dispatch.RatePerSec <= 0 {
		c.Dispatch.RatePerSec = 10
	}
	for i := range c.Servers {
		if kind, err := vcs.ParseKind(c.Servers[i].Kind); err == nil && kind == vcs.Git && c.Servers[i].Branch == "" {
			c.Servers[i].Branch = "HEAD"
		}
	}
}

// DecryptSecrets replaces "enc:" credential values in place using the
// configured passphrase. Plaintext values are left untouched.
func (c *Config) DecryptSecrets() error {
	pass := c.Secret.Passphrase
	for i := range c.Servers {
		s := &c.Servers[i]
		plain, err := secret.Decrypt(pass, s.Password)
		if err != nil {
			return fmt.Errorf("servers[%d] (%s): password: %w", i, s.Name, err)
		}
		s.Password = plain
	}
	if c.Talkers.Email != nil {
		plain, err := secret.Decrypt(pass, c.Talkers.Email.Password)
		if err != nil {
			return fmt.Errorf("talkers.email.password: %w", err)
		}
		c.Talkers.Email.Password = plain
	}
	if c.Talkers.Telegram != nil {
		plain, err := secret.Decrypt(pass, c.Talkers.Telegram.Token)
		if err != nil {
			return fmt.Errorf("talkers.telegram.token: %w", err)
		}
		c.Talkers.Telegram.Token = plain
	}
	return nil
}

// UserByID returns the user with the given id.
func (c *Config) UserByID(id string) (UserConfig, bool) {
	for _, u := range c.Users {
		if u.ID == id {
			return u, true
		}
	}
	return UserConfig{}, false
}
