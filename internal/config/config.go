package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.unichat/config.toml.
type Config struct {
	DefaultSession string   `toml:"default_session"`
	API            API      `toml:"api"`
	Identity       Identity `toml:"identity"`
}

// API holds campus server connection settings.
type API struct {
	BaseURL   string `toml:"base_url"`
	StreamURL string `toml:"stream_url"` // derived from base_url when empty
	Token     string `toml:"token"`
}

// Identity is the local user as known to the server. The merge engine uses
// it to compute the "mine" flag on server-derived messages.
type Identity struct {
	UserID int64  `toml:"user_id"`
	Email  string `toml:"email"`
}

// StreamEndpoint returns the websocket URL for the chat stream. When
// stream_url is not set it is derived from base_url by swapping the
// scheme and appending the stream path.
func (c *Config) StreamEndpoint() string {
	if c.API.StreamURL != "" {
		return c.API.StreamURL
	}
	base := strings.TrimRight(c.API.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/chat"
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
