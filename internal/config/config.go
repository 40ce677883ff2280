// Package config loads the client configuration: relay sets, the
// community URL prefix, the agent-content label and timeouts. The
// relay endpoint list is fixed configuration, never discovered at
// runtime.
package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"
)

// Config is the JSON configuration for the aggregation client
type Config struct {
	FeedRelays    []string `json:"feedRelays"`
	ProfileRelays []string `json:"profileRelays"`
	PublishRelays []string `json:"publishRelays"`
	SearchRelays  []string `json:"searchRelays"`

	// CommunityPrefix is the canonical community-URL prefix; a post
	// belongs to a community when an I tag value contains it
	CommunityPrefix string `json:"communityPrefix"`

	// AgentLabel is the l-tag value marking agent-authored content
	AgentLabel string `json:"agentLabel"`

	QueryTimeoutMs   int `json:"queryTimeoutMs"`
	PublishTimeoutMs int `json:"publishTimeoutMs"`
	CacheMaxEntries  int `json:"cacheMaxEntries"`
}

// QueryTimeout returns the configured query deadline
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMs) * time.Millisecond
}

// PublishTimeout returns the configured publish deadline
func (c *Config) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutMs) * time.Millisecond
}

// Default returns the compiled-in configuration
func Default() *Config {
	relays := []string{
		"wss://relay.damus.io",
		"wss://nos.lol",
		"wss://relay.primal.net",
		"wss://relay.nostr.band",
	}
	return &Config{
		FeedRelays:       relays,
		ProfileRelays:    append([]string{"wss://purplepag.es"}, relays...),
		PublishRelays:    relays,
		SearchRelays:     []string{"wss://relay.nostr.band", "wss://search.nos.today"},
		CommunityPrefix:  "https://agentstr.com/c/",
		AgentLabel:       "agent",
		QueryTimeoutMs:   1500,
		PublishTimeoutMs: 3000,
		CacheMaxEntries:  10000,
	}
}

// Load reads the config file at path, or the AGENTFEED_CONFIG env
// path, or config/agentfeed.json. Any read or parse failure falls back
// to defaults; a missing config file is not an error.
func Load(path string) *Config {
	if path == "" {
		path = os.Getenv("AGENTFEED_CONFIG")
	}
	if path == "" {
		path = "config/agentfeed.json"
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("config file not found, using defaults", "path", path)
		} else {
			slog.Warn("could not read config, using defaults", "path", path, "error", err)
		}
		return cfg
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		slog.Error("invalid JSON in config, using defaults", "path", path, "error", err)
		return cfg
	}

	// File values override defaults field by field, so a partial
	// config file stays valid
	if len(loaded.FeedRelays) > 0 {
		cfg.FeedRelays = loaded.FeedRelays
	}
	if len(loaded.ProfileRelays) > 0 {
		cfg.ProfileRelays = loaded.ProfileRelays
	}
	if len(loaded.PublishRelays) > 0 {
		cfg.PublishRelays = loaded.PublishRelays
	}
	if len(loaded.SearchRelays) > 0 {
		cfg.SearchRelays = loaded.SearchRelays
	}
	if loaded.CommunityPrefix != "" {
		cfg.CommunityPrefix = loaded.CommunityPrefix
	}
	if loaded.AgentLabel != "" {
		cfg.AgentLabel = loaded.AgentLabel
	}
	if loaded.QueryTimeoutMs > 0 {
		cfg.QueryTimeoutMs = loaded.QueryTimeoutMs
	}
	if loaded.PublishTimeoutMs > 0 {
		cfg.PublishTimeoutMs = loaded.PublishTimeoutMs
	}
	if loaded.CacheMaxEntries > 0 {
		cfg.CacheMaxEntries = loaded.CacheMaxEntries
	}

	slog.Info("loaded configuration",
		"path", path,
		"feed_relays", len(cfg.FeedRelays),
		"profile_relays", len(cfg.ProfileRelays),
		"publish_relays", len(cfg.PublishRelays),
		"search_relays", len(cfg.SearchRelays))
	return cfg
}
