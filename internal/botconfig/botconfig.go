// Package botconfig loads the mapping from mentioned bot handle to its
// behavior configuration: which content parser it expects, and whether
// it requires reply-parent content to be bundled into a post's proof
// payload.
package botconfig

import (
	"encoding/json"
	"fmt"
	"os"
)

// Metadata holds per-bot behavior flags.
type Metadata struct {
	Reply bool `json:"reply"`
}

// Bot is one entry in the configuration file.
type Bot struct {
	Parser   string   `json:"parser"`
	Metadata Metadata `json:"metadata"`
}

// Config maps a bot handle (without the leading @) to its Bot entry.
type Config map[string]Bot

// Load reads a bot configuration file, keyed by handle.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("botconfig: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("botconfig: decode %s: %w", path, err)
	}
	return cfg, nil
}

// RequiresReply implements postproof.ReplyPolicy: it reports whether
// botName's configuration declares reply: true. An unknown bot name
// never requires a reply.
func (c Config) RequiresReply(botName string) bool {
	bot, ok := c[botName]
	if !ok {
		return false
	}
	return bot.Metadata.Reply
}

// Parser returns the declared parser name for botName, if configured.
func (c Config) Parser(botName string) (string, bool) {
	bot, ok := c[botName]
	if !ok {
		return "", false
	}
	return bot.Parser, true
}

// Known reports whether botName appears in the configuration at all.
func (c Config) Known(botName string) bool {
	_, ok := c[botName]
	return ok
}
