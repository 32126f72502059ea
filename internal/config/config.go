// Package config handles loading and validating the application
// configuration from a JSON config file: database connection details,
// the filesystem queue root, the PLC directory and chain RPC
// endpoints, the gateway contract address and ABI, and an admin key
// for the operator API.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
)

// Config holds all application configuration, loaded once at startup.
type Config struct {
	// DBConn is the PostgreSQL host:port (e.g., "relaybridge-postgres:5432").
	DBConn string `json:"dbConn"`
	DBName string `json:"dbName"`
	DBUser string `json:"dbUser"`
	DBPass string `json:"dbPass"`

	// AdminListenAddr is the operator HTTP API's listen address.
	AdminListenAddr string `json:"adminListenAddr"`

	// AdminKey authenticates operator API calls, sent as
	// "Authorization: Bearer <adminKey>".
	AdminKey string `json:"adminKey"`

	// QueueRoot is the root directory of the filesystem work queue
	// (one subdirectory per status).
	QueueRoot string `json:"queueRoot"`

	// CacheDir caches fetched DID documents and PLC audit logs.
	CacheDir string `json:"cacheDir"`

	// PLCDirectory is the PLC directory base URL, e.g. "https://plc.directory".
	PLCDirectory string `json:"plcDirectory"`

	// ChainRPCURL is the Ethereum JSON-RPC endpoint used to submit
	// proof payloads and poll subscription events.
	ChainRPCURL string `json:"chainRpcUrl"`
	ChainID     int64  `json:"chainId"`

	// GatewayAddress is the on-chain gateway contract address.
	GatewayAddress string `json:"gatewayAddress"`
	// GatewayABIPath points at the gateway contract's ABI JSON file.
	GatewayABIPath string `json:"gatewayAbiPath"`

	// SubmitterKeyHex is the hex-encoded private key used to sign and
	// submit gateway transactions.
	SubmitterKeyHex string `json:"submitterKeyHex"`

	// BotConfigPath points at the bot-handle configuration file.
	BotConfigPath string `json:"botConfigPath"`

	// SocialHost is the base URL of the PDS this system authenticates
	// against to post replies and fetch post CARs.
	SocialHost      string `json:"socialHost"`
	SocialAccessJWT string `json:"socialAccessJwt"`
	SocialDID       string `json:"socialDid"`

	// PayGatewayURL, if set, enables the payment-prompt bot's
	// reply-instead-of-transaction behavior, resolving a mentioned DID
	// to a wallet address via GET <PayGatewayURL>?did=<did>. Left empty,
	// every mention proceeds straight to the transaction stage.
	PayGatewayURL string `json:"payGatewayUrl"`
}

// Load reads and parses configuration from path, applying defaults and
// validating required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.AdminListenAddr == "" {
		cfg.AdminListenAddr = ":3000"
	}
	if cfg.QueueRoot == "" {
		cfg.QueueRoot = "./queue"
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = "./cache"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DBConn == "":
		return fmt.Errorf("config: dbConn is required")
	case c.DBName == "":
		return fmt.Errorf("config: dbName is required")
	case c.DBUser == "":
		return fmt.Errorf("config: dbUser is required")
	case c.DBPass == "":
		return fmt.Errorf("config: dbPass is required")
	case c.AdminKey == "":
		return fmt.Errorf("config: adminKey is required")
	case c.PLCDirectory == "":
		return fmt.Errorf("config: plcDirectory is required")
	case c.ChainRPCURL == "":
		return fmt.Errorf("config: chainRpcUrl is required")
	case c.GatewayAddress == "":
		return fmt.Errorf("config: gatewayAddress is required")
	}
	return nil
}

// ConnString builds a PostgreSQL connection URI from the config fields.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		url.QueryEscape(c.DBUser),
		url.QueryEscape(c.DBPass),
		c.DBConn,
		url.QueryEscape(c.DBName),
	)
}
