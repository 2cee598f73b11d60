// Package config handles configuration for the server component,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the termvault server.
//
// Fields:
//   - DatabaseDSN: PostgreSQL DSN (pgx). Leave empty to run on the embedded
//     in-memory SQLite engine with snapshot persistence.
//   - SnapshotPath: durable snapshot file for the SQLite engine.
//   - FlushQuietWindow: debounce window for coalescing durable flushes.
//   - SecretKey: HMAC secret for signing JWTs (HS256). Do not use test
//     defaults in prod.
//   - AccessTokenValidityDuration / RefreshTokenValidityDuration: token lifetimes.
//   - KeyIdleTimeout / KeySweepInterval: unlocked-key expiry policy.
//   - S3Bucket / S3Region / S3BaseEndpoint / S3RootUser / S3RootPassword:
//     optional off-site snapshot copies; disabled while S3Bucket is empty.
type Config struct {
	DatabaseDSN                  string
	SnapshotPath                 string
	FlushQuietWindow             time.Duration
	SecretKey                    string
	AccessTokenValidityDuration  time.Duration
	RefreshTokenValidityDuration time.Duration
	KeyIdleTimeout               time.Duration
	KeySweepInterval             time.Duration
	S3RootUser                   string
	S3RootPassword               string
	S3Bucket                     string
	S3Region                     string
	S3BaseEndpoint               string
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.DatabaseDSN = ""
	c.SnapshotPath = "./data/termvault.db"
	c.FlushQuietWindow = 2 * time.Second
	c.SecretKey = "secretKey"
	c.AccessTokenValidityDuration = 15 * time.Minute
	c.RefreshTokenValidityDuration = 24 * time.Hour
	c.KeyIdleTimeout = 30 * time.Minute
	c.KeySweepInterval = 1 * time.Minute
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = ""
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
