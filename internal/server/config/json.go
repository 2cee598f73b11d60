package config

import (
	"encoding/json"
	"os"

	"github.com/avolkovs/termvault/internal/flagx"
	"github.com/avolkovs/termvault/internal/timex"
)

// JsonConfig is the DTO for the optional JSON config file. Interval fields
// use timex.Duration so both "2s" and integer nanoseconds parse.
type JsonConfig struct {
	DatabaseDSN                  *string         `json:"database_dsn"`
	SnapshotPath                 *string         `json:"snapshot_path"`
	FlushQuietWindow             *timex.Duration `json:"flush_quiet_window"`
	SecretKey                    *string         `json:"secret_key"`
	AccessTokenValidityDuration  *timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration *timex.Duration `json:"refresh_token_validity_duration"`
	KeyIdleTimeout               *timex.Duration `json:"key_idle_timeout"`
	KeySweepInterval             *timex.Duration `json:"key_sweep_interval"`
	S3RootUser                   *string         `json:"s3_root_user"`
	S3RootPassword               *string         `json:"s3_root_password"`
	S3Bucket                     *string         `json:"s3_bucket"`
	S3Region                     *string         `json:"s3_region"`
	S3BaseEndpoint               *string         `json:"s3_base_endpoint"`
}

// parseJson overlays values from the JSON file named by -c/-config, if any.
// Absent fields keep their current (default) values. Unreadable or invalid
// files panic: a config file that exists but cannot be applied is a
// deployment error worth failing fast on.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.DatabaseDSN != nil {
		config.DatabaseDSN = *c.DatabaseDSN
	}
	if c.SnapshotPath != nil {
		config.SnapshotPath = *c.SnapshotPath
	}
	if c.FlushQuietWindow != nil {
		config.FlushQuietWindow = c.FlushQuietWindow.Duration
	}
	if c.SecretKey != nil {
		config.SecretKey = *c.SecretKey
	}
	if c.AccessTokenValidityDuration != nil {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.RefreshTokenValidityDuration != nil {
		config.RefreshTokenValidityDuration = c.RefreshTokenValidityDuration.Duration
	}
	if c.KeyIdleTimeout != nil {
		config.KeyIdleTimeout = c.KeyIdleTimeout.Duration
	}
	if c.KeySweepInterval != nil {
		config.KeySweepInterval = c.KeySweepInterval.Duration
	}
	if c.S3RootUser != nil {
		config.S3RootUser = *c.S3RootUser
	}
	if c.S3RootPassword != nil {
		config.S3RootPassword = *c.S3RootPassword
	}
	if c.S3Bucket != nil {
		config.S3Bucket = *c.S3Bucket
	}
	if c.S3Region != nil {
		config.S3Region = *c.S3Region
	}
	if c.S3BaseEndpoint != nil {
		config.S3BaseEndpoint = *c.S3BaseEndpoint
	}
}
