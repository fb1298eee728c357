// Package config loads and validates outpost's client and server
// configuration (SPEC_FULL.md §6). It follows the teacher's own
// viper.SetDefault/viper.Get* idiom (cmd/gpstracker/gpstracker.go) but
// wraps it in typed structs validated with go-playground/validator so
// unknown keys and bad values fail fast at startup instead of surfacing as
// a confusing runtime error later.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ClientConfig is the options table of SPEC_FULL.md §6 ("Client
// configuration").
type ClientConfig struct {
	Device              string  `mapstructure:"device" validate:"required"`
	Baud                int     `mapstructure:"baud" validate:"oneof=4800 38400"`
	OutpostHost         string  `mapstructure:"outpost_host" validate:"required,hostname_port"`
	PSKPath             string  `mapstructure:"psk_path" validate:"required"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" validate:"gt=0"`
}

// ServerConfig is the options table of SPEC_FULL.md §6 ("Server
// configuration").
type ServerConfig struct {
	BindAddr  string `mapstructure:"bind_addr" validate:"required"`
	BindPort  int    `mapstructure:"bind_port" validate:"required,gt=0,lte=65535"`
	PSKPath   string `mapstructure:"psk_path" validate:"required"`
	SinkDSN   string `mapstructure:"sink_dsn" validate:"required"`
	AdminAddr string `mapstructure:"admin_addr" validate:"required"`
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		Device:              "/dev/ttyGPS0",
		Baud:                38400,
		SimilarityThreshold: 0.0001,
	}
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		BindAddr:  "0.0.0.0",
		BindPort:  5683,
		AdminAddr: ":8090",
	}
}

// LoadClient reads a client config from path (if non-empty) layered with
// OUTPOST_* environment overrides, validates it, and rejects unknown keys.
func LoadClient(path string) (ClientConfig, error) {
	cfg := defaultClientConfig()
	v := newViper(path, clientKeys)

	if err := v.Unmarshal(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("config: decoding client config: %w", err)
	}
	if err := rejectUnknownKeys(v, clientKeys); err != nil {
		return ClientConfig{}, err
	}
	if err := validate.Struct(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("config: invalid client config: %w", err)
	}
	return cfg, nil
}

// LoadServer reads a server config the same way LoadClient does.
func LoadServer(path string) (ServerConfig, error) {
	cfg := defaultServerConfig()
	v := newViper(path, serverKeys)

	if err := v.Unmarshal(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("config: decoding server config: %w", err)
	}
	if err := rejectUnknownKeys(v, serverKeys); err != nil {
		return ServerConfig{}, err
	}
	if err := validate.Struct(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("config: invalid server config: %w", err)
	}
	return cfg, nil
}

var validate = validator.New()

var clientKeys = map[string]bool{
	"device": true, "baud": true, "outpost_host": true, "psk_path": true, "similarity_threshold": true,
}

var serverKeys = map[string]bool{
	"bind_addr": true, "bind_port": true, "psk_path": true, "sink_dsn": true, "admin_addr": true,
}

func newViper(path string, keys map[string]bool) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("OUTPOST")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// Unmarshal only sees keys viper already knows, so every option is
	// bound explicitly; otherwise OUTPOST_* could not set an option the
	// config file leaves out.
	for key := range keys {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		// A missing file is not fatal here — startup falls back to
		// defaults plus environment overrides, matching the teacher's
		// own tolerance for a missing config in cmd/gpstracker.
		_ = v.ReadInConfig()
	}

	return v
}

// rejectUnknownKeys enforces SPEC_FULL.md §6's "unknown keys are rejected
// at startup" rule, which viper's own Unmarshal does not do by default.
func rejectUnknownKeys(v *viper.Viper, known map[string]bool) error {
	for _, key := range v.AllKeys() {
		if !known[key] {
			return fmt.Errorf("config: unknown option %q", key)
		}
	}
	return nil
}
