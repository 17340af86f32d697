package authreg

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/kwray/authreg/registry"
)

// Config defines a public type used by authreg APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Registry RegistryConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Token    TokenConfig
}

/*
====================================
REGISTRY CONFIG
====================================
*/

// RegistryConfig defines a public type used by authreg APIs.
//
// Snapshot is the one-time bulk load the registry is constructed from; the
// JSON field names inside it match the configuration object the surrounding
// service loads at startup ({"users": [...], "general_keys": [...]}).
// EnforceConnectionLimit turns the declared per-user MaxConnections cap
// into a hard login limit; it is off by default, matching deployments where
// the cap is advisory configuration only.
type RegistryConfig struct {
	Snapshot               registry.Snapshot
	EnforceConnectionLimit bool
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig defines a public type used by authreg APIs.
//
// When Enabled, successful logins can be exchanged for signed bearer tokens
// carrying the granted permission level. Revocation additionally requires a
// Redis client on the [Builder].
type TokenConfig struct {
	Enabled       bool
	TTL           time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
	RedisPrefix   string
}

// AuditConfig defines a public type used by authreg APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by authreg APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled bool
}

// ParseSnapshot decodes the JSON configuration object the external glue
// loads before constructing the registry:
//
//	{"users": [{"name": ..., "hash": ..., "perms": ..., "maxConnection": ..., "useAuthKey": ...}],
//	 "general_keys": [{"hash": ..., "perms": ...}]}
func ParseSnapshot(data []byte) (registry.Snapshot, error) {
	var snap registry.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return registry.Snapshot{}, err
	}
	return snap, nil
}

func defaultConfig() Config {
	return Config{
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Token: TokenConfig{
			Enabled:       false,
			TTL:           15 * time.Minute,
			SigningMethod: "hs256",
			RedisPrefix:   "ar",
		},
	}
}

// Validate checks the configuration for internally inconsistent or unusable
// values. It is called exactly once, by [Builder.Build].
func (c *Config) Validate() error {
	if c.Audit.Enabled && c.Audit.BufferSize < 0 {
		return errors.New("audit buffer size must not be negative")
	}

	if c.Token.Enabled {
		if c.Token.TTL <= 0 {
			return errors.New("token TTL must be positive")
		}
		if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
			return errors.New("invalid token leeway configuration")
		}
		switch c.Token.SigningMethod {
		case "hs256", "ed25519":
		default:
			return errors.New("unsupported token signing method")
		}
	}

	for _, u := range c.Registry.Snapshot.Users {
		if u.Name == "" {
			return errors.New("registry snapshot contains a user with an empty name")
		}
	}

	return nil
}

func cloneConfig(c Config) Config {
	out := c

	out.Registry.Snapshot.Users = append([]registry.User(nil), c.Registry.Snapshot.Users...)
	out.Registry.Snapshot.GeneralKeys = append([]registry.GeneralKey(nil), c.Registry.Snapshot.GeneralKeys...)
	out.Token.PrivateKey = cloneBytes(c.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(c.Token.PublicKey)

	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
