package authreg

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kwray/authreg/registry"
	"github.com/kwray/authreg/token"
)

// Builder defines a public type used by authreg APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	logger    zerolog.Logger
	loggerSet bool
	auditSink AuditSink

	built bool
}

// New describes the new operation and its observable behavior.
//
// New returns a [Builder] seeded with the default configuration. Configure
// it with the With* methods and finish with [Builder.Build].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the builder's configuration with a deep copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithSnapshot sets the static user/general-key load the registry is
// constructed from.
func (b *Builder) WithSnapshot(snap RegistrySnapshot) *Builder {
	b.config.Registry.Snapshot = snap
	return b
}

// WithRedis attaches a Redis client, enabling the token revocation store.
// The registry itself never touches Redis.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the structured logger used for warning and error
// entries. Without it the engine logs nothing.
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	b.loggerSet = true
	return b
}

// WithAuditSink sets the destination for audit events. Audit must also be
// enabled in the configuration.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build validates the configuration exactly once and assembles the Engine:
// registry snapshot load, audit dispatcher, metrics, and the optional
// token manager and revocation store. A builder can be used only once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine := &Engine{
		config: cfg,
		registry: registry.New(
			cfg.Registry.Snapshot,
			cfg.Registry.EnforceConnectionLimit,
		),
	}

	if b.loggerSet {
		engine.logger = b.logger
	} else {
		engine.logger = zerolog.Nop()
	}

	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	if cfg.Token.Enabled {
		tm, err := token.NewManager(token.Config{
			TTL:           cfg.Token.TTL,
			SigningMethod: token.SigningMethod(cfg.Token.SigningMethod),
			PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
			PublicKey:     cloneBytes(cfg.Token.PublicKey),
			Issuer:        cfg.Token.Issuer,
			Leeway:        cfg.Token.Leeway,
		})
		if err != nil {
			return nil, err
		}
		engine.tokens = tm

		if b.redis != nil {
			engine.revoked = token.NewStore(b.redis, cfg.Token.RedisPrefix)
		}
	}

	b.built = true

	return engine, nil
}
