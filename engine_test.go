package authreg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kwray/authreg/registry"
)

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Registry.Snapshot = RegistrySnapshot{
		Users: []User{
			{Name: "admin", Hash: "H1", Perms: 10, MaxConnections: 2},
		},
		GeneralKeys: []GeneralKey{
			{Hash: "K1", Perms: 5},
		},
	}
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 16
	cfg.Audit.DropIfFull = false
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *ChannelSink) {
	t.Helper()

	sink := NewChannelSink(32)
	engine, err := New().
		WithConfig(cfg).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, sink
}

func newTestRedis(t *testing.T) redis.UniversalClient {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return rdb
}

func nextEvent(t *testing.T, sink *ChannelSink) AuditEvent {
	t.Helper()

	select {
	case event := <-sink.Events():
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit event")
		return AuditEvent{}
	}
}

func TestEngineLoginEmitsAuditAndMetrics(t *testing.T) {
	engine, sink := newTestEngine(t, testConfig())
	ctx := WithClientIP(context.Background(), "203.0.113.7")

	grant, err := engine.Login(ctx, "H1", "admin")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if grant.Perms != 10 {
		t.Fatalf("expected perms 10, got %d", grant.Perms)
	}

	event := nextEvent(t, sink)
	if event.EventType != "login_success" || !event.Success {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Name != "admin" || event.IP != "203.0.113.7" {
		t.Fatalf("event missing identity context: %+v", event)
	}
	if event.EventID == "" {
		t.Fatal("event missing ID")
	}
	if event.Severity != SeverityInfo {
		t.Fatalf("expected info severity, got %q", event.Severity)
	}

	if _, err := engine.Login(ctx, "wrong", "admin"); !errors.Is(err, registry.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	event = nextEvent(t, sink)
	if event.EventType != "login_failure" || event.Severity != SeverityError {
		t.Fatalf("unexpected failure event: %+v", event)
	}
	if event.Error != "invalid_credentials" {
		t.Fatalf("unexpected error code: %q", event.Error)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricLoginSuccess] != 1 || snap.Counters[MetricLoginFailure] != 1 {
		t.Fatalf("unexpected counters: %+v", snap.Counters)
	}
}

func TestEngineKeyLoginHasNoConnectionSideEffects(t *testing.T) {
	engine, sink := newTestEngine(t, testConfig())
	ctx := context.Background()

	grant, err := engine.Login(ctx, "K1", "")
	if err != nil || grant.Perms != 5 {
		t.Fatalf("key login: perms=%d err=%v", grant.Perms, err)
	}
	if event := nextEvent(t, sink); event.EventType != "key_login_success" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if n, _ := engine.Connections("admin"); n != 0 {
		t.Fatalf("key login mutated connections: %d", n)
	}

	if err := engine.Logout(ctx, "K1", ""); err != nil {
		t.Fatalf("anonymous logout must succeed, got %v", err)
	}
}

func TestEngineLogoutFloor(t *testing.T) {
	engine, sink := newTestEngine(t, testConfig())
	ctx := context.Background()

	if _, err := engine.Login(ctx, "H1", "admin"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	nextEvent(t, sink)

	if err := engine.Logout(ctx, "H1", "admin"); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	nextEvent(t, sink)

	if err := engine.Logout(ctx, "H1", "admin"); !errors.Is(err, registry.ErrNoActiveConnections) {
		t.Fatalf("expected ErrNoActiveConnections, got %v", err)
	}
	event := nextEvent(t, sink)
	if event.Error != "no_active_connections" || event.Severity != SeverityError {
		t.Fatalf("unexpected event: %+v", event)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricLogoutNoConnections] != 1 {
		t.Fatalf("expected floor metric, got %+v", snap.Counters)
	}
}

func TestEngineOverwriteIsWarningNotFailure(t *testing.T) {
	engine, sink := newTestEngine(t, testConfig())
	ctx := context.Background()

	if replaced := engine.PutUser(ctx, User{Name: "fresh", Hash: "HF", Perms: 1}); replaced {
		t.Fatal("insert of new user reported as replacement")
	}
	replaced := engine.PutUser(ctx, User{Name: "admin", Hash: "H2", Perms: 4})
	if !replaced {
		t.Fatal("expected replacement of admin")
	}

	event := nextEvent(t, sink)
	if event.EventType != "credential_overwritten" || event.Severity != SeverityWarning {
		t.Fatalf("unexpected event: %+v", event)
	}
	if !event.Success {
		t.Fatal("overwrite is non-fatal and must report success")
	}

	if snap := engine.MetricsSnapshot(); snap.Counters[MetricCredentialOverwritten] != 1 {
		t.Fatalf("expected overwrite counter, got %+v", snap.Counters)
	}
}

func TestEngineAddDuplicate(t *testing.T) {
	engine, sink := newTestEngine(t, testConfig())
	ctx := context.Background()

	if err := engine.Add(ctx, User{Name: "ops", Hash: "HO", Perms: 2}); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	nextEvent(t, sink)

	if err := engine.Add(ctx, User{Name: "ops", Hash: "HX", Perms: 9}); !errors.Is(err, registry.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	event := nextEvent(t, sink)
	if event.EventType != "credential_duplicate" || event.Error != "duplicate" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestEngineSetPerms(t *testing.T) {
	engine, sink := newTestEngine(t, testConfig())
	ctx := context.Background()

	if err := engine.SetPerms(ctx, User{Name: "admin", Hash: "H1"}, 20); err != nil {
		t.Fatalf("guarded update failed: %v", err)
	}
	nextEvent(t, sink)

	if err := engine.SetPerms(ctx, User{Name: "admin", Hash: "wrong"}, 1); !errors.Is(err, registry.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	nextEvent(t, sink)

	if err := engine.SetPerms(ctx, GeneralKey{Hash: "K-missing"}, 1); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	nextEvent(t, sink)

	if err := engine.SetUserPerms(ctx, "admin", 30); err != nil {
		t.Fatalf("SetUserPerms failed: %v", err)
	}
	if err := engine.SetKeyPerms(ctx, "K1", 8); err != nil {
		t.Fatalf("SetKeyPerms failed: %v", err)
	}

	grant, err := engine.Login(ctx, "H1", "admin")
	if err != nil || grant.Perms != 30 {
		t.Fatalf("updated perms not in effect: perms=%d err=%v", grant.Perms, err)
	}
}

func TestEngineTokensDisabled(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig())

	if _, _, err := engine.LoginToken(context.Background(), "H1", "admin"); !errors.Is(err, ErrTokensDisabled) {
		t.Fatalf("expected ErrTokensDisabled, got %v", err)
	}
	if _, err := engine.Verify(context.Background(), "x"); !errors.Is(err, ErrTokensDisabled) {
		t.Fatalf("expected ErrTokensDisabled, got %v", err)
	}
}

func TestEngineTokenLifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.Token.Enabled = true
	cfg.Token.TTL = time.Minute
	cfg.Token.PrivateKey = []byte("engine-test-secret")
	cfg.Token.Issuer = "authreg-test"

	sink := NewChannelSink(64)
	engine, err := New().
		WithConfig(cfg).
		WithAuditSink(sink).
		WithRedis(newTestRedis(t)).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	ctx := context.Background()

	signed, grant, err := engine.LoginToken(ctx, "H1", "admin")
	if err != nil {
		t.Fatalf("LoginToken failed: %v", err)
	}
	if grant.Perms != 10 {
		t.Fatalf("expected perms 10, got %d", grant.Perms)
	}
	if n, _ := engine.Connections("admin"); n != 1 {
		t.Fatalf("expected 1 connection after token login, got %d", n)
	}

	claims, err := engine.Verify(ctx, signed)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Name != "admin" || claims.Perms != 10 {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if err := engine.RevokeToken(ctx, signed); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	if _, err := engine.Verify(ctx, signed); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}

	if _, err := engine.Verify(ctx, "not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestEngineRevokeAllForUser(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = false
	cfg.Token.Enabled = true
	cfg.Token.TTL = time.Minute
	cfg.Token.PrivateKey = []byte("engine-test-secret")

	engine, err := New().
		WithConfig(cfg).
		WithRedis(newTestRedis(t)).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	ctx := context.Background()

	first, _, err := engine.LoginToken(ctx, "H1", "admin")
	if err != nil {
		t.Fatalf("first LoginToken failed: %v", err)
	}
	second, _, err := engine.LoginToken(ctx, "H1", "admin")
	if err != nil {
		t.Fatalf("second LoginToken failed: %v", err)
	}

	n, err := engine.RevokeAllForUser(ctx, "admin")
	if err != nil {
		t.Fatalf("RevokeAllForUser failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revocations, got %d", n)
	}

	for _, signed := range []string{first, second} {
		if _, err := engine.Verify(ctx, signed); !errors.Is(err, ErrTokenRevoked) {
			t.Fatalf("expected ErrTokenRevoked, got %v", err)
		}
	}
}

func TestBuilderValidation(t *testing.T) {
	cfg := testConfig()
	cfg.Token.Enabled = true
	cfg.Token.SigningMethod = "none"
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected rejection of unsupported signing method")
	}

	cfg = testConfig()
	cfg.Registry.Snapshot.Users = append(cfg.Registry.Snapshot.Users, User{Hash: "anon"})
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected rejection of empty user name in snapshot")
	}

	b := New().WithConfig(testConfig())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	if _, err := b.Build(); err == nil {
		t.Fatal("expected builder reuse to fail")
	}
}

func TestEngineConnectionLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = false
	cfg.Registry.EnforceConnectionLimit = true

	engine, err := New().WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := engine.Login(ctx, "H1", "admin"); err != nil {
			t.Fatalf("login %d failed under cap: %v", i, err)
		}
	}
	if _, err := engine.Login(ctx, "H1", "admin"); !errors.Is(err, registry.ErrConnectionLimit) {
		t.Fatalf("expected ErrConnectionLimit, got %v", err)
	}
	if snap := engine.MetricsSnapshot(); snap.Counters[MetricConnectionLimitHit] != 1 {
		t.Fatalf("expected limit metric, got %+v", snap.Counters)
	}
}
