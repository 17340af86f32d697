package registry

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidCredentials is returned when a presented hash does not match a
// known credential: a wrong password or key for a named user, or an
// unregistered general-key hash presented anonymously.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrUnknownUser is returned by [Registry.Logout] when the named user does
// not exist.
var ErrUnknownUser = errors.New("unknown user")

// ErrNotFound is returned by the permission-modification operations when the
// target user or key is not registered.
var ErrNotFound = errors.New("credential not found")

// ErrAlreadyExists is returned by [Registry.Add] when an entry with the same
// name or hash is already registered.
var ErrAlreadyExists = errors.New("credential already exists")

// ErrNoActiveConnections is returned by [Registry.Logout] when the user's
// connection counter is already zero. The counter is never decremented
// below zero.
var ErrNoActiveConnections = errors.New("no active connections")

// ErrConnectionLimit is returned by [Registry.Login] when connection-limit
// enforcement is enabled and the user is already at MaxConnections.
var ErrConnectionLimit = errors.New("connection limit reached")

// User is a named account: an opaque credential, a permission level, and a
// declared connection cap. UseAuthKey marks Hash as cryptographic key
// material rather than a password hash; it only affects error wording.
type User struct {
	Name           string `json:"name"`
	Hash           string `json:"hash"`
	Perms          int    `json:"perms"`
	MaxConnections int    `json:"maxConnection"`
	UseAuthKey     bool   `json:"useAuthKey"`
}

// GeneralKey is a bearer credential with no attached identity. Anyone
// presenting the matching hash is granted Perms; there is no per-key
// connection accounting.
type GeneralKey struct {
	Hash  string `json:"hash"`
	Perms int    `json:"perms"`
}

// Credential is the tagged union over [User] and [GeneralKey] accepted by
// the shape-dispatching operations [Registry.Add] and [Registry.SetPerms].
// The two concrete types are the only implementations.
type Credential interface {
	credential()
}

func (User) credential()       {}
func (GeneralKey) credential() {}

// Grant is the result of a successful [Registry.Login]. Exactly one of User
// and Key is non-nil, matching the identity that authenticated. For named
// logins Connections holds the counter value after the increment.
type Grant struct {
	Perms       int
	User        *User
	Key         *GeneralKey
	Connections int
}

// Snapshot is the one-time bulk load a [Registry] is constructed from. The
// JSON field names match the configuration object the surrounding service
// loads at startup.
type Snapshot struct {
	Users       []User       `json:"users"`
	GeneralKeys []GeneralKey `json:"general_keys"`
}

type userEntry struct {
	User
	connections int
}

// Registry holds the two credential tables and the per-user connection
// counters. Construct with [New]; the zero value is not usable.
type Registry struct {
	mu    sync.Mutex
	users map[string]*userEntry
	keys  map[string]GeneralKey

	enforceLimit bool
}

// New builds a [Registry] from a static snapshot. Duplicate names or hashes
// within the snapshot are last-write-wins; every loaded user starts with a
// connection counter of zero. When enforceLimit is true, Login rejects a
// user already at MaxConnections (a cap of zero or less means unlimited).
func New(snap Snapshot, enforceLimit bool) *Registry {
	r := &Registry{
		users:        make(map[string]*userEntry, len(snap.Users)),
		keys:         make(map[string]GeneralKey, len(snap.GeneralKeys)),
		enforceLimit: enforceLimit,
	}
	for _, u := range snap.Users {
		r.users[u.Name] = &userEntry{User: u}
	}
	for _, k := range snap.GeneralKeys {
		r.keys[k.Hash] = k
	}
	return r
}

func hashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func credentialMismatch(u User) error {
	if u.UseAuthKey {
		return fmt.Errorf("%w: wrong key for user %q", ErrInvalidCredentials, u.Name)
	}
	return fmt.Errorf("%w: wrong password for user %q", ErrInvalidCredentials, u.Name)
}

// Login authenticates a presented hash. An empty name is an anonymous
// general-key login: the hash is looked up directly and no state changes.
// A non-empty name is a named-user login: on a credential match the user's
// connection counter is incremented by one. All failures return
// [ErrInvalidCredentials] (wrapped with wording context) so callers cannot
// probe which part of the lookup failed.
func (r *Registry) Login(hash, name string) (Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		key, ok := r.keys[hash]
		if !ok {
			return Grant{}, fmt.Errorf("%w: unregistered general key", ErrInvalidCredentials)
		}
		k := key
		return Grant{Perms: k.Perms, Key: &k}, nil
	}

	entry, ok := r.users[name]
	if !ok {
		return Grant{}, fmt.Errorf("%w: no such user %q", ErrInvalidCredentials, name)
	}
	if !hashEqual(hash, entry.Hash) {
		return Grant{}, credentialMismatch(entry.User)
	}
	if r.enforceLimit && entry.MaxConnections > 0 && entry.connections >= entry.MaxConnections {
		return Grant{}, fmt.Errorf("%w: user %q at %d connections", ErrConnectionLimit, name, entry.connections)
	}

	entry.connections++
	u := entry.User
	return Grant{Perms: u.Perms, User: &u, Connections: entry.connections}, nil
}

// Logout closes one authenticated session. Anonymous logouts (empty name)
// always succeed; general keys carry no session state to close. Named
// logouts verify the credential, then decrement the connection counter.
// The counter never underflows: a logout at zero is a no-op that returns
// [ErrNoActiveConnections].
func (r *Registry) Logout(hash, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return nil
	}

	entry, ok := r.users[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownUser, name)
	}
	if !hashEqual(hash, entry.Hash) {
		return credentialMismatch(entry.User)
	}
	if entry.connections <= 0 {
		entry.connections = 0
		return fmt.Errorf("%w: user %q", ErrNoActiveConnections, name)
	}

	entry.connections--
	return nil
}

// PutUser inserts a user unconditionally, overwriting any entry with the
// same name. It reports whether an entry was replaced; a replaced entry's
// connection counter is reset to zero, as overwrite is a fresh
// registration. Overwrite is a legitimate administrative action, so this
// never fails — use [Registry.Add] for the protective variant.
func (r *Registry) PutUser(u User) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced = r.users[u.Name]
	r.users[u.Name] = &userEntry{User: u}
	return replaced
}

// PutKey inserts a general key unconditionally, overwriting any entry with
// the same hash. It reports whether an entry was replaced.
func (r *Registry) PutKey(k GeneralKey) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced = r.keys[k.Hash]
	r.keys[k.Hash] = k
	return replaced
}

// Add is the protective insert: unlike PutUser/PutKey it fails with
// [ErrAlreadyExists] when an entry with the same name or hash is already
// registered, and performs no mutation in that case. Dispatch is on the
// concrete [Credential] type.
func (r *Registry) Add(c Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch c := c.(type) {
	case User:
		if c.Name == "" {
			return errors.New("user name must not be empty")
		}
		if _, ok := r.users[c.Name]; ok {
			return fmt.Errorf("%w: user %q", ErrAlreadyExists, c.Name)
		}
		r.users[c.Name] = &userEntry{User: c}
	case GeneralKey:
		if _, ok := r.keys[c.Hash]; ok {
			return fmt.Errorf("%w: general key", ErrAlreadyExists)
		}
		r.keys[c.Hash] = c
	default:
		// Credential is sealed; only reachable through a new in-package type.
		return fmt.Errorf("unsupported credential type %T", c)
	}
	return nil
}

// SetUserPerms overwrites the permission level of an existing user. The
// target must exist; a missing name is a caller error and fails with
// [ErrNotFound]. No credential check is performed — this is the low-level
// primitive behind [Registry.SetPerms].
func (r *Registry) SetUserPerms(name string, perms int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.users[name]
	if !ok {
		return fmt.Errorf("%w: user %q", ErrNotFound, name)
	}
	entry.Perms = perms
	return nil
}

// SetKeyPerms overwrites the permission level of an existing general key,
// failing with [ErrNotFound] when the hash is not registered.
func (r *Registry) SetKeyPerms(hash string, perms int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.keys[hash]
	if !ok {
		return fmt.Errorf("%w: general key", ErrNotFound)
	}
	k.Perms = perms
	r.keys[hash] = k
	return nil
}

// SetPerms is the guarded permission update. Key-shaped credentials only
// need to exist: the presented hash is the lookup key itself, so there is
// nothing further to verify. User-shaped credentials must additionally
// present the stored hash; a mismatch fails with [ErrInvalidCredentials]
// and leaves the permission level unchanged.
func (r *Registry) SetPerms(c Credential, perms int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch c := c.(type) {
	case GeneralKey:
		k, ok := r.keys[c.Hash]
		if !ok {
			return fmt.Errorf("%w: general key", ErrNotFound)
		}
		k.Perms = perms
		r.keys[c.Hash] = k
	case User:
		entry, ok := r.users[c.Name]
		if !ok {
			return fmt.Errorf("%w: user %q", ErrNotFound, c.Name)
		}
		if !hashEqual(c.Hash, entry.Hash) {
			return credentialMismatch(entry.User)
		}
		entry.Perms = perms
	default:
		return fmt.Errorf("unsupported credential type %T", c)
	}
	return nil
}

// Connections returns the current connection counter for a named user and
// whether the user exists.
func (r *Registry) Connections(name string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.users[name]
	if !ok {
		return 0, false
	}
	return entry.connections, true
}

// Counts returns the number of registered users and general keys.
func (r *Registry) Counts() (users, keys int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users), len(r.keys)
}

// LookupUser returns a copy of the named user record and its connection
// counter. The stored hash is included; callers exposing records outward
// are responsible for redaction.
func (r *Registry) LookupUser(name string) (User, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.users[name]
	if !ok {
		return User{}, 0, false
	}
	return entry.User, entry.connections, true
}

// LookupKey returns a copy of the general-key record for a hash.
func (r *Registry) LookupKey(hash string) (GeneralKey, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.keys[hash]
	return k, ok
}
