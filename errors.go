package authreg

import "errors"

var (
	// ErrEngineNotReady is an exported constant or variable used by the registry engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrTokensDisabled is an exported constant or variable used by the registry engine.
	ErrTokensDisabled = errors.New("token layer disabled")
	// ErrTokenInvalid is an exported constant or variable used by the registry engine.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenRevoked is an exported constant or variable used by the registry engine.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrRevocationUnavailable is an exported constant or variable used by the registry engine.
	ErrRevocationUnavailable = errors.New("revocation store unavailable")
)
