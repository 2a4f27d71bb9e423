package domain

import "errors"

var (
	// ErrInvalidRequest indicates caller input validation errors.
	ErrInvalidRequest = errors.New("oauth: invalid request")
	// ErrPlatformUnsupported signals an unknown platform identifier.
	ErrPlatformUnsupported = errors.New("oauth: platform unsupported")
	// ErrStateNotFound indicates the correlation token was never issued or
	// has expired out of the registry.
	ErrStateNotFound = errors.New("oauth: state not found")
	// ErrStateExpired indicates the flow outlived its TTL.
	ErrStateExpired = errors.New("oauth: state expired")
	// ErrStateAlreadyUsed indicates a replayed callback: the correlation
	// token was already consumed once.
	ErrStateAlreadyUsed = errors.New("oauth: state already used")
	// ErrProviderExchangeFailed wraps provider-side token endpoint failures.
	// Retry by re-running init, never by replaying the consumed state.
	ErrProviderExchangeFailed = errors.New("oauth: provider exchange failed")
	// ErrRefreshUnsupported signals the platform has no refresh grant.
	ErrRefreshUnsupported = errors.New("oauth: refresh unsupported")
	// ErrReauthRequired means no usable refresh path exists; the user must
	// redo the authorization flow.
	ErrReauthRequired = errors.New("oauth: reauthorization required")
	// ErrTokenNotFound signals no stored credential for (user, platform).
	ErrTokenNotFound = errors.New("oauth: token not found")
	// ErrAPIKeyNotFound signals no stored API key for (user, platform).
	ErrAPIKeyNotFound = errors.New("oauth: api key not found")
	// ErrAPIKeyInvalid signals a presented key that does not match the
	// stored hash.
	ErrAPIKeyInvalid = errors.New("oauth: api key invalid")
	// ErrEncryptionKeyUnavailable is fatal: the process cannot serve
	// encrypted-token operations.
	ErrEncryptionKeyUnavailable = errors.New("oauth: encryption key unavailable")
	// ErrCiphertextInvalid indicates a stored record that does not decrypt
	// under the current key. Fails closed, never returns partial plaintext.
	ErrCiphertextInvalid = errors.New("oauth: ciphertext invalid")
)
