// Package keychain defines the contract every OS-native secret store
// backend satisfies, and the backends themselves.
//
// A secret is addressed by a (service, account) pair:
//   - Service: the server or application the secret is scoped to
//   - Account: the principal the secret belongs to within that service
//
// Every operation returns an Outcome. NonFatal means "nothing found" or
// "already absent" and is never an error for the caller. Fatal carries the
// backend's human-readable message, which is opaque to this package.
//
// Identifiers are passed through to the native store unvalidated; an empty
// service or account behaves however the platform API treats it.
package keychain

import "errors"

// ErrUnknownBackend is returned by Open for an unrecognised backend name.
var ErrUnknownBackend = errors.New("unknown secret store backend")

// ErrUnsupportedPlatform is returned when a backend is not available on
// the running OS.
var ErrUnsupportedPlatform = errors.New("secret store backend not supported on this platform")

// Backend is the set of primitive operations a platform store provides.
// Implementations must be safe for concurrent use; the native store
// arbitrates between concurrent writers.
type Backend interface {
	// AddSecret inserts a new secret. When an entry already exists it
	// returns NonFatal if allowNonFatalOnDuplicate, Fatal otherwise.
	AddSecret(service, account, secret string, allowNonFatalOnDuplicate bool) Outcome

	// GetSecret looks up an exact (service, account) match.
	GetSecret(service, account string) (Outcome, string)

	// DeleteSecret removes a matching entry. NonFatal means already absent.
	DeleteSecret(service, account string) Outcome

	// FindSecretByService returns the secret of the first entry the store
	// produces for service, whatever its account.
	FindSecretByService(service string) (Outcome, string)

	// FindCredentialsByService enumerates every entry for service. NonFatal
	// means zero matches. A Fatal outcome never comes with partial results.
	FindCredentialsByService(service string) (Outcome, []Credential)
}

// Store is a Backend that also exposes the composite replace-on-write
// operation, so wrappers can observe it as one call.
type Store interface {
	Backend
	SetSecret(service, account, secret string) Outcome
}

// SetSecret writes secret for (service, account), replacing any existing
// value. Native stores have no atomic upsert, so an existing entry is
// deleted and the secret added again.
//
// This is not atomic against other processes: another writer can insert
// between the delete and the second add, in which case the second add
// reports the duplicate as Fatal. Last write wins as arbitrated by the OS
// store; there is no cross-process locking.
func SetSecret(b Backend, service, account, secret string) Outcome {
	out := b.AddSecret(service, account, secret, true)
	if !out.IsNonFatal() {
		return out
	}

	if del := b.DeleteSecret(service, account); del.IsFatal() {
		return del
	}
	return b.AddSecret(service, account, secret, false)
}

type boundStore struct {
	Backend
}

func (s boundStore) SetSecret(service, account, secret string) Outcome {
	return SetSecret(s.Backend, service, account, secret)
}

// Bind returns b as a Store. Backends that already implement Store are
// returned unchanged.
func Bind(b Backend) Store {
	if s, ok := b.(Store); ok {
		return s
	}
	return boundStore{Backend: b}
}
