package keychain

import (
	"fmt"
	"runtime"
)

// Backend names accepted by Open.
const (
	BackendAuto          = "auto"
	BackendKeychain      = "keychain"
	BackendKeyring       = "keyring"
	BackendSecretService = "secret-service"
	BackendMemory        = "memory"
)

// BackendNames lists every name Open accepts.
var BackendNames = []string{BackendAuto, BackendKeychain, BackendKeyring, BackendSecretService, BackendMemory}

// BackendConfig selects and configures a backend.
type BackendConfig struct {
	Name    string
	Keyring KeyringConfig
}

// Open returns the backend named by cfg.Name. "auto" (or "") picks the
// native Keychain on macOS and the keyring backend elsewhere.
func Open(cfg BackendConfig) (Backend, error) {
	name := cfg.Name
	if name == "" || name == BackendAuto {
		name = BackendKeyring
		if runtime.GOOS == "darwin" {
			name = BackendKeychain
		}
	}

	switch name {
	case BackendKeychain:
		b, err := newSystemStore()
		if err != nil {
			return nil, fmt.Errorf("%s backend: %w", name, err)
		}
		return b, nil
	case BackendKeyring:
		return NewKeyringStore(cfg.Keyring), nil
	case BackendSecretService:
		return NewSecretServiceStore(), nil
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Name)
	}
}
