package keychain

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/99designs/keyring"
)

// KeyringConfig configures a KeyringStore.
type KeyringConfig struct {
	// Backends restricts which 99designs/keyring backends may be used
	// ("keychain", "wincred", "secret-service", "kwallet", "pass", "file").
	// Empty means the library's platform default order.
	Backends []string

	// FileDir is the root directory for the encrypted file backend. Each
	// service gets its own subdirectory.
	FileDir string

	// FilePassword supplies the passphrase for the file backend.
	FilePassword func(prompt string) (string, error)

	// KeychainName selects a macOS keychain other than the default.
	KeychainName string
}

// KeyringStore stores secrets through 99designs/keyring, one keyring per
// service with the account as the item key. The library overwrites on Set,
// so duplicates are detected with a lookup first.
type KeyringStore struct {
	cfg   KeyringConfig
	open  func(keyring.Config) (keyring.Keyring, error)
	mu    sync.Mutex
	rings map[string]keyring.Keyring
}

// NewKeyringStore creates a store that opens keyrings lazily.
func NewKeyringStore(cfg KeyringConfig) *KeyringStore {
	return &KeyringStore{
		cfg:   cfg,
		open:  keyring.Open,
		rings: make(map[string]keyring.Keyring),
	}
}

type keyringRecord struct {
	item     keyring.Item
	modified time.Time
}

var keyringExtractors = []Extractor[keyringRecord]{
	StringField(AttrLabel, func(r keyringRecord) string { return r.item.Label }),
	StringField(AttrDescription, func(r keyringRecord) string { return r.item.Description }),
	StringField(AttrModified, func(r keyringRecord) string {
		if r.modified.IsZero() {
			return ""
		}
		return r.modified.UTC().Format(time.RFC3339)
	}),
}

func (s *KeyringStore) ring(service string) (keyring.Keyring, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rings[service]; ok {
		return r, nil
	}

	cfg := keyring.Config{
		ServiceName:              service,
		KeychainName:             s.cfg.KeychainName,
		KeychainTrustApplication: true,
		KWalletAppID:             "credstore",
		KWalletFolder:            service,
		LibSecretCollectionName:  "login",
		PassPrefix:               filepath.Join("credstore", service),
		WinCredPrefix:            service,
		FilePasswordFunc:         s.cfg.FilePassword,
	}
	for _, b := range s.cfg.Backends {
		cfg.AllowedBackends = append(cfg.AllowedBackends, keyring.BackendType(b))
	}
	if s.cfg.FileDir != "" {
		cfg.FileDir = filepath.Join(s.cfg.FileDir, url.PathEscape(service))
	}

	r, err := s.open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening keyring for %q: %w", service, err)
	}
	s.rings[service] = r
	return r, nil
}

func isKeyNotFound(err error) bool {
	return errors.Is(err, keyring.ErrKeyNotFound) || errors.Is(err, fs.ErrNotExist)
}

func (s *KeyringStore) AddSecret(service, account, secret string, allowNonFatalOnDuplicate bool) Outcome {
	r, err := s.ring(service)
	if err != nil {
		return FailedErr(err)
	}

	_, err = r.Get(account)
	switch {
	case err == nil:
		if allowNonFatalOnDuplicate {
			return NonFatalFailure()
		}
		return Failedf("an item for %s/%s already exists in the keyring", service, account)
	case !isKeyNotFound(err):
		return FailedErr(err)
	}

	err = r.Set(keyring.Item{
		Key:         account,
		Data:        []byte(secret),
		Label:       fmt.Sprintf("%s: %s", service, account),
		Description: "credstore",
	})
	if err != nil {
		return FailedErr(err)
	}
	return Succeeded()
}

func (s *KeyringStore) GetSecret(service, account string) (Outcome, string) {
	r, err := s.ring(service)
	if err != nil {
		return FailedErr(err), ""
	}
	item, err := r.Get(account)
	if err != nil {
		if isKeyNotFound(err) {
			return NonFatalFailure(), ""
		}
		return FailedErr(err), ""
	}
	return Succeeded(), string(item.Data)
}

func (s *KeyringStore) DeleteSecret(service, account string) Outcome {
	r, err := s.ring(service)
	if err != nil {
		return FailedErr(err)
	}
	if _, err := r.Get(account); err != nil {
		if isKeyNotFound(err) {
			return NonFatalFailure()
		}
		return FailedErr(err)
	}
	if err := r.Remove(account); err != nil {
		if isKeyNotFound(err) {
			return NonFatalFailure()
		}
		return FailedErr(err)
	}
	return Succeeded()
}

func (s *KeyringStore) FindSecretByService(service string) (Outcome, string) {
	r, err := s.ring(service)
	if err != nil {
		return FailedErr(err), ""
	}
	keys, err := r.Keys()
	if err != nil {
		return FailedErr(err), ""
	}
	for _, k := range keys {
		item, err := r.Get(k)
		if err != nil {
			if isKeyNotFound(err) {
				continue
			}
			return FailedErr(err), ""
		}
		return Succeeded(), string(item.Data)
	}
	return NonFatalFailure(), ""
}

func (s *KeyringStore) FindCredentialsByService(service string) (Outcome, []Credential) {
	r, err := s.ring(service)
	if err != nil {
		return FailedErr(err), nil
	}
	keys, err := r.Keys()
	if err != nil {
		return FailedErr(err), nil
	}

	var creds []Credential
	for _, k := range keys {
		rec, found, err := readRecord(r, k)
		if err != nil {
			return FailedErr(err), nil
		}
		if !found {
			continue
		}
		creds = append(creds, Credential{
			Service:    service,
			Account:    k,
			Attributes: Extract(rec, keyringExtractors),
		})
	}
	if len(creds) == 0 {
		return NonFatalFailure(), nil
	}
	return Succeeded(), creds
}

// readRecord prefers metadata, which avoids unlocking the secret on
// backends that support it, and falls back to a full read.
func readRecord(r keyring.Keyring, key string) (keyringRecord, bool, error) {
	md, err := r.GetMetadata(key)
	switch {
	case err == nil && md.Item != nil:
		return keyringRecord{item: *md.Item, modified: md.ModificationTime}, true, nil
	case err == nil:
		return keyringRecord{modified: md.ModificationTime}, true, nil
	case isKeyNotFound(err):
		return keyringRecord{}, false, nil
	case !errors.Is(err, keyring.ErrMetadataNeedsCredentials) && !errors.Is(err, keyring.ErrMetadataNotSupported):
		return keyringRecord{}, false, err
	}

	item, err := r.Get(key)
	if err != nil {
		if isKeyNotFound(err) {
			return keyringRecord{}, false, nil
		}
		return keyringRecord{}, false, err
	}
	item.Data = nil
	return keyringRecord{item: item}, true, nil
}

func (s *KeyringStore) String() string { return "keyring" }
