package keychain

import (
	"encoding/json"
	"errors"
	"slices"
	"sync"

	gokeyring "github.com/zalando/go-keyring"
)

// IndexAccount is the reserved account under which SecretServiceStore keeps
// the list of accounts it has written for a service.
const IndexAccount = "credstore.index"

// SecretServiceStore stores secrets through zalando/go-keyring (Secret
// Service on Linux, Credential Manager on Windows, Keychain on macOS).
// That API cannot enumerate, so the store maintains a per-service account
// index as an extra entry in the same keyring.
type SecretServiceStore struct {
	mu sync.Mutex
}

// NewSecretServiceStore creates a store using the process-wide go-keyring
// provider.
func NewSecretServiceStore() *SecretServiceStore {
	return &SecretServiceStore{}
}

func reservedAccount() Outcome {
	return Failedf("account name %q is reserved", IndexAccount)
}

func (s *SecretServiceStore) AddSecret(service, account, secret string, allowNonFatalOnDuplicate bool) Outcome {
	if account == IndexAccount {
		return reservedAccount()
	}

	_, err := gokeyring.Get(service, account)
	switch {
	case err == nil:
		if allowNonFatalOnDuplicate {
			return NonFatalFailure()
		}
		return Failedf("an item for %s/%s already exists in the secret service", service, account)
	case !errors.Is(err, gokeyring.ErrNotFound):
		return FailedErr(err)
	}

	if err := gokeyring.Set(service, account, secret); err != nil {
		return FailedErr(err)
	}
	if err := s.updateIndex(service, func(accounts []string) []string {
		if slices.Contains(accounts, account) {
			return accounts
		}
		return append(accounts, account)
	}); err != nil {
		// An unindexed secret would be invisible to enumeration.
		if derr := gokeyring.Delete(service, account); derr != nil && !errors.Is(derr, gokeyring.ErrNotFound) {
			return Failedf("account index not updated: %v; secret left in place: %v", err, derr)
		}
		return Failedf("account index not updated, secret not stored: %v", err)
	}
	return Succeeded()
}

func (s *SecretServiceStore) GetSecret(service, account string) (Outcome, string) {
	if account == IndexAccount {
		return reservedAccount(), ""
	}
	secret, err := gokeyring.Get(service, account)
	if err != nil {
		if errors.Is(err, gokeyring.ErrNotFound) {
			return NonFatalFailure(), ""
		}
		return FailedErr(err), ""
	}
	return Succeeded(), secret
}

func (s *SecretServiceStore) DeleteSecret(service, account string) Outcome {
	if account == IndexAccount {
		return reservedAccount()
	}
	err := gokeyring.Delete(service, account)
	if err != nil && !errors.Is(err, gokeyring.ErrNotFound) {
		return FailedErr(err)
	}

	if ierr := s.updateIndex(service, func(accounts []string) []string {
		return slices.DeleteFunc(accounts, func(a string) bool { return a == account })
	}); ierr != nil {
		return Failedf("account index not updated: %v", ierr)
	}

	if err != nil {
		return NonFatalFailure()
	}
	return Succeeded()
}

func (s *SecretServiceStore) FindSecretByService(service string) (Outcome, string) {
	accounts, err := s.readIndex(service)
	if err != nil {
		return FailedErr(err), ""
	}
	for _, a := range accounts {
		if a == IndexAccount {
			continue
		}
		out, secret := s.GetSecret(service, a)
		if out.IsNonFatal() {
			continue
		}
		return out, secret
	}
	return NonFatalFailure(), ""
}

func (s *SecretServiceStore) FindCredentialsByService(service string) (Outcome, []Credential) {
	accounts, err := s.readIndex(service)
	if err != nil {
		return FailedErr(err), nil
	}

	var creds []Credential
	for _, a := range accounts {
		if a == IndexAccount {
			continue
		}
		out, _ := s.GetSecret(service, a)
		switch {
		case out.IsFatal():
			return out, nil
		case out.IsNonFatal():
			continue
		}
		creds = append(creds, Credential{Service: service, Account: a})
	}
	if len(creds) == 0 {
		return NonFatalFailure(), nil
	}
	return Succeeded(), creds
}

func (s *SecretServiceStore) readIndex(service string) ([]string, error) {
	raw, err := gokeyring.Get(service, IndexAccount)
	if err != nil {
		if errors.Is(err, gokeyring.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var accounts []string
	if err := json.Unmarshal([]byte(raw), &accounts); err != nil {
		return nil, errors.New("account index is corrupt: " + err.Error())
	}
	return accounts, nil
}

// updateIndex serialises index rewrites within this process. Writers in
// other processes can still race; the index is advisory and enumeration
// re-checks every account against the store.
func (s *SecretServiceStore) updateIndex(service string, fn func([]string) []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.readIndex(service)
	if err != nil {
		return err
	}
	accounts = fn(accounts)
	if len(accounts) == 0 {
		err := gokeyring.Delete(service, IndexAccount)
		if err != nil && !errors.Is(err, gokeyring.ErrNotFound) {
			return err
		}
		return nil
	}
	data, err := json.Marshal(accounts)
	if err != nil {
		return err
	}
	return gokeyring.Set(service, IndexAccount, string(data))
}

func (s *SecretServiceStore) String() string { return "secret-service" }
