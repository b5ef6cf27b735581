//go:build darwin

package keychain

import (
	"errors"

	gokeychain "github.com/keybase/go-keychain"
)

// SystemStore stores secrets as internet-password items in the user's
// default Keychain:
//   - Server: the service
//   - Account: the account
//
// Items are created with kSecAttrAccessibleWhenUnlocked and are not synced
// to iCloud.
type SystemStore struct{}

// NewSystemStore creates a Keychain-backed store.
func NewSystemStore() *SystemStore {
	return &SystemStore{}
}

func newSystemStore() (Backend, error) {
	return NewSystemStore(), nil
}

var keychainExtractors = []Extractor[gokeychain.QueryResult]{
	StringField(AttrPath, func(r gokeychain.QueryResult) string { return r.Path }),
	IntField(AttrPort, func(r gokeychain.QueryResult) int { return int(r.Port) }),
	StringField(AttrProtocol, func(r gokeychain.QueryResult) string { return r.Protocol }),
	StringField(AttrLabel, func(r gokeychain.QueryResult) string { return r.Label }),
	StringField(AttrComment, func(r gokeychain.QueryResult) string { return r.Comment }),
}

func internetPassword(service string) gokeychain.Item {
	item := gokeychain.NewItem()
	item.SetSecClass(gokeychain.SecClassInternetPassword)
	item.SetServer(service)
	return item
}

func (s *SystemStore) AddSecret(service, account, secret string, allowNonFatalOnDuplicate bool) Outcome {
	item := internetPassword(service)
	item.SetAccount(account)
	item.SetData([]byte(secret))
	item.SetSynchronizable(gokeychain.SynchronizableNo)
	item.SetAccessible(gokeychain.AccessibleWhenUnlocked)

	err := gokeychain.AddItem(item)
	switch {
	case err == nil:
		return Succeeded()
	case errors.Is(err, gokeychain.ErrorDuplicateItem) && allowNonFatalOnDuplicate:
		return NonFatalFailure()
	default:
		return FailedErr(err)
	}
}

func (s *SystemStore) GetSecret(service, account string) (Outcome, string) {
	query := internetPassword(service)
	query.SetAccount(account)
	return s.findOne(query)
}

func (s *SystemStore) FindSecretByService(service string) (Outcome, string) {
	return s.findOne(internetPassword(service))
}

func (s *SystemStore) findOne(query gokeychain.Item) (Outcome, string) {
	query.SetMatchLimit(gokeychain.MatchLimitOne)
	query.SetReturnData(true)

	results, err := gokeychain.QueryItem(query)
	if err != nil {
		if errors.Is(err, gokeychain.ErrorItemNotFound) {
			return NonFatalFailure(), ""
		}
		return FailedErr(err), ""
	}
	if len(results) == 0 {
		return NonFatalFailure(), ""
	}
	return Succeeded(), string(results[0].Data)
}

func (s *SystemStore) DeleteSecret(service, account string) Outcome {
	item := internetPassword(service)
	item.SetAccount(account)

	err := gokeychain.DeleteItem(item)
	switch {
	case err == nil:
		return Succeeded()
	case errors.Is(err, gokeychain.ErrorItemNotFound):
		return NonFatalFailure()
	default:
		return FailedErr(err)
	}
}

func (s *SystemStore) FindCredentialsByService(service string) (Outcome, []Credential) {
	query := internetPassword(service)
	query.SetMatchLimit(gokeychain.MatchLimitAll)
	query.SetReturnAttributes(true)

	results, err := gokeychain.QueryItem(query)
	if err != nil {
		if errors.Is(err, gokeychain.ErrorItemNotFound) {
			return NonFatalFailure(), nil
		}
		return FailedErr(err), nil
	}
	if len(results) == 0 {
		return NonFatalFailure(), nil
	}

	creds := make([]Credential, 0, len(results))
	for _, r := range results {
		creds = append(creds, Credential{
			Service:    r.Server,
			Account:    r.Account,
			Attributes: Extract(r, keychainExtractors),
		})
	}
	return Succeeded(), creds
}

// String identifies the backend in logs.
func (s *SystemStore) String() string {
	return "keychain"
}
