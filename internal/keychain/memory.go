package keychain

import (
	"fmt"
	"sync"
)

// Method names a backend primitive, for fault injection on MemoryStore.
type Method string

const (
	MethodAdd       Method = "add"
	MethodGet       Method = "get"
	MethodDelete    Method = "delete"
	MethodFind      Method = "find"
	MethodEnumerate Method = "enumerate"
)

// MemoryItem is an entry in a MemoryStore. The optional fields model the
// extra attributes a native internet-password item may carry.
type MemoryItem struct {
	Service  string
	Account  string
	Secret   string
	Path     string
	Domain   string
	Port     int
	Protocol string
}

var memoryExtractors = []Extractor[MemoryItem]{
	StringField(AttrPath, func(it MemoryItem) string { return it.Path }),
	StringField(AttrDomain, func(it MemoryItem) string { return it.Domain }),
	IntField(AttrPort, func(it MemoryItem) int { return it.Port }),
	StringField(AttrProtocol, func(it MemoryItem) string { return it.Protocol }),
}

type memoryKey struct {
	service string
	account string
}

type enumerationFault struct {
	after   int
	message string
}

// MemoryStore is an in-process Backend. It enforces one entry per
// (service, account) the way a native store does, and keeps insertion
// order so "first match" is deterministic. Used for tests and as the
// fallback when no OS store is configured.
type MemoryStore struct {
	mu      sync.Mutex
	items   map[memoryKey]MemoryItem
	order   []memoryKey
	faults  map[Method]string
	enumErr *enumerationFault
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:  make(map[memoryKey]MemoryItem),
		faults: make(map[Method]string),
	}
}

// Put inserts or replaces an item directly, bypassing duplicate checks.
func (s *MemoryStore) Put(item MemoryItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memoryKey{item.Service, item.Account}
	if _, ok := s.items[k]; !ok {
		s.order = append(s.order, k)
	}
	s.items[k] = item
}

// InjectFault makes every later call of m fail with message. An empty
// message clears the fault.
func (s *MemoryStore) InjectFault(m Method, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if message == "" {
		delete(s.faults, m)
		return
	}
	s.faults[m] = message
}

// InjectEnumerationFault makes enumeration fail after building `after`
// records.
func (s *MemoryStore) InjectEnumerationFault(after int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if message == "" {
		s.enumErr = nil
		return
	}
	s.enumErr = &enumerationFault{after: after, message: message}
}

// Len returns the number of entries across all services.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *MemoryStore) AddSecret(service, account, secret string, allowNonFatalOnDuplicate bool) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := s.faults[MethodAdd]; ok {
		return Failed(msg)
	}
	k := memoryKey{service, account}
	if _, exists := s.items[k]; exists {
		if allowNonFatalOnDuplicate {
			return NonFatalFailure()
		}
		return Failedf("The specified item already exists in the keychain. (%s/%s)", service, account)
	}
	s.items[k] = MemoryItem{Service: service, Account: account, Secret: secret}
	s.order = append(s.order, k)
	return Succeeded()
}

func (s *MemoryStore) GetSecret(service, account string) (Outcome, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := s.faults[MethodGet]; ok {
		return Failed(msg), ""
	}
	it, ok := s.items[memoryKey{service, account}]
	if !ok {
		return NonFatalFailure(), ""
	}
	return Succeeded(), it.Secret
}

func (s *MemoryStore) DeleteSecret(service, account string) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := s.faults[MethodDelete]; ok {
		return Failed(msg)
	}
	k := memoryKey{service, account}
	if _, ok := s.items[k]; !ok {
		return NonFatalFailure()
	}
	delete(s.items, k)
	for i, o := range s.order {
		if o == k {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return Succeeded()
}

func (s *MemoryStore) FindSecretByService(service string) (Outcome, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := s.faults[MethodFind]; ok {
		return Failed(msg), ""
	}
	for _, k := range s.order {
		if k.service == service {
			return Succeeded(), s.items[k].Secret
		}
	}
	return NonFatalFailure(), ""
}

func (s *MemoryStore) FindCredentialsByService(service string) (Outcome, []Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := s.faults[MethodEnumerate]; ok {
		return Failed(msg), nil
	}

	var creds []Credential
	for _, k := range s.order {
		if k.service != service {
			continue
		}
		if s.enumErr != nil && len(creds) >= s.enumErr.after {
			return Failed(fmt.Sprintf("%s (after %d records)", s.enumErr.message, len(creds))), nil
		}
		it := s.items[k]
		creds = append(creds, Credential{
			Service:    it.Service,
			Account:    it.Account,
			Attributes: Extract(it, memoryExtractors),
		})
	}
	if len(creds) == 0 {
		return NonFatalFailure(), nil
	}
	return Succeeded(), creds
}
