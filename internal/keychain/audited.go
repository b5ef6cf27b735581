package keychain

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/benaskins/credstore/internal/audit"
)

// SecretMetadata tracks write and rotation times for a secret. It never
// holds the secret itself.
type SecretMetadata struct {
	CreatedAt   time.Time `json:"created_at"`
	LastWritten time.Time `json:"last_written,omitempty"`
	LastRotated time.Time `json:"last_rotated,omitempty"`
}

// MetadataStore persists secret metadata to a JSON file, keyed by
// "service/account".
type MetadataStore struct {
	mu       sync.RWMutex
	path     string
	metadata map[string]*SecretMetadata
}

// NewMetadataStore loads or creates a metadata file.
func NewMetadataStore(path string) (*MetadataStore, error) {
	ms := &MetadataStore{
		path:     path,
		metadata: make(map[string]*SecretMetadata),
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if jsonErr := json.Unmarshal(data, &ms.metadata); jsonErr != nil {
			slog.Warn("corrupt metadata file, starting fresh", "path", path, "error", jsonErr)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return ms, nil
}

func metadataKey(service, account string) string { return service + "/" + account }

// Get returns a copy of the metadata for a secret, or nil if not tracked.
func (ms *MetadataStore) Get(service, account string) *SecretMetadata {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	m, ok := ms.metadata[metadataKey(service, account)]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// Update applies fn to the metadata of a secret, creating it if needed,
// and persists the file.
func (ms *MetadataStore) Update(service, account string, fn func(*SecretMetadata)) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	key := metadataKey(service, account)
	m, ok := ms.metadata[key]
	if !ok {
		m = &SecretMetadata{CreatedAt: time.Now().UTC()}
		ms.metadata[key] = m
	}
	fn(m)
	return ms.save()
}

// Delete removes metadata for a secret.
func (ms *MetadataStore) Delete(service, account string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.metadata, metadataKey(service, account))
	return ms.save()
}

func (ms *MetadataStore) save() error {
	data, err := json.MarshalIndent(ms.metadata, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := ms.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, ms.path)
}

// AuditedStore wraps a Store with audit logging and metadata tracking.
// Audit and metadata failures are logged and never change an Outcome.
type AuditedStore struct {
	inner    Store
	audit    *audit.Logger
	metadata *MetadataStore
	actor    string // "cli" or "daemon"
	logger   *slog.Logger
}

// NewAuditedStore wraps an existing store. auditLog and metadata may be nil.
func NewAuditedStore(inner Store, auditLog *audit.Logger, metadata *MetadataStore, actor string) *AuditedStore {
	return &AuditedStore{
		inner:    inner,
		audit:    auditLog,
		metadata: metadata,
		actor:    actor,
		logger:   slog.With("component", "audit"),
	}
}

func (s *AuditedStore) record(e audit.Entry, out Outcome) {
	if s.audit == nil {
		return
	}
	e.Actor = s.actor
	e.Outcome = out.Kind().String()
	e.Error = out.Message()
	if err := s.audit.Log(e); err != nil {
		s.logger.Warn("audit log write failed", "action", e.Action, "service", e.Service, "error", err)
	}
}

func (s *AuditedStore) touch(service, account string, fn func(*SecretMetadata)) {
	if s.metadata == nil {
		return
	}
	if err := s.metadata.Update(service, account, fn); err != nil {
		s.logger.Warn("saving secret metadata failed", "service", service, "account", account, "error", err)
	}
}

func (s *AuditedStore) AddSecret(service, account, secret string, allowNonFatalOnDuplicate bool) Outcome {
	out := s.inner.AddSecret(service, account, secret, allowNonFatalOnDuplicate)
	s.record(audit.Entry{Action: audit.ActionSecretWrite, Service: service, Account: account}, out)
	if out.IsSuccess() {
		s.touch(service, account, func(m *SecretMetadata) { m.LastWritten = time.Now().UTC() })
	}
	return out
}

func (s *AuditedStore) SetSecret(service, account, secret string) Outcome {
	out := s.inner.SetSecret(service, account, secret)
	s.record(audit.Entry{Action: audit.ActionSecretWrite, Service: service, Account: account}, out)
	if out.IsSuccess() {
		s.touch(service, account, func(m *SecretMetadata) { m.LastWritten = time.Now().UTC() })
	}
	return out
}

func (s *AuditedStore) GetSecret(service, account string) (Outcome, string) {
	out, secret := s.inner.GetSecret(service, account)
	s.record(audit.Entry{Action: audit.ActionSecretRead, Service: service, Account: account}, out)
	return out, secret
}

func (s *AuditedStore) DeleteSecret(service, account string) Outcome {
	out := s.inner.DeleteSecret(service, account)
	s.record(audit.Entry{Action: audit.ActionSecretDelete, Service: service, Account: account}, out)
	if out.IsSuccess() && s.metadata != nil {
		if err := s.metadata.Delete(service, account); err != nil {
			s.logger.Warn("deleting secret metadata failed", "service", service, "account", account, "error", err)
		}
	}
	return out
}

func (s *AuditedStore) FindSecretByService(service string) (Outcome, string) {
	out, secret := s.inner.FindSecretByService(service)
	s.record(audit.Entry{Action: audit.ActionSecretFind, Service: service}, out)
	return out, secret
}

func (s *AuditedStore) FindCredentialsByService(service string) (Outcome, []Credential) {
	out, creds := s.inner.FindCredentialsByService(service)
	s.record(audit.Entry{Action: audit.ActionSecretEnumerate, Service: service, Count: len(creds)}, out)
	return out, creds
}

// Rotate runs a rotation command, stores its output as the new secret and
// logs the rotation. A failing command leaves the stored value untouched.
func (s *AuditedStore) Rotate(service, account, command string) Outcome {
	out := Rotate(s.inner, service, account, command)
	s.record(audit.Entry{
		Action:  audit.ActionSecretRotate,
		Service: service,
		Account: account,
		Trigger: "hook",
		Command: command,
	}, out)
	if out.IsSuccess() {
		now := time.Now().UTC()
		s.touch(service, account, func(m *SecretMetadata) {
			m.LastWritten = now
			m.LastRotated = now
		})
	}
	return out
}

// Metadata returns the metadata store, which may be nil.
func (s *AuditedStore) Metadata() *MetadataStore {
	return s.metadata
}
