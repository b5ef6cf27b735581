package keychain

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benaskins/credstore/internal/audit"
)

func setupAuditedStore(t *testing.T) (*AuditedStore, *MemoryStore, string) {
	t.Helper()
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit.log")
	metaPath := filepath.Join(dir, "secret-metadata.json")

	auditLog, err := audit.NewLogger(auditPath)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	t.Cleanup(func() { auditLog.Close() })

	meta, err := NewMetadataStore(metaPath)
	if err != nil {
		t.Fatalf("NewMetadataStore: %v", err)
	}

	inner := NewMemoryStore()
	store := NewAuditedStore(Bind(inner), auditLog, meta, "cli")

	return store, inner, auditPath
}

func readAuditEntries(t *testing.T, path string) []audit.Entry {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	entries := make([]audit.Entry, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		var e audit.Entry
		json.Unmarshal([]byte(line), &e)
		entries = append(entries, e)
	}
	return entries
}

func filterEntries(entries []audit.Entry, action audit.Action) []audit.Entry {
	var result []audit.Entry
	for _, e := range entries {
		if e.Action == action {
			result = append(result, e)
		}
	}
	return result
}

func TestAuditedStoreSetLogsWrite(t *testing.T) {
	store, _, auditPath := setupAuditedStore(t)

	store.SetSecret("github.com", "alice", "value")

	entries := readAuditEntries(t, auditPath)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Action != audit.ActionSecretWrite {
		t.Errorf("expected secret_write, got %v", e.Action)
	}
	if e.Service != "github.com" || e.Account != "alice" {
		t.Errorf("expected github.com/alice, got %s/%s", e.Service, e.Account)
	}
	if e.Actor != "cli" {
		t.Errorf("expected cli, got %q", e.Actor)
	}
	if e.Outcome != "success" {
		t.Errorf("expected success outcome, got %q", e.Outcome)
	}
}

func TestAuditedStoreGetLogsRead(t *testing.T) {
	store, _, auditPath := setupAuditedStore(t)

	store.SetSecret("svc", "alice", "val")
	store.GetSecret("svc", "alice")
	store.GetSecret("svc", "bob")

	reads := filterEntries(readAuditEntries(t, auditPath), audit.ActionSecretRead)
	if len(reads) != 2 {
		t.Fatalf("expected 2 read entries, got %d", len(reads))
	}
	if reads[0].Outcome != "success" {
		t.Errorf("expected success, got %q", reads[0].Outcome)
	}
	if reads[1].Outcome != "nonfatal" {
		t.Errorf("expected nonfatal for missing account, got %q", reads[1].Outcome)
	}
}

func TestAuditedStoreNeverLogsSecret(t *testing.T) {
	store, _, auditPath := setupAuditedStore(t)

	store.SetSecret("svc", "alice", "hunter2")
	store.GetSecret("svc", "alice")
	store.FindSecretByService("svc")

	data, _ := os.ReadFile(auditPath)
	if strings.Contains(string(data), "hunter2") {
		t.Fatalf("audit log contains the secret: %s", data)
	}
}

func TestAuditedStoreDeleteLogsDelete(t *testing.T) {
	store, _, auditPath := setupAuditedStore(t)

	store.SetSecret("svc", "alice", "val")
	store.DeleteSecret("svc", "alice")

	entries := readAuditEntries(t, auditPath)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Action != audit.ActionSecretDelete {
		t.Errorf("expected secret_delete, got %v", entries[1].Action)
	}
	if store.Metadata().Get("svc", "alice") != nil {
		t.Error("expected metadata to be removed with the secret")
	}
}

func TestAuditedStoreEnumerateLogsCount(t *testing.T) {
	store, _, auditPath := setupAuditedStore(t)

	store.SetSecret("svc", "alice", "a")
	store.SetSecret("svc", "bob", "b")
	store.FindCredentialsByService("svc")

	enums := filterEntries(readAuditEntries(t, auditPath), audit.ActionSecretEnumerate)
	if len(enums) != 1 {
		t.Fatalf("expected 1 enumerate entry, got %d", len(enums))
	}
	if enums[0].Count != 2 {
		t.Errorf("expected count 2, got %d", enums[0].Count)
	}
	if enums[0].Account != "" {
		t.Errorf("enumerate entries carry no account, got %q", enums[0].Account)
	}
}

func TestAuditedStoreRecordsFatalMessage(t *testing.T) {
	store, inner, auditPath := setupAuditedStore(t)
	inner.InjectFault(MethodGet, "User interaction is not allowed.")

	out, _ := store.GetSecret("svc", "alice")
	if !out.IsFatal() {
		t.Fatalf("expected fatal, got %v", out)
	}

	entries := readAuditEntries(t, auditPath)
	if entries[0].Outcome != "fatal" {
		t.Errorf("expected fatal outcome, got %q", entries[0].Outcome)
	}
	if entries[0].Error != "User interaction is not allowed." {
		t.Errorf("unexpected error field %q", entries[0].Error)
	}
}

func TestAuditedStoreRotate(t *testing.T) {
	store, _, auditPath := setupAuditedStore(t)

	store.SetSecret("svc", "deploy", "old-value")

	if out := store.Rotate("svc", "deploy", "echo new-value"); !out.IsSuccess() {
		t.Fatalf("Rotate: %v", out)
	}

	out, val := store.GetSecret("svc", "deploy")
	if !out.IsSuccess() {
		t.Fatalf("Get after rotate: %v", out)
	}
	if val != "new-value" {
		t.Errorf("expected 'new-value', got %q", val)
	}

	rotateEntries := filterEntries(readAuditEntries(t, auditPath), audit.ActionSecretRotate)
	if len(rotateEntries) != 1 {
		t.Fatalf("expected 1 rotate entry, got %d", len(rotateEntries))
	}
	if rotateEntries[0].Command != "echo new-value" {
		t.Errorf("expected command 'echo new-value', got %q", rotateEntries[0].Command)
	}
	if rotateEntries[0].Trigger != "hook" {
		t.Errorf("expected trigger hook, got %q", rotateEntries[0].Trigger)
	}

	meta := store.Metadata().Get("svc", "deploy")
	if meta == nil {
		t.Fatal("expected metadata")
	}
	if meta.LastRotated.IsZero() {
		t.Error("expected LastRotated to be set")
	}
}

func TestAuditedStoreRotateFailure(t *testing.T) {
	store, _, auditPath := setupAuditedStore(t)

	store.SetSecret("svc", "deploy", "original")

	out := store.Rotate("svc", "deploy", "echo oops >&2; exit 3")
	if !out.IsFatal() {
		t.Fatalf("expected fatal from failing rotation command, got %v", out)
	}
	if !strings.Contains(out.Message(), "exit code 3") || !strings.Contains(out.Message(), "oops") {
		t.Errorf("message should carry exit code and stderr: %q", out.Message())
	}

	_, val := store.GetSecret("svc", "deploy")
	if val != "original" {
		t.Errorf("expected original value preserved, got %q", val)
	}

	rotateEntries := filterEntries(readAuditEntries(t, auditPath), audit.ActionSecretRotate)
	if len(rotateEntries) != 1 {
		t.Fatalf("expected 1 rotate entry, got %d", len(rotateEntries))
	}
	if rotateEntries[0].Error == "" {
		t.Error("expected error in audit entry")
	}
}

func TestAuditedStoreWithoutLogger(t *testing.T) {
	store := NewAuditedStore(Bind(NewMemoryStore()), nil, nil, "daemon")
	if out := store.SetSecret("svc", "alice", "p"); !out.IsSuccess() {
		t.Fatalf("SetSecret: %v", out)
	}
	if store.Metadata() != nil {
		t.Error("expected nil metadata store")
	}
}

func TestMetadataStorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")

	ms1, _ := NewMetadataStore(path)
	if err := ms1.Update("svc", "alice", func(m *SecretMetadata) {}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	ms2, err := NewMetadataStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	meta := ms2.Get("svc", "alice")
	if meta == nil {
		t.Fatal("expected metadata after reload")
	}
	if meta.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set on first update")
	}
	if ms2.Get("svc", "bob") != nil {
		t.Error("expected nil for untracked account")
	}
}

func TestMetadataStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	os.WriteFile(path, []byte("{not json"), 0600)

	ms, err := NewMetadataStore(path)
	if err != nil {
		t.Fatalf("corrupt file should start fresh, got %v", err)
	}
	if ms.Get("svc", "alice") != nil {
		t.Error("expected empty store")
	}
}
