package keychain

import (
	"strings"
	"testing"
)

func TestMemoryStoreFaultInjection(t *testing.T) {
	s := NewMemoryStore()
	s.InjectFault(MethodAdd, "The user name or passphrase you entered is not correct.")

	out := SetSecret(s, "svc", "alice", "p1")
	if !out.IsFatal() || out.Message() != "The user name or passphrase you entered is not correct." {
		t.Fatalf("expected injected fatal, got %v", out)
	}
	if s.Len() != 0 {
		t.Errorf("failed add must not store anything")
	}

	s.InjectFault(MethodAdd, "")
	if out := SetSecret(s, "svc", "alice", "p1"); !out.IsSuccess() {
		t.Fatalf("after clearing fault: %v", out)
	}
}

func TestMemoryStoreDeleteFaultAbortsSet(t *testing.T) {
	s := NewMemoryStore()
	SetSecret(s, "svc", "alice", "p1")
	s.InjectFault(MethodDelete, "access denied")

	out := SetSecret(s, "svc", "alice", "p2")
	if !out.IsFatal() {
		t.Fatalf("expected fatal, got %v", out)
	}
	if _, v := s.GetSecret("svc", "alice"); v != "p1" {
		t.Errorf("expected p1 preserved, got %q", v)
	}
}

func TestMemoryStoreEnumerationFaultDiscardsPartialResults(t *testing.T) {
	s := NewMemoryStore()
	for _, a := range []string{"alice", "bob", "carol"} {
		s.AddSecret("svc", a, "x", false)
	}
	s.InjectEnumerationFault(2, "item attributes unreadable")

	out, creds := s.FindCredentialsByService("svc")
	if !out.IsFatal() {
		t.Fatalf("expected fatal, got %v", out)
	}
	if creds != nil {
		t.Errorf("partial results must be discarded, got %d", len(creds))
	}
	if !strings.Contains(out.Message(), "after 2 records") {
		t.Errorf("unexpected message %q", out.Message())
	}
}

func TestMemoryStoreEnumeratesWithAttributes(t *testing.T) {
	s := NewMemoryStore()
	s.Put(MemoryItem{Service: "github.com", Account: "alice", Secret: "a", Path: "/login", Port: 443, Protocol: "htps"})
	s.Put(MemoryItem{Service: "github.com", Account: "bob", Secret: "b"})
	s.Put(MemoryItem{Service: "gitlab.com", Account: "carol", Secret: "c"})

	out, creds := s.FindCredentialsByService("github.com")
	if !out.IsSuccess() {
		t.Fatalf("FindCredentialsByService: %v", out)
	}
	if len(creds) != 2 {
		t.Fatalf("expected 2 credentials, got %d", len(creds))
	}
	if creds[0].Account != "alice" || creds[1].Account != "bob" {
		t.Errorf("expected insertion order, got %s, %s", creds[0].Account, creds[1].Account)
	}
	if v, _ := creds[0].Attributes.Get(AttrPort); v != "443" {
		t.Errorf("port = %q", v)
	}
	if creds[1].Attributes.Len() != 0 {
		t.Errorf("bob has no attributes, got %v", creds[1].Attributes.Keys())
	}
}

func TestMemoryStoreFindReturnsFirstInserted(t *testing.T) {
	s := NewMemoryStore()
	s.AddSecret("svc", "bob", "first", false)
	s.AddSecret("svc", "alice", "second", false)

	if _, v := s.FindSecretByService("svc"); v != "first" {
		t.Errorf("expected first inserted secret, got %q", v)
	}

	s.DeleteSecret("svc", "bob")
	if _, v := s.FindSecretByService("svc"); v != "second" {
		t.Errorf("expected remaining secret, got %q", v)
	}
}
