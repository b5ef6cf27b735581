// Package keychaintest provides the conformance suite every
// keychain.Backend must pass.
package keychaintest

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benaskins/credstore/internal/keychain"
)

// Suite describes a backend under test.
type Suite struct {
	// NewBackend returns an empty backend. It is called once per subtest.
	NewBackend func(t *testing.T) keychain.Backend

	// Service is the service name used by the suite; a unique default is
	// generated when empty so runs against a real store do not collide.
	Service string

	// SkipConcurrency skips the parallel-writers subtest for backends
	// whose underlying store is not safe for it (e.g. global mocks).
	SkipConcurrency bool
}

func (s Suite) service(t *testing.T) string {
	if s.Service != "" {
		return s.Service
	}
	return fmt.Sprintf("credstore-test-%d", time.Now().UnixNano())
}

func cleanup(t *testing.T, b keychain.Backend, service string, accounts ...string) {
	t.Helper()
	t.Cleanup(func() {
		for _, a := range accounts {
			b.DeleteSecret(service, a)
		}
	})
}

// Run executes the conformance suite.
func Run(t *testing.T, s Suite) {
	t.Run("AddThenGet", func(t *testing.T) {
		b, svc := s.NewBackend(t), s.service(t)
		cleanup(t, b, svc, "alice")

		require.True(t, b.AddSecret(svc, "alice", "p1", false).IsSuccess())
		out, v := b.GetSecret(svc, "alice")
		require.True(t, out.IsSuccess(), "get: %v", out)
		assert.Equal(t, "p1", v)
	})

	t.Run("AddDuplicate", func(t *testing.T) {
		b, svc := s.NewBackend(t), s.service(t)
		cleanup(t, b, svc, "alice")

		require.True(t, b.AddSecret(svc, "alice", "p1", false).IsSuccess())
		assert.True(t, b.AddSecret(svc, "alice", "p2", true).IsNonFatal(), "duplicate with allow should be nonfatal")

		dup := b.AddSecret(svc, "alice", "p2", false)
		assert.True(t, dup.IsFatal(), "duplicate without allow should be fatal")
		assert.NotEmpty(t, dup.Message())

		_, v := b.GetSecret(svc, "alice")
		assert.Equal(t, "p1", v, "a rejected add must not change the stored value")
	})

	t.Run("SetReplaces", func(t *testing.T) {
		b, svc := s.NewBackend(t), s.service(t)
		cleanup(t, b, svc, "alice")

		require.True(t, keychain.SetSecret(b, svc, "alice", "p1").IsSuccess())
		require.True(t, keychain.SetSecret(b, svc, "alice", "p2").IsSuccess())

		_, v := b.GetSecret(svc, "alice")
		assert.Equal(t, "p2", v)

		out, creds := b.FindCredentialsByService(svc)
		require.True(t, out.IsSuccess())
		assert.Len(t, creds, 1, "set must not leave duplicate entries")
	})

	t.Run("GetMissing", func(t *testing.T) {
		b, svc := s.NewBackend(t), s.service(t)
		out, v := b.GetSecret(svc, "nobody")
		assert.True(t, out.IsNonFatal(), "got %v", out)
		assert.Empty(t, v)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		b, svc := s.NewBackend(t), s.service(t)
		require.True(t, b.AddSecret(svc, "alice", "p1", false).IsSuccess())

		assert.True(t, b.DeleteSecret(svc, "alice").IsSuccess())
		assert.True(t, b.DeleteSecret(svc, "alice").IsNonFatal())
		out, _ := b.GetSecret(svc, "alice")
		assert.True(t, out.IsNonFatal())
	})

	t.Run("FindSecretByService", func(t *testing.T) {
		b, svc := s.NewBackend(t), s.service(t)
		cleanup(t, b, svc, "alice")

		out, _ := b.FindSecretByService(svc)
		assert.True(t, out.IsNonFatal(), "empty service should be nonfatal, got %v", out)

		require.True(t, b.AddSecret(svc, "alice", "p1", false).IsSuccess())
		out, v := b.FindSecretByService(svc)
		require.True(t, out.IsSuccess(), "find: %v", out)
		assert.Equal(t, "p1", v)
	})

	t.Run("FindCredentialsByService", func(t *testing.T) {
		b, svc := s.NewBackend(t), s.service(t)
		cleanup(t, b, svc, "alice", "bob")

		out, creds := b.FindCredentialsByService(svc)
		assert.True(t, out.IsNonFatal())
		assert.Empty(t, creds)

		require.True(t, b.AddSecret(svc, "alice", "p1", false).IsSuccess())
		require.True(t, b.AddSecret(svc, "bob", "p2", false).IsSuccess())

		out, creds = b.FindCredentialsByService(svc)
		require.True(t, out.IsSuccess(), "enumerate: %v", out)
		require.Len(t, creds, 2)

		accounts := map[string]bool{}
		for _, c := range creds {
			assert.Equal(t, svc, c.Service)
			accounts[c.Account] = true
			c.Attributes.Each(func(k, v string) {
				assert.NotEmpty(t, v, "attribute %q present with empty value", k)
			})
		}
		assert.Equal(t, map[string]bool{"alice": true, "bob": true}, accounts)
	})

	t.Run("ServicesAreIsolated", func(t *testing.T) {
		b := s.NewBackend(t)
		svc := s.service(t)
		other := svc + "-other"
		cleanup(t, b, svc, "alice")
		cleanup(t, b, other, "alice")

		require.True(t, b.AddSecret(svc, "alice", "mine", false).IsSuccess())
		require.True(t, b.AddSecret(other, "alice", "theirs", false).IsSuccess())

		_, v := b.GetSecret(svc, "alice")
		assert.Equal(t, "mine", v)
		_, creds := b.FindCredentialsByService(other)
		assert.Len(t, creds, 1)
	})

	if !s.SkipConcurrency {
		t.Run("ConcurrentDistinctWrites", func(t *testing.T) {
			b, svc := s.NewBackend(t), s.service(t)
			const n = 8
			accounts := make([]string, n)
			for i := range accounts {
				accounts[i] = fmt.Sprintf("user-%d", i)
			}
			cleanup(t, b, svc, accounts...)

			var wg sync.WaitGroup
			for i, a := range accounts {
				i, a := i, a
				wg.Add(1)
				go func() {
					defer wg.Done()
					keychain.SetSecret(b, svc, a, fmt.Sprintf("secret-%d", i))
				}()
			}
			wg.Wait()

			for i, a := range accounts {
				out, v := b.GetSecret(svc, a)
				if assert.True(t, out.IsSuccess(), "get %s: %v", a, out) {
					assert.Equal(t, fmt.Sprintf("secret-%d", i), v)
				}
			}
		})
	}
}
