package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/awnumar/memguard"
	"golang.org/x/term"

	"github.com/benaskins/credstore/internal/api"
	"github.com/benaskins/credstore/internal/audit"
	"github.com/benaskins/credstore/internal/dispatch"
	"github.com/benaskins/credstore/internal/keychain"
)

// session runs tasks either in-process through a dispatcher over the
// configured backend, or against the daemon when --remote is set.
type session struct {
	store   *keychain.AuditedStore // nil when remote
	disp    *dispatch.Dispatcher   // nil when remote
	client  *api.Client            // nil when local
	deliver dispatch.Deliverer
	closers []func()
}

// openSession prepares a session. Completions of scheduled tasks run
// through deliver (Direct when nil).
func openSession(actor string, deliver dispatch.Deliverer) (*session, error) {
	if deliver == nil {
		deliver = dispatch.Direct
	}
	s := &session{deliver: deliver}

	switch {
	case remoteAddr != "":
		s.client = api.NewClient("http://"+remoteAddr, nil)
		return s, nil
	case remote:
		s.client = api.NewUnixClient(defaultSocketPath())
		return s, nil
	}

	store, closeStore, err := openAuditedStore(actor)
	if err != nil {
		return nil, err
	}
	s.store = store
	s.closers = append(s.closers, closeStore)

	s.disp = dispatch.New(store,
		dispatch.WithWorkers(cfg.Workers),
		dispatch.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		dispatch.WithDeliverer(deliver),
	)
	s.closers = append(s.closers, s.disp.Close)
	return s, nil
}

// openAuditedStore opens the configured backend wrapped with audit
// logging and metadata tracking.
func openAuditedStore(actor string) (*keychain.AuditedStore, func(), error) {
	sc := cfg.StoreConfig()
	sc.Keyring.FilePassword = filePassphrase

	backend, err := keychain.Open(sc)
	if err != nil {
		return nil, nil, err
	}
	slog.Debug("backend opened", "backend", sc.Name, "type", fmt.Sprintf("%T", backend))

	var auditLog *audit.Logger
	closeFn := func() {}
	if cfg.AuditLog != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.AuditLog), 0700); err != nil {
			return nil, nil, fmt.Errorf("creating audit log dir: %w", err)
		}
		auditLog, err = audit.NewLogger(cfg.AuditLog)
		if err != nil {
			return nil, nil, fmt.Errorf("opening audit log: %w", err)
		}
		closeFn = func() { auditLog.Close() }
		slog.Debug("audit log open", "path", auditLog.Path())
	}

	var meta *keychain.MetadataStore
	if home, err := credstoreHome(); err == nil {
		meta, err = keychain.NewMetadataStore(filepath.Join(home, "secret-metadata.json"))
		if err != nil {
			slog.Warn("secret metadata unavailable", "error", err)
		}
	}

	return keychain.NewAuditedStore(keychain.Bind(backend), auditLog, meta, actor), closeFn, nil
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Do runs one task and waits for it.
func (s *session) Do(ctx context.Context, t dispatch.Task) (dispatch.Result, error) {
	if s.client != nil {
		return s.client.Do(ctx, t)
	}
	return s.disp.Do(ctx, t)
}

// Schedule queues a task; sink runs through the session's deliverer.
func (s *session) Schedule(t dispatch.Task, sink func(dispatch.Result)) {
	if s.disp != nil {
		s.disp.Schedule(t, sink)
		return
	}
	go func() {
		r, err := s.client.Do(context.Background(), t)
		if err != nil {
			r = dispatch.NewResult(t, keychain.Fatal, nil, err)
		}
		s.deliver.Deliver(func() { sink(r) })
	}()
}

// filePassphrase supplies the passphrase for the keyring file backend from
// CREDSTORE_FILE_PASSPHRASE or an interactive prompt.
func filePassphrase(prompt string) (string, error) {
	if p := os.Getenv("CREDSTORE_FILE_PASSPHRASE"); p != "" {
		return p, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("keyring passphrase required: set CREDSTORE_FILE_PASSPHRASE")
	}
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	defer memguard.WipeBytes(b)
	return string(b), nil
}
