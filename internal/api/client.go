package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/benaskins/credstore/internal/dispatch"
	"github.com/benaskins/credstore/internal/keychain"
)

// Client runs tasks against a credstore daemon. It has the same Do
// signature as dispatch.Dispatcher, so callers can use either.
type Client struct {
	http *http.Client
	base string
}

// NewUnixClient returns a client that talks to the daemon socket.
func NewUnixClient(socketPath string) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
		base: "http://credstore",
	}
}

// NewClient returns a client for an HTTP base URL, e.g. a TCP listener.
func NewClient(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{http: hc, base: base}
}

func taskRequest(t dispatch.Task) (method, path string, body any) {
	q := url.Values{"service": {t.Service}}
	switch t.Op {
	case dispatch.OpSet, dispatch.OpGet, dispatch.OpDelete:
		q.Set("account", t.Account)
	}
	switch t.Op {
	case dispatch.OpSet:
		return http.MethodPut, "/v1/secrets?" + q.Encode(), SetRequest{Secret: t.Secret}
	case dispatch.OpGet:
		return http.MethodGet, "/v1/secrets?" + q.Encode(), nil
	case dispatch.OpDelete:
		return http.MethodDelete, "/v1/secrets?" + q.Encode(), nil
	case dispatch.OpFindSecret:
		return http.MethodGet, "/v1/secrets/first?" + q.Encode(), nil
	default:
		return http.MethodGet, "/v1/credentials?" + q.Encode(), nil
	}
}

// Do sends one task to the daemon and decodes its completion. The error
// return covers transport problems only; operation failures are in the
// Result.
func (c *Client) Do(ctx context.Context, t dispatch.Task) (dispatch.Result, error) {
	method, path, body := taskRequest(t)

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return dispatch.Result{}, err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return dispatch.Result{}, err
	}
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("connecting to daemon: %w (is credstore daemon running?)", err)
	}
	defer resp.Body.Close()

	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "application/json" {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return dispatch.Result{}, fmt.Errorf("no API route for %s %s (status %d): %s",
			method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var raw struct {
		Error *string         `json:"error"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&raw); err != nil {
		return dispatch.Result{}, fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return dispatch.Result{}, fmt.Errorf("API error %d: %s", resp.StatusCode, deref(raw.Error))
	case raw.Error != nil:
		return dispatch.NewResult(t, keychain.Fatal, nil, &keychain.FatalError{Message: *raw.Error}), nil
	case resp.StatusCode >= 500:
		return dispatch.NewResult(t, keychain.Fatal, nil, &keychain.FatalError{Message: resp.Status}), nil
	}

	kind := keychain.Success
	if resp.StatusCode == http.StatusNotFound {
		kind = keychain.NonFatal
	}
	value, err := decodeValue(t.Op, raw.Value)
	if err != nil {
		return dispatch.Result{}, err
	}
	return dispatch.NewResult(t, kind, value, nil), nil
}

func decodeValue(op dispatch.Op, raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		if op == dispatch.OpFindCredentials {
			return []keychain.Credential{}, nil
		}
		return nil, nil
	}
	var err error
	switch op {
	case dispatch.OpGet, dispatch.OpFindSecret:
		var s string
		err = json.Unmarshal(raw, &s)
		return s, err
	case dispatch.OpDelete:
		var b bool
		err = json.Unmarshal(raw, &b)
		return b, err
	case dispatch.OpFindCredentials:
		creds := []keychain.Credential{}
		err = json.Unmarshal(raw, &creds)
		return creds, err
	default:
		return nil, errors.New("unexpected value for " + op.String())
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
