package dispatch

import (
	"fmt"

	"github.com/benaskins/credstore/internal/keychain"
)

// Result is the two-slot completion of a task. Err is non-nil only when the
// operation failed fatally (or could not be run at all); Value then is nil.
//
//	op                 success            nonfatal
//	OpSet              nil                (never)
//	OpGet              string             nil
//	OpDelete           true               false
//	OpFindSecret       string             nil
//	OpFindCredentials  []Credential       empty []Credential
type Result struct {
	TaskID string
	Op     Op
	Err    error
	Value  any

	kind keychain.Kind
}

// Kind reports how the operation ended. Any result with an error is Fatal.
func (r Result) Kind() keychain.Kind {
	if r.Err != nil {
		return keychain.Fatal
	}
	return r.kind
}

// Secret returns the string payload of a get or find-secret task.
func (r Result) Secret() (string, bool) {
	s, ok := r.Value.(string)
	return s, ok
}

// Deleted reports whether a delete task removed an entry.
func (r Result) Deleted() bool {
	b, _ := r.Value.(bool)
	return b
}

// Credentials returns the payload of a find-credentials task.
func (r Result) Credentials() []keychain.Credential {
	c, _ := r.Value.([]keychain.Credential)
	return c
}

// NewResult builds the completion of t from its parts, for results that
// arrive from elsewhere (e.g. over the API). A non-nil err forces Fatal.
func NewResult(t Task, kind keychain.Kind, value any, err error) Result {
	if err != nil {
		return failed(t, err)
	}
	return Result{TaskID: t.ID, Op: t.Op, Value: value, kind: kind}
}

func failed(t Task, err error) Result {
	return Result{TaskID: t.ID, Op: t.Op, Err: err, kind: keychain.Fatal}
}

// complete converts a backend outcome into the task's completion, using
// payload on success and sentinel on a nonfatal failure.
func complete(t Task, out keychain.Outcome, payload, sentinel any) Result {
	switch out.Kind() {
	case keychain.Success:
		return Result{TaskID: t.ID, Op: t.Op, Value: payload, kind: keychain.Success}
	case keychain.NonFatal:
		return Result{TaskID: t.ID, Op: t.Op, Value: sentinel, kind: keychain.NonFatal}
	default:
		return failed(t, out.Err())
	}
}

// run executes the task against the store exactly once.
func run(s keychain.Store, t Task) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failed(t, &keychain.FatalError{Message: fmt.Sprintf("backend panic: %v", r)})
		}
	}()

	switch t.Op {
	case OpSet:
		out := s.SetSecret(t.Service, t.Account, t.Secret)
		return complete(t, out, nil, nil)
	case OpGet:
		out, secret := s.GetSecret(t.Service, t.Account)
		return complete(t, out, secret, nil)
	case OpDelete:
		out := s.DeleteSecret(t.Service, t.Account)
		return complete(t, out, true, false)
	case OpFindSecret:
		out, secret := s.FindSecretByService(t.Service)
		return complete(t, out, secret, nil)
	case OpFindCredentials:
		out, creds := s.FindCredentialsByService(t.Service)
		if creds == nil {
			creds = []keychain.Credential{}
		}
		return complete(t, out, creds, []keychain.Credential{})
	default:
		return failed(t, &keychain.FatalError{Message: fmt.Sprintf("unknown operation %v", t.Op)})
	}
}
