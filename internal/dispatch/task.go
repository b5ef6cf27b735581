// Package dispatch runs secret store operations on worker goroutines and
// delivers exactly one completion per task to a caller-designated context.
package dispatch

import "fmt"

// Op identifies a secret store operation.
type Op int

const (
	OpSet Op = iota
	OpGet
	OpDelete
	OpFindSecret
	OpFindCredentials
)

var opNames = [...]string{
	OpSet:             "set",
	OpGet:             "get",
	OpDelete:          "delete",
	OpFindSecret:      "find_secret",
	OpFindCredentials: "find_credentials",
}

func (o Op) String() string {
	if o < 0 || int(o) >= len(opNames) {
		return fmt.Sprintf("op(%d)", int(o))
	}
	return opNames[o]
}

// Task is one unit of work. Build tasks with the constructors below; each
// sets only the fields its operation reads. ID is assigned by Schedule.
type Task struct {
	ID      string
	Op      Op
	Service string
	Account string
	Secret  string
}

func SetTask(service, account, secret string) Task {
	return Task{Op: OpSet, Service: service, Account: account, Secret: secret}
}

func GetTask(service, account string) Task {
	return Task{Op: OpGet, Service: service, Account: account}
}

func DeleteTask(service, account string) Task {
	return Task{Op: OpDelete, Service: service, Account: account}
}

func FindSecretTask(service string) Task {
	return Task{Op: OpFindSecret, Service: service}
}

func FindCredentialsTask(service string) Task {
	return Task{Op: OpFindCredentials, Service: service}
}

// String never includes the secret.
func (t Task) String() string {
	if t.Account == "" {
		return fmt.Sprintf("%s %s", t.Op, t.Service)
	}
	return fmt.Sprintf("%s %s/%s", t.Op, t.Service, t.Account)
}
