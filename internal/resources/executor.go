package resources

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Status is the outcome of a command on a single host.
type Status string

const (
	StatusSuccess Status = "Success"
	StatusFailure Status = "Failure"
)

// Result is what one host returned for a command.
type Result struct {
	Host   string
	Status Status
	Output string
	Err    error
}

// OK reports whether the command exited zero on the host.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Results maps a host address to its Result.
type Results map[string]Result

// Failed returns the sorted hosts whose command did not succeed.
func (r Results) Failed() []string {
	var failed []string
	for host, res := range r {
		if !res.OK() {
			failed = append(failed, host)
		}
	}
	sort.Strings(failed)

	return failed
}

// Output renders every host's output in host order, each block headed by
// "[SUCCESS] host:" or "[FAILURE] host:".
func (r Results) Output() string {
	hosts := make([]string, 0, len(r))
	for host := range r {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	var b strings.Builder
	for _, host := range hosts {
		res := r[host]
		fmt.Fprintf(&b, "[%s] %s:\n%s\n", strings.ToUpper(string(res.Status)), host, res.Output)
	}

	return b.String()
}

// Session is an interactive remote process attached to a terminal.
// Reads return the merged terminal output; writes go to the process input.
type Session interface {
	io.Reader
	io.Writer
	// Wait blocks until the remote process exits and returns its exit status.
	Wait() (int, error)
	Close() error
}

// Executor runs commands and copies files on remote hosts.
// A failure on one host never aborts the call for the others.
type Executor interface {
	Run(cmd string, hosts ...string) Results
	Copy(localPath, remotePath string, hosts ...string) error
	RunInteractive(cmd, host string) (Session, error)
}
