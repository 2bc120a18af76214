// Package fake provides a scripted resources.Executor for tests.
package fake

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/gauss-ops/gs-expansion/internal/resources"
)

// Response is one scripted answer to a command.
type Response struct {
	Output string
	Fail   bool
}

// OK is a successful response with the given output.
func OK(output string) Response {
	return Response{Output: output}
}

// Fail is a failed response with the given output.
func Fail(output string) Response {
	return Response{Output: output, Fail: true}
}

type rule struct {
	host      string
	substr    string
	responses []Response
	served    int
}

// Call records one Run invocation on one host.
type Call struct {
	Host string
	Cmd  string
}

// CopyCall records one Copy invocation.
type CopyCall struct {
	Local  string
	Remote string
	Hosts  []string
	Data   []byte
}

// Executor answers commands by the first rule whose host (empty matches any)
// and substring match. Each match consumes the next response; the last one
// repeats. Unmatched commands succeed with empty output.
type Executor struct {
	mu       sync.Mutex
	rules    []*rule
	calls    []Call
	copies   []CopyCall
	sessions map[string]*Session
	CopyErr  error
}

// New returns an empty fake executor.
func New() *Executor {
	return &Executor{sessions: make(map[string]*Session)}
}

// On scripts the answers for commands containing substr on host.
func (f *Executor) On(host, substr string, responses ...Response) *Executor {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = append(f.rules, &rule{host: host, substr: substr, responses: responses})

	return f
}

// Session scripts the interactive session returned for host.
func (f *Executor) Session(host string, s *Session) *Executor {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sessions[host] = s

	return f
}

func (f *Executor) Run(cmd string, hosts ...string) resources.Results {
	f.mu.Lock()
	defer f.mu.Unlock()

	results := make(resources.Results, len(hosts))
	for _, host := range hosts {
		f.calls = append(f.calls, Call{Host: host, Cmd: cmd})

		resp := f.answer(host, cmd)
		res := resources.Result{Host: host, Status: resources.StatusSuccess, Output: resp.Output}
		if resp.Fail {
			res.Status = resources.StatusFailure
			res.Err = errors.New("exit status 1")
		}
		results[host] = res
	}

	return results
}

func (f *Executor) answer(host, cmd string) Response {
	for _, r := range f.rules {
		if r.host != "" && r.host != host {
			continue
		}
		if !strings.Contains(cmd, r.substr) || len(r.responses) == 0 {
			continue
		}

		i := r.served
		if i >= len(r.responses) {
			i = len(r.responses) - 1
		}
		r.served++

		return r.responses[i]
	}

	return Response{}
}

func (f *Executor) Copy(localPath, remotePath string, hosts ...string) error {
	data, _ := readIfFile(localPath)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.copies = append(f.copies, CopyCall{Local: localPath, Remote: remotePath, Hosts: hosts, Data: data})

	return f.CopyErr
}

func (f *Executor) RunInteractive(cmd, host string) (resources.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Host: host, Cmd: cmd})

	s, ok := f.sessions[host]
	if !ok {
		return nil, errors.New("no session scripted for " + host)
	}

	return s, nil
}

// Calls returns every recorded Run call.
func (f *Executor) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Call(nil), f.calls...)
}

// Commands returns the commands run on host, in order.
func (f *Executor) Commands(host string) []string {
	var cmds []string
	for _, c := range f.Calls() {
		if c.Host == host {
			cmds = append(cmds, c.Cmd)
		}
	}

	return cmds
}

// Count returns how many commands containing substr ran on host.
func (f *Executor) Count(host, substr string) int {
	n := 0
	for _, cmd := range f.Commands(host) {
		if strings.Contains(cmd, substr) {
			n++
		}
	}

	return n
}

// Copies returns every recorded Copy call.
func (f *Executor) Copies() []CopyCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]CopyCall(nil), f.copies...)
}

// Session is a scripted interactive session: reads return Chunks one at a
// time, then io.EOF; writes are captured in Input.
type Session struct {
	Chunks   []string
	ExitCode int

	mu    sync.Mutex
	next  int
	Input bytes.Buffer
}

func (s *Session) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.Chunks) {
		return 0, io.EOF
	}
	n := copy(p, s.Chunks[s.next])
	s.next++

	return n, nil
}

func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.Input.Write(p)
}

func (s *Session) Wait() (int, error) {
	return s.ExitCode, nil
}

func (s *Session) Close() error {
	return nil
}
