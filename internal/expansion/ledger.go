package expansion

import (
	"fmt"
	"io"
	"sync"
)

// Outcome is the final verdict on one new host.
type Outcome struct {
	Success bool
	// Skipped marks a host that was never attempted.
	Skipped bool
	Reason  string
	done    bool
}

// Ledger records one Outcome per new host in plan order. A host marked failed
// or skipped keeps that verdict.
type Ledger struct {
	mu      sync.Mutex
	order   []string
	entries map[string]*Outcome
}

// NewLedger returns a ledger with every host pending.
func NewLedger(names ...string) *Ledger {
	l := &Ledger{entries: make(map[string]*Outcome, len(names))}
	for _, name := range names {
		if _, dup := l.entries[name]; dup {
			continue
		}
		l.order = append(l.order, name)
		l.entries[name] = &Outcome{}
	}

	return l
}

func (l *Ledger) settle(name string, o Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.entries[name]
	if !ok {
		l.order = append(l.order, name)
		cur = &Outcome{}
		l.entries[name] = cur
	}
	if cur.done && !cur.Success {
		return
	}

	o.done = true
	*cur = o
}

// Succeed marks name as a healthy member.
func (l *Ledger) Succeed(name string) {
	l.settle(name, Outcome{Success: true})
}

// Fail marks name as failed for reason.
func (l *Ledger) Fail(name, reason string) {
	l.settle(name, Outcome{Reason: reason})
}

// Skip marks name as not attempted for reason.
func (l *Ledger) Skip(name, reason string) {
	l.settle(name, Outcome{Skipped: true, Reason: reason})
}

// Get returns the outcome of name.
func (l *Ledger) Get(name string) (Outcome, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.entries[name]
	if !ok {
		return Outcome{}, false
	}

	return *o, true
}

// Succeeded reports whether name finished as a healthy member.
func (l *Ledger) Succeeded(name string) bool {
	o, _ := l.Get(name)

	return o.Success
}

// Names returns the hosts in ledger order.
func (l *Ledger) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.order...)
}

// Failed returns the hosts that were attempted and did not succeed, including
// any still pending.
func (l *Ledger) Failed() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []string
	for _, name := range l.order {
		o := l.entries[name]
		if !o.Success && !o.Skipped {
			out = append(out, name)
		}
	}

	return out
}

// Report writes the per-host summary.
func (l *Ledger) Report(w io.Writer) {
	fmt.Fprintln(w, "Expansion results:")
	for _, name := range l.Names() {
		result := "Failed"
		if l.Succeeded(name) {
			result = "Success"
		}
		fmt.Fprintf(w, "%s:\t%s\n", name, result)
	}
}
