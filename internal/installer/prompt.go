package installer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Prompter collects answers for installer prompts from the operator.
type Prompter interface {
	// YesNo shows question and returns the raw answer line.
	YesNo(question string) (string, error)
	// Secret shows prompt and returns the answer without echoing it.
	Secret(prompt string) (string, error)
}

// TerminalPrompter asks on the controlling terminal.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer

	once   sync.Once
	reader *bufio.Reader
}

// NewTerminalPrompter prompts on stdin and stdout.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stdout}
}

func (t *TerminalPrompter) lines() *bufio.Reader {
	t.once.Do(func() {
		t.reader = bufio.NewReader(t.In)
	})

	return t.reader
}

func (t *TerminalPrompter) YesNo(question string) (string, error) {
	fmt.Fprint(t.Out, question)

	line, err := t.lines().ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read answer: %w", err)
	}

	return strings.TrimSpace(line), nil
}

func (t *TerminalPrompter) Secret(prompt string) (string, error) {
	fmt.Fprint(t.Out, prompt)

	fd := int(t.In.Fd())
	if !term.IsTerminal(fd) {
		line, err := t.lines().ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(t.Out)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}

	return string(secret), nil
}

// Password adapts the prompter to the SSH password callback.
func Password(p Prompter) func(user, host string) (string, error) {
	return func(user, host string) (string, error) {
		return p.Secret(fmt.Sprintf("Please enter password for %s@%s: ", user, host))
	}
}
