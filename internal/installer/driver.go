// Package installer drives the interactive database installer on new hosts.
package installer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/gauss-ops/gs-expansion/internal/resources"
)

// ErrInstallFailed is returned when the installer failed on any host.
var ErrInstallFailed = errors.New("install database failed")

const chunkSize = 1024

var yesNoRe = regexp.MustCompile(`(?i).*yes.*no.*`)

// Target is one host to install and the descriptor staged on it.
type Target struct {
	Name       string
	Address    string
	Descriptor string
}

// Driver runs gs_install through a terminal session and answers its prompts.
type Driver struct {
	Exec     resources.Executor
	Prompter Prompter
	EnvFile  string
	// Out receives the installer output verbatim.
	Out io.Writer
}

// Install runs the installer on every target in order. All targets are
// attempted; any non-zero exit fails the phase.
func (d *Driver) Install(targets []Target) error {
	var failed []string

	for _, t := range targets {
		resources.LogLevel("info", "Installing database on node %s:", t.Name)

		code, err := d.installOne(t)
		if err != nil {
			resources.LogLevel("error", "install on %s: %v", t.Name, err)
			failed = append(failed, t.Name)
			continue
		}
		if code != 0 {
			resources.LogLevel("error", "install on %s exited with %d", t.Name, code)
			failed = append(failed, t.Name)
			continue
		}
		resources.LogLevel("info", "%s install success.", t.Name)
	}

	if len(failed) > 0 {
		return fmt.Errorf("%w on %s", ErrInstallFailed, strings.Join(failed, ","))
	}

	return nil
}

func (d *Driver) installOne(t Target) (int, error) {
	cmd := resources.SourceEnv(d.EnvFile, fmt.Sprintf("gs_install -X %s 2>&1", t.Descriptor))

	s, err := d.Exec.RunInteractive(cmd, t.Address)
	if err != nil {
		return -1, err
	}
	defer s.Close()

	if err = d.Drive(s); err != nil {
		return -1, err
	}

	return s.Wait()
}

// Drive pumps s until its output is exhausted. Chunks that end a line are
// echoed, blank chunks are dropped and anything else is a prompt that gets an
// answer written back.
func (d *Driver) Drive(s resources.Session) error {
	out := d.Out
	if out == nil {
		out = os.Stdout
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := s.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			switch {
			case strings.TrimSpace(chunk) == "":
			case strings.HasSuffix(chunk, "\n"):
				fmt.Fprint(out, chunk)
			default:
				if answerErr := d.answer(s, chunk); answerErr != nil {
					return answerErr
				}
			}
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read installer output: %w", err)
		}
	}
}

func (d *Driver) answer(w io.Writer, prompt string) error {
	var (
		reply string
		err   error
	)

	if yesNoRe.MatchString(prompt) {
		reply, err = d.yesNo(prompt)
	} else {
		reply, err = d.Prompter.Secret(prompt)
	}
	if err != nil {
		return fmt.Errorf("answer installer prompt: %w", err)
	}

	if _, err = io.WriteString(w, reply+"\r\n"); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}

	return nil
}

func (d *Driver) yesNo(question string) (string, error) {
	for {
		reply, err := d.Prompter.YesNo(question)
		if err != nil {
			return "", err
		}

		switch strings.ToUpper(strings.TrimSpace(reply)) {
		case "YES", "NO", "Y", "N":
			return strings.TrimSpace(reply), nil
		}
		question = "Please type 'yes' or 'no': "
	}
}
