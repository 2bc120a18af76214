package resources

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

type sshSession struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

// RunInteractive starts cmd on host behind a pseudo terminal.
// Terminal output and error streams are merged into the session reader.
func (e *SSHExecutor) RunInteractive(cmd, host string) (Session, error) {
	conn, err := e.getOrDial(host)
	if err != nil {
		return nil, err
	}

	session, err := conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", 80, 200, modes); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("request pty on %s: %w", host, err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("stdin pipe on %s: %w", host, err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("stdout pipe on %s: %w", host, err)
	}

	stderr, err := session.StderrPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("stderr pipe on %s: %w", host, err)
	}

	if err := session.Start(cmd); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("start %q on %s: %w", cmd, host, err)
	}

	return &sshSession{
		session: session,
		stdin:   stdin,
		stdout:  io.MultiReader(stdout, stderr),
	}, nil
}

func (s *sshSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *sshSession) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

func (s *sshSession) Wait() (int, error) {
	err := s.session.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}

	return -1, err
}

func (s *sshSession) Close() error {
	_ = s.stdin.Close()
	err := s.session.Close()
	if errors.Is(err, io.EOF) {
		return nil
	}

	return err
}
