package resources

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

// PasswordFunc supplies the password for user on host.
type PasswordFunc func(user, host string) (string, error)

// SSHConfig describes how the executor authenticates.
// KeyPath is used when readable; Password is asked for otherwise, and again on
// every rejected attempt up to PasswordAttempts.
type SSHConfig struct {
	User             string
	KeyPath          string
	Port             int
	Password         PasswordFunc
	PasswordAttempts int
	Parallelism      int
	Dial             RetryCfg
}

// RetryCfg is the configuration for retrying connection attempts.
// Attempts: total attempts.
// Delay: fixed delay between attempts.
// NonRetryableErrorSubString: error substrings that MUST stop retrying.
type RetryCfg struct {
	Attempts                   uint
	Delay                      time.Duration
	NonRetryableErrorSubString []string
}

var defaultDialCfg = RetryCfg{
	Attempts: 3,
	Delay:    2 * time.Second,
	NonRetryableErrorSubString: []string{
		"unable to authenticate",
		"permission denied",
		"host key verification failed",
		"invalid argument",
	},
}

// SSHExecutor is an Executor over golang.org/x/crypto/ssh.
// Connections are pooled per host and checked before reuse.
type SSHExecutor struct {
	cfg SSHConfig

	sync.Mutex
	connClient map[string]*ssh.Client
}

// NewSSHExecutor returns an executor that connects as cfg.User.
func NewSSHExecutor(cfg SSHConfig) *SSHExecutor {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.PasswordAttempts == 0 {
		cfg.PasswordAttempts = 3
	}
	if cfg.Parallelism == 0 {
		cfg.Parallelism = 16
	}
	if cfg.Dial.Attempts == 0 {
		cfg.Dial = defaultDialCfg
	}

	return &SSHExecutor{cfg: cfg, connClient: make(map[string]*ssh.Client)}
}

// Run executes cmd on every host concurrently.
func (e *SSHExecutor) Run(cmd string, hosts ...string) Results {
	results := make(Results, len(hosts))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(e.cfg.Parallelism)
	for _, host := range hosts {
		host := host
		g.Go(func() error {
			res := e.runOnHost(cmd, host)

			mu.Lock()
			results[host] = res
			mu.Unlock()

			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *SSHExecutor) runOnHost(cmd, host string) Result {
	if cmd == "" {
		return Result{Host: host, Status: StatusFailure, Err: errors.New("cmd should not be empty")}
	}

	conn, err := e.getOrDial(host)
	if err != nil {
		return Result{
			Host:   host,
			Status: StatusFailure,
			Output: err.Error(),
			Err:    fmt.Errorf("failed to connect to host %s: %w", host, err),
		}
	}

	stdout, stderr, err := runsshCommand(cmd, conn)
	output := strings.TrimSpace(strings.TrimSpace(stdout) + "\n" + strings.TrimSpace(stderr))
	if err != nil {
		LogLevel("debug", "command: %s failed on %s: %v\n%s", cmd, host, err, output)
		return Result{Host: host, Status: StatusFailure, Output: output, Err: err}
	}

	return Result{Host: host, Status: StatusSuccess, Output: output}
}

// Close drops every pooled connection.
func (e *SSHExecutor) Close() error {
	e.Lock()
	defer e.Unlock()

	var errs []error
	for host, conn := range e.connClient {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", host, err))
		}
		delete(e.connClient, host)
	}

	return errors.Join(errs...)
}

func (e *SSHExecutor) address(host string) string {
	return net.JoinHostPort(host, strconv.Itoa(e.cfg.Port))
}

func (e *SSHExecutor) configureSSH(host string) (*ssh.Client, error) {
	var auth []ssh.AuthMethod

	if e.cfg.KeyPath != "" {
		if method, err := publicKey(e.cfg.KeyPath); err == nil {
			auth = append(auth, method)
		} else {
			LogLevel("debug", "skipping key auth for %s: %v", host, err)
		}
	}

	if e.cfg.Password != nil {
		user := e.cfg.User
		prompt := func() (string, error) {
			return e.cfg.Password(user, host)
		}
		auth = append(auth, ssh.RetryableAuthMethod(ssh.PasswordCallback(prompt), e.cfg.PasswordAttempts))
	}

	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh auth method available for %s@%s", e.cfg.User, host)
	}

	cfg := &ssh.ClientConfig{
		User:            e.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	conn, err := ssh.Dial("tcp", e.address(host), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", host, err)
	}

	return conn, nil
}

// dial connects to host, retrying transient network errors.
func (e *SSHExecutor) dial(host string) (*ssh.Client, error) {
	var conn *ssh.Client

	err := retry.Do(
		func() error {
			var dialErr error
			conn, dialErr = e.configureSSH(host)
			if dialErr != nil && fatalSSHError(dialErr, &e.cfg.Dial) {
				return retry.Unrecoverable(dialErr)
			}

			return dialErr
		},
		retry.Attempts(e.cfg.Dial.Attempts),
		retry.Delay(e.cfg.Dial.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			LogLevel("debug", "ssh dial %s attempt %d/%d failed: %v", host, n+1, e.cfg.Dial.Attempts, err)
		}),
	)
	if err != nil {
		return nil, err
	}

	return conn, nil
}

// fatalSSHError checks if the error should not be retried.
func fatalSSHError(err error, cfg *RetryCfg) bool {
	msg := strings.ToLower(err.Error())

	for _, nonRetry := range cfg.NonRetryableErrorSubString {
		if strings.Contains(msg, nonRetry) {
			return true
		}
	}

	return false
}

func runsshCommand(cmd string, conn *ssh.Client) (stdoutStr, stderrStr string, err error) {
	session, err := conn.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdoutBuf bytes.Buffer
	var stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	errssh := session.Run(cmd)
	stdoutStr = stdoutBuf.String()
	stderrStr = stderrBuf.String()

	return stdoutStr, stderrStr, errssh
}

// getOrDial returns the pooled connection for host or dials a new one.
func (e *SSHExecutor) getOrDial(host string) (*ssh.Client, error) {
	e.Lock()
	conn := e.connClient[host]
	e.Unlock()

	// if there is an existing connection, check if it's still valid.
	// if not, remove it from the pool.
	if conn != nil {
		_, _, err := runsshCommand("echo ok", conn)
		if err == nil {
			return conn, nil
		}
		_ = conn.Close()
		e.Lock()
		delete(e.connClient, host)
		e.Unlock()
	}

	newConn, err := e.dial(host)
	if err != nil {
		return nil, err
	}

	e.Lock()
	e.connClient[host] = newConn
	e.Unlock()

	return newConn, nil
}

func publicKey(path string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}

	signer, signerErr := ssh.ParsePrivateKey(key)
	if signerErr != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", signerErr)
	}

	return ssh.PublicKeys(signer), nil
}
