package expansion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"
)

// ErrWorkerFailed is returned when the database-user phase did not succeed.
var ErrWorkerFailed = errors.New("install and expansion as database user failed")

// Runner starts the database-user phase. The channel delivers exactly one
// value: nil on success.
type Runner interface {
	Start(ctx context.Context) <-chan error
}

// InProcess runs the phase in a goroutine of the current process. It is used
// when the run already belongs to the database user.
type InProcess func(ctx context.Context) error

func (f InProcess) Start(ctx context.Context) <-chan error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrWorkerFailed, r)
			}
		}()
		done <- f(ctx)
	}()

	return done
}

// Reexec runs the phase in a child process of this binary whose credentials
// are those of the database user. The parent keeps root for cleanup.
// Args is evaluated when the child starts, after the checks narrowed the plan.
type Reexec struct {
	Path string
	Args func() []string
	User *user.User
}

// NewReexec prepares a child running this executable as username.
func NewReexec(username string, args func() []string) (*Reexec, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}

	u, err := user.Lookup(username)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", username, err)
	}

	return &Reexec{Path: self, Args: args, User: u}, nil
}

func (r *Reexec) Start(ctx context.Context) <-chan error {
	done := make(chan error, 1)

	uid, gid, err := ids(r.User)
	if err != nil {
		done <- err
		return done
	}

	cmd := exec.CommandContext(ctx, r.Path, r.Args()...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)},
	}
	cmd.Dir = r.User.HomeDir
	cmd.Env = append(os.Environ(),
		"HOME="+r.User.HomeDir,
		"USER="+r.User.Username,
		"LOGNAME="+r.User.Username,
	)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr

	go func() {
		if runErr := cmd.Run(); runErr != nil {
			done <- fmt.Errorf("%w: %v", ErrWorkerFailed, runErr)
			return
		}
		done <- nil
	}()

	return done
}

func ids(u *user.User) (uid, gid int, err error) {
	uid, err = strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("uid of %s: %w", u.Username, err)
	}
	gid, err = strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, fmt.Errorf("gid of %s: %w", u.Username, err)
	}

	return uid, gid, nil
}

func lookupIDs(username string) (uid, gid int, err error) {
	u, err := user.Lookup(username)
	if err != nil {
		return 0, 0, fmt.Errorf("user %s: %w", username, err)
	}

	return ids(u)
}
