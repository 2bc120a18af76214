package resources

import (
	"errors"
	"fmt"
	"strings"
)

// EnsureRemoteDir creates dir on hosts and, when owner is set, hands it over
// as "user:group".
func EnsureRemoteDir(e Executor, dir, owner string, hosts ...string) error {
	if dir == "" || !strings.HasPrefix(dir, "/") {
		return fmt.Errorf("dir should be an absolute path, got %q", dir)
	}

	cmd := fmt.Sprintf("mkdir -m a+x -p '%s'", dir)
	if owner != "" {
		cmd += fmt.Sprintf(" && chown %s '%s'", owner, dir)
	}

	res := e.Run(cmd, hosts...)
	if failed := res.Failed(); len(failed) > 0 {
		return fmt.Errorf("failed to create %s on %v:\n%s", dir, failed, res.Output())
	}

	return nil
}

// RemoteDirExists reports whether dir is a directory on host.
func RemoteDirExists(e Executor, dir, host string) bool {
	cmd := fmt.Sprintf("if [ ! -d '%s' ]; then exit 1; fi", dir)

	return e.Run(cmd, host)[host].OK()
}

// RemoteFileExists reports whether file is a regular file on host.
func RemoteFileExists(e Executor, file, host string) bool {
	cmd := fmt.Sprintf("if [ ! -f '%s' ]; then exit 1; fi", file)

	return e.Run(cmd, host)[host].OK()
}

// RemoveRemoteDir deletes dir on hosts. Every host is attempted.
func RemoveRemoteDir(e Executor, dir string, hosts ...string) error {
	if dir == "" || dir == "/" {
		return errors.New("refusing to remove an empty or root dir")
	}

	cmd := fmt.Sprintf("if [ -d '%s' ]; then rm -rf '%s'; fi", dir, dir)
	res := e.Run(cmd, hosts...)
	if failed := res.Failed(); len(failed) > 0 {
		return fmt.Errorf("failed to remove %s on %v", dir, failed)
	}

	return nil
}
