package resources

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Copy copies localPath to remotePath on every host.
// A regular file lands exactly at remotePath; a directory's contents are placed
// under remotePath. Every host is attempted and the errors are joined.
func (e *SSHExecutor) Copy(localPath, remotePath string, hosts ...string) error {
	if localPath == "" || remotePath == "" {
		return ReturnLogError("local and remote paths should not be empty")
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(e.cfg.Parallelism)

	for _, host := range hosts {
		host := host
		g.Go(func() error {
			var copyErr error
			if info.IsDir() {
				copyErr = e.copyDir(localPath, remotePath, host)
			} else {
				copyErr = e.copyFile(localPath, remotePath, info.Mode().Perm(), host)
			}
			if copyErr != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("copy %s to %s:%s: %w", localPath, host, remotePath, copyErr))
				mu.Unlock()
			}

			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func (e *SSHExecutor) copyFile(localPath, remotePath string, mode os.FileMode, host string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer file.Close()

	cmd := fmt.Sprintf("mkdir -p '%s' && cat > '%s' && chmod %o '%s'",
		path.Dir(remotePath), remotePath, mode, remotePath)

	return e.stream(host, cmd, file)
}

func (e *SSHExecutor) copyDir(localDir, remoteDir, host string) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeTar(pw, localDir))
	}()

	cmd := fmt.Sprintf("mkdir -p '%s' && tar -xf - -C '%s'", remoteDir, remoteDir)
	err := e.stream(host, cmd, pr)
	_ = pr.Close()

	return err
}

// stream runs cmd on host with stdin fed from r.
func (e *SSHExecutor) stream(host, cmd string, r io.Reader) error {
	conn, err := e.getOrDial(host)
	if err != nil {
		return err
	}

	session, err := conn.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	session.Stdin = r
	out, err := session.CombinedOutput(cmd)
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(out))
	}

	LogLevel("debug", "copied to %s with %q", host, cmd)

	return nil
}

// writeTar writes dir as a tar stream with paths relative to dir.
func writeTar(w io.Writer, dir string) error {
	tw := tar.NewWriter(w)

	err := filepath.Walk(dir, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil || rel == "." {
			return err
		}

		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(tw, f)

		return err
	})
	if err != nil {
		return err
	}

	return tw.Close()
}
