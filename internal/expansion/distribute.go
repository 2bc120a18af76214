package expansion

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/gauss-ops/gs-expansion/internal/resources"
	"github.com/gauss-ops/gs-expansion/internal/topology"
)

const defaultEnvFile = "/etc/profile"

// Preinstall sends the software and the install descriptors to the new hosts
// and runs gs_preinstall on them. Any failure is fatal.
func (o *Orchestrator) Preinstall(ctx context.Context) error {
	resources.LogLevel("info", "Start to preinstall database on the new standby nodes.")

	candidates := o.plan.Candidates()
	hosts := addresses(candidates)

	if err := o.sendSoftware(ctx, hosts); err != nil {
		return err
	}
	if err := o.sendDescriptors(candidates); err != nil {
		return err
	}
	if err := o.runPreinstall(hosts); err != nil {
		return err
	}

	for _, h := range candidates {
		o.setState(h, PreinstallDone)
	}
	resources.LogLevel("info", "Successfully preinstall database on the new standby nodes.")

	return nil
}

func (o *Orchestrator) sendSoftware(ctx context.Context, hosts []string) error {
	resources.LogLevel("debug", "Start to send soft to each standby nodes.")

	pkg := o.plan.Cluster.PackagePath
	if err := resources.EnsureRemoteDir(o.exec, pkg, "", hosts...); err != nil {
		return err
	}

	if src := o.plan.Cluster.PackageSource; src != "" {
		if o.opts.Fetcher == nil {
			return fmt.Errorf("no fetcher configured for package source %s", src)
		}

		local, err := o.opts.Fetcher.Download(ctx, src, filepath.Join(o.opts.TmpDir, "package"))
		if err != nil {
			return err
		}

		remote := path.Join(o.opts.TmpDir, filepath.Base(local))
		if err = o.exec.Copy(local, remote, hosts...); err != nil {
			return fmt.Errorf("send package: %w", err)
		}

		res := o.exec.Run(fmt.Sprintf("tar -xf '%s' -C '%s'", remote, pkg), hosts...)
		if failed := res.Failed(); len(failed) > 0 {
			return fmt.Errorf("unpack package on %v:\n%s", failed, res.Output())
		}
	} else if err := o.exec.Copy(pkg, pkg, hosts...); err != nil {
		return fmt.Errorf("send package: %w", err)
	}

	res := o.exec.Run(fmt.Sprintf("chmod -R a+x '%s'", path.Dir(pkg)), hosts...)
	if failed := res.Failed(); len(failed) > 0 {
		return fmt.Errorf("change mode of %s on %v:\n%s", path.Dir(pkg), failed, res.Output())
	}
	resources.LogLevel("debug", "End to send soft to each standby nodes.")

	return nil
}

func (o *Orchestrator) sendDescriptors(candidates []topology.Host) error {
	resources.LogLevel("debug", "Start to generate and send XML file.")

	owner := o.plan.User + ":" + o.plan.Group
	remote := o.remoteDescriptor()

	for _, h := range candidates {
		xml, err := topology.DescribeHost(o.plan, h).XML()
		if err != nil {
			return err
		}

		local := filepath.Join(o.opts.TmpDir, fmt.Sprintf("clusterconfig_%s.xml", h.Name))
		if err = resources.WriteLocalFile(local, xml); err != nil {
			return err
		}

		if err = resources.EnsureRemoteDir(o.exec, o.opts.TmpDir, owner, h.Address()); err != nil {
			return err
		}
		if err = o.exec.Copy(local, remote, h.Address()); err != nil {
			return fmt.Errorf("send descriptor to %s: %w", h.Name, err)
		}

		res := o.exec.Run(fmt.Sprintf("chown %s '%s'", owner, remote), h.Address())
		if !res[h.Address()].OK() {
			return fmt.Errorf("chown descriptor on %s: %s", h.Name, res[h.Address()].Output)
		}
	}
	resources.LogLevel("debug", "End to generate and send XML file.")

	return nil
}

// PreinstallCommand is the gs_preinstall call run on every new host.
func (o *Orchestrator) PreinstallCommand() string {
	cmd := fmt.Sprintf("%s/script/gs_preinstall -U %s -G %s -X %s",
		o.plan.Cluster.PackagePath, o.plan.User, o.plan.Group, o.remoteDescriptor())
	if o.opts.EnvFile != "" && o.opts.EnvFile != defaultEnvFile {
		cmd += " --sep-env-file=" + o.opts.EnvFile
	}

	return cmd + " --non-interactive 2>&1"
}

func (o *Orchestrator) runPreinstall(hosts []string) error {
	res := o.exec.Run(o.PreinstallCommand(), hosts...)
	if failed := res.Failed(); len(failed) > 0 {
		return fmt.Errorf("preinstall failed on %v:\n%s", failed, res.Output())
	}

	return nil
}
