package expansion

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/gauss-ops/gs-expansion/internal/gsctl"
	"github.com/gauss-ops/gs-expansion/internal/resources"
	"github.com/gauss-ops/gs-expansion/internal/topology"
)

// Survivors returns the final membership: existing nodes still listed in the
// membership text and the new hosts that succeeded.
func (o *Orchestrator) Survivors(membership string) *topology.Topology {
	return o.plan.Topology().Without(func(h topology.Host) bool {
		if o.plan.IsNew(h.BackIP) {
			return !o.ledger.Succeeded(h.Name)
		}
		if !gsctl.HasInstance(membership, h.Name, h.BackIP, h.DataDir) {
			resources.LogLevel("debug", "The node ip [%s] will not be added to cluster.", h.BackIP)
			return true
		}

		return false
	})
}

// PublishStaticConfig regenerates the membership file of every survivor and
// sends it to the bin directory of that node.
func (o *Orchestrator) PublishStaticConfig() error {
	resources.LogLevel("info", "Start to generate and send cluster static file.")

	membership, err := o.ctl.QueryClusterMembership(o.plan.Topology().Primary())
	if err != nil {
		return err
	}

	survivors := o.Survivors(membership)
	bin := path.Join(o.plan.Cluster.AppPath, "bin")

	for _, h := range survivors.Hosts() {
		cfg, err := topology.StaticConfigFor(o.plan.Cluster.Name, survivors, h)
		if err != nil {
			return err
		}
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}

		local := filepath.Join(o.opts.StaticConfigDir, fmt.Sprintf("cluster_static_config_%s", h.Name))
		if err = resources.WriteLocalFile(local, string(data)); err != nil {
			return fmt.Errorf("generate static file %s: %w", local, err)
		}

		if err = o.exec.Copy(local, path.Join(bin, "cluster_static_config"), h.Address()); err != nil {
			resources.LogLevel("warn", "send static config to %s: %v", h.Name, err)
			continue
		}

		if resources.RemoteFileExists(o.exec, path.Join(bin, "cluster_dynamic_config"), h.Address()) {
			if err = o.ctl.RefreshConf(h.Address()); err != nil {
				resources.LogLevel("warn", "%v", err)
			}
		}
	}
	resources.LogLevel("debug", "End to generate and send cluster static file.")

	return nil
}
